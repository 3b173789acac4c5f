package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindForbidden, http.StatusForbidden},
		{KindConflict, http.StatusConflict},
		{KindCapacityExceeded, http.StatusBadRequest},
		{KindRateLimited, http.StatusBadRequest},
		{KindLocked, http.StatusNotAcceptable},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Status(); got != tt.want {
				t.Errorf("Status() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorsIs_MatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("get encounter: %w", NotFound("encounter"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected wrapped NotFound to match ErrNotFound")
	}
	if errors.Is(err, ErrForbidden) {
		t.Error("NotFound must not match ErrForbidden")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf = %s, want NOT_FOUND", KindOf(err))
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("plain errors should map to INTERNAL")
	}
}

func TestBody_RateLimited(t *testing.T) {
	body := RateLimited("phone_number", "Max Retries has exceeded").Body()
	if body["phone_number"] != "Max Retries has exceeded" {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["detail"]; ok {
		t.Error("rate limited body should be field keyed only")
	}
}

func TestBody_Validation(t *testing.T) {
	e := Validation("invalid submission",
		FieldError{Type: "values_missing", Msg: "required", Question: "q1"},
		FieldError{Type: "invalid_value", Msg: "not an integer", Question: "q2"},
	)
	errs, ok := e.Body()["errors"].([]FieldError)
	if !ok || len(errs) != 2 {
		t.Fatalf("expected 2 field errors, got %v", e.Body())
	}
	if errs[1].Question != "q2" {
		t.Errorf("unexpected second error: %+v", errs[1])
	}
}

func TestBody_ValidationWithoutItems(t *testing.T) {
	errs := Validation("slot size must be positive").Body()["errors"].([]FieldError)
	if len(errs) != 1 || errs[0].Msg != "slot size must be positive" {
		t.Errorf("unexpected errors: %+v", errs)
	}
}

func TestBody_Locked(t *testing.T) {
	body := Locked("discharge summary is already being generated", 40).Body()
	if body["progress"] != 40 {
		t.Errorf("expected progress 40, got %v", body["progress"])
	}
	if body["detail"] == "" {
		t.Error("expected detail message")
	}
}

func TestBody_InternalHidesCause(t *testing.T) {
	body := Internal(errors.New("pq: relation missing")).Body()
	if body["detail"] != "server_error" {
		t.Errorf("expected server_error detail, got %v", body["detail"])
	}
}

func TestError_Message(t *testing.T) {
	err := Wrap(KindConflict, "duplicate membership", errors.New("23505"))
	if err.Error() != "duplicate membership: 23505" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if (&Error{Kind: KindForbidden}).Error() != "FORBIDDEN" {
		t.Error("expected kind name when message is empty")
	}
}
