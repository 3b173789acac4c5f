package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/care/emr/internal/platform/taskqueue"
)

func TestTemplateEngine_RenderOTP(t *testing.T) {
	e := NewTemplateEngine()
	body, err := e.Render(TemplateOTP, map[string]string{"otp": "12345", "minutes": "30"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(body, "12345 is your OTP") || !strings.Contains(body, "30 minutes") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTemplateEngine_Unknown(t *testing.T) {
	if _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeyLeftAsIs(t *testing.T) {
	body, _ := NewTemplateEngine().Render(TemplateOTP, map[string]string{"otp": "12345"})
	if !strings.Contains(body, "{{minutes}}") {
		t.Errorf("expected placeholder to remain, got %q", body)
	}
}

func TestQueueSMSSender(t *testing.T) {
	pub := taskqueue.NewMemoryPublisher()
	if err := NewQueueSMSSender(pub).SendSMS(context.Background(), "+911234567890", "hello"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	tasks := pub.Tasks()
	if len(tasks) != 1 || tasks[0].Task != taskqueue.TaskSendSMS {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	var p smsTask
	if err := json.Unmarshal(tasks[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.PhoneNumber != "+911234567890" || p.Message != "hello" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestHTTPSMSSender(t *testing.T) {
	var gotAuth string
	var got smsTask
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	if err := NewHTTPSMSSender(srv.URL, "secret").SendSMS(context.Background(), "+91999", "otp"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if got.PhoneNumber != "+91999" {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestHTTPSMSSender_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"status":"error","message":"invalid number"}`))
	}))
	defer srv.Close()

	err := NewHTTPSMSSender(srv.URL, "k").SendSMS(context.Background(), "bad", "x")
	if err == nil || !strings.Contains(err.Error(), "invalid number") {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestLogSMSSender(t *testing.T) {
	var buf strings.Builder
	s := NewLogSMSSender(zerolog.New(&buf))
	if err := s.SendSMS(context.Background(), "+91", "hi"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if !strings.Contains(buf.String(), `"phone_number":"+91"`) {
		t.Errorf("expected log line, got %s", buf.String())
	}
}

func TestMockSMSSender(t *testing.T) {
	m := &MockSMSSender{}
	m.SendSMS(context.Background(), "a", "b")
	if len(m.Calls()) != 1 {
		t.Fatalf("expected 1 call")
	}
	m.ShouldFail, m.FailError = true, "down"
	if err := m.SendSMS(context.Background(), "a", "b"); err == nil || err.Error() != "down" {
		t.Errorf("expected configured failure, got %v", err)
	}
}
