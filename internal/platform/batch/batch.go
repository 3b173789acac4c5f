// Package batch executes several API calls as one unit. Sub-requests run
// serially through the application router inside a single transaction and
// with the caller's identity; any failed sub-request rolls the whole batch
// back.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
	"github.com/care/emr/internal/platform/middleware"
)

const (
	MaxRequests = 20
	// Prefix is prepended to sub-request URLs that do not already carry it.
	Prefix = "/api/v1"
	path   = "/batch_requests"
)

var (
	errRollback   = errors.New("batch: sub-request failed")
	errSubRequest = errors.New("batch: sub-request rolled back")
)

// Context values set by global middleware that handlers read back.
var inheritedKeys = []string{"request_id", "tenant_id", "jwt_tenant_id"}

type Request struct {
	URL         string          `json:"url"`
	Method      string          `json:"method"`
	Body        json.RawMessage `json:"body"`
	ReferenceID string          `json:"reference_id"`
}

type Result struct {
	ReferenceID string          `json:"reference_id"`
	StatusCode  int             `json:"status_code"`
	Data        json.RawMessage `json:"data"`
}

type Input struct {
	Requests []Request `json:"requests"`
}

type Output struct {
	Results []Result `json:"results"`
}

type Handler struct {
	e      *echo.Echo
	tx     db.Transactor
	logger zerolog.Logger
}

// NewHandler dispatches sub-requests to the routes registered on e.
func NewHandler(e *echo.Echo, tx db.Transactor, logger zerolog.Logger) *Handler {
	return &Handler{e: e, tx: tx, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST(path, h.Execute)
}

var methods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

func target(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Path == "" {
		return nil, fmt.Errorf("invalid url %q", raw)
	}
	p := "/" + strings.TrimPrefix(u.Path, "/")
	if !strings.HasPrefix(p, Prefix+"/") {
		p = Prefix + p
	}
	u.Path = p
	return u, nil
}

func validate(in Input) ([]*url.URL, error) {
	if len(in.Requests) == 0 || len(in.Requests) > MaxRequests {
		return nil, apperr.Validation(fmt.Sprintf("requests must contain between 1 and %d items", MaxRequests),
			apperr.FieldError{Type: "value_error", Loc: "requests", Msg: "Invalid number of requests"})
	}
	targets := make([]*url.URL, len(in.Requests))
	for i, r := range in.Requests {
		loc := fmt.Sprintf("requests.%d", i)
		if !methods[strings.ToUpper(r.Method)] {
			return nil, apperr.Validation("invalid method", apperr.FieldError{Type: "value_error", Loc: loc + ".method", Msg: "Invalid method"})
		}
		u, err := target(r.URL)
		if err != nil {
			return nil, apperr.Validation(err.Error(), apperr.FieldError{Type: "value_error", Loc: loc + ".url", Msg: "Invalid url"})
		}
		if strings.TrimSuffix(u.Path, "/") == Prefix+path {
			return nil, apperr.Validation("nested batch requests are not allowed",
				apperr.FieldError{Type: "value_error", Loc: loc + ".url", Msg: "Nested batch requests are not allowed"})
		}
		targets[i] = u
	}
	return targets, nil
}

// Execute handles POST /batch_requests. Every sub-request runs in its own
// nested unit of work, so a failed one is rolled back on its own and the rest
// still run and report results. The batch transaction is then rolled back and
// the response is 400.
func (h *Handler) Execute(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	targets, err := validate(in)
	if err != nil {
		return err
	}

	results := make([]Result, 0, len(in.Requests))
	err = h.tx.InTx(c.Request().Context(), func(ctx context.Context) error {
		failed := false
		for i, r := range in.Requests {
			var res Result
			err := h.tx.InTx(ctx, func(ctx context.Context) error {
				res = h.dispatch(c, ctx, r, targets[i])
				if res.StatusCode >= http.StatusMultipleChoices {
					return errSubRequest
				}
				return nil
			})
			if errors.Is(err, errSubRequest) {
				failed = true
			} else if err != nil {
				return err
			}
			results = append(results, res)
		}
		if failed {
			return errRollback
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		h.logger.Info().Int("requests", len(results)).Msg("batch rolled back")
		return c.JSON(http.StatusBadRequest, Output{Results: results})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Output{Results: results})
}

func (h *Handler) dispatch(parent echo.Context, ctx context.Context, r Request, u *url.URL) (res Result) {
	res.ReferenceID = r.ReferenceID
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error().Str("panic", fmt.Sprintf("%v", p)).Str("url", u.String()).Msg("batch sub-request panicked")
			res.StatusCode = http.StatusInternalServerError
			res.Data = json.RawMessage(`{"detail":"server_error"}`)
		}
	}()

	var body []byte
	if len(r.Body) > 0 && string(r.Body) != "null" {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(r.Method), u.String(), bytes.NewReader(body))
	if err != nil {
		res.StatusCode = http.StatusBadRequest
		res.Data = json.RawMessage(`{"detail":"invalid request"}`)
		return res
	}
	req.Header = parent.Request().Header.Clone()
	req.Header.Del(echo.HeaderContentLength)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	sub := h.e.NewContext(req, rec)
	for _, k := range inheritedKeys {
		if v := parent.Get(k); v != nil {
			sub.Set(k, v)
		}
	}
	h.e.Router().Find(req.Method, req.URL.Path, sub)
	if err := sub.Handler()(sub); err != nil && !sub.Response().Committed {
		status, payload := middleware.Render(err)
		_ = sub.JSON(status, payload)
	}

	res.StatusCode = rec.Code
	res.Data = json.RawMessage(bytes.TrimSpace(rec.Body.Bytes()))
	if len(res.Data) == 0 || !json.Valid(res.Data) {
		res.Data = json.RawMessage("null")
	}
	return res
}
