package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	tp := NewProvider(Config{ServiceName: "emr-test"}, sdktrace.WithSpanProcessor(sr))
	return sr, tp
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_RecordsRouteSpan(t *testing.T) {
	sr, tp := newRecorder()
	e := echo.New()
	e.Use(Middleware(tp))
	e.GET("/api/v1/slots/:id", func(c echo.Context) error {
		if !trace.SpanFromContext(c.Request().Context()).SpanContext().IsValid() {
			t.Error("handler context should carry the request span")
		}
		return c.NoContent(http.StatusOK)
	})

	serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/slots/42", nil))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "GET /api/v1/slots/:id" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.SpanKind() != trace.SpanKindServer {
		t.Errorf("span kind = %v", s.SpanKind())
	}
	if v, ok := attr(s, "http.response.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("status attribute = %v (present %v)", v.AsInt64(), ok)
	}
	if s.Status().Code == codes.Error {
		t.Error("successful request should not be marked as error")
	}
}

func TestMiddleware_MarksServerErrors(t *testing.T) {
	sr, tp := newRecorder()
	e := echo.New()
	e.Use(Middleware(tp))
	e.GET("/boom", func(echo.Context) error { return errors.New("db down") })
	e.GET("/missing", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) })

	serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	serve(e, httptest.NewRequest(http.MethodGet, "/missing", nil))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Error("unhandled error should mark the span as error")
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
	if spans[1].Status().Code == codes.Error {
		t.Error("4xx should not mark the span as error")
	}
	if v, _ := attr(spans[1], "http.response.status_code"); v.AsInt64() != 404 {
		t.Errorf("status attribute = %d", v.AsInt64())
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sr, tp := newRecorder()
	e := echo.New()
	e.Use(Middleware(tp))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	serve(e, req)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s", got)
	}
	if got := spans[0].Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span id = %s", got)
	}
}

func TestSetup_Exporters(t *testing.T) {
	shutdown, err := Setup(Config{Exporter: ExporterNone})
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("none shutdown: %v", err)
	}

	if _, err := Setup(Config{Exporter: "zipkin"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}

	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err = Setup(Config{ServiceName: "emr-test", Exporter: ExporterStdout, Writer: &buf})
	if err != nil {
		t.Fatalf("stdout: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "scheduling.book")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("stdout shutdown: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("scheduling.book")) {
		t.Errorf("expected exported span in output, got %q", buf.String())
	}
}
