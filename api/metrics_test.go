package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTelemetryRecordsSpanAndLogLine(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	e := echo.New()
	e.Use(Telemetry(logger))
	e.GET("/api/things/:id", func(c echo.Context) error {
		metricsFrom(c).SetUser("alice")
		return c.NoContent(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/things/42", nil))

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != metricsMessage {
		t.Fatalf("expected metrics entry, got %+v", entry)
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if entry.Data["route"] != "/api/things/:id" || entry.Data["status"] != http.StatusOK || entry.Data["user"] != "alice" {
		t.Fatalf("unexpected fields: %#v", entry.Data)
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != requestSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["http.route"] != "/api/things/:id" {
		t.Fatalf("span route attribute mismatch: %#v", attrs["http.route"])
	}
	if code, ok := attrs["http.status_code"].(int64); !ok || code != int64(http.StatusOK) {
		t.Fatalf("unexpected http.status_code on span: %#v", attrs["http.status_code"])
	}
	if attrs["taskboard.user"] != "alice" {
		t.Fatalf("unexpected user attribute: %#v", attrs["taskboard.user"])
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}
}

func TestTelemetryHandlesReturnedErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	e := echo.New()
	e.Use(Telemetry(logger))
	boom := errors.New("storage failure")
	e.GET("/fail", func(c echo.Context) error {
		setErrorStage(c, "storage")
		return boom
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	entry := hook.LastEntry()
	if entry.Level != log.ErrorLevel || entry.Data["error_stage"] != "storage" || entry.Data["error"] != boom.Error() {
		t.Fatalf("unexpected entry: %v %#v", entry.Level, entry.Data)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected one errored span, got %#v", spans)
	}
	if attributesToMap(spans[0].Attributes)["taskboard.error_stage"] != "storage" {
		t.Fatalf("expected error stage on span")
	}
}

func TestUnauthorizedRequestIsLoggedAsWarning(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := echo.New()
	Register(e, Services{}, nil, headerAuth{}, nil, Options{}, logger)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel || entry.Data["error_stage"] != "auth" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusBadRequest, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusInternalServerError, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: 0, err: errors.New("error"), wantText: "ERROR", wantNumber: 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}

func TestDurationToMillis(t *testing.T) {
	if got := durationToMillis(1500 * time.Microsecond); got != 1.5 {
		t.Fatalf("durationToMillis = %v", got)
	}
	if got := durationToMillis(-time.Second); got != 0 {
		t.Fatalf("negative duration = %v", got)
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
