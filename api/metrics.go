package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "taskboard-api/api"
	requestSpanName = "http.request"
	metricsMessage  = "http.request.metrics"
	metricsKey      = "metrics"
)

type requestMetrics struct {
	logger       *log.Logger
	span         trace.Span
	start        time.Time
	method       string
	route        string
	user         string
	authDuration time.Duration
	errorStage   string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		method: method,
		route:  route,
	}, ctx
}

// metricsFrom returns the request's metrics, or a detached recorder when the
// Telemetry middleware is not installed.
func metricsFrom(c echo.Context) *requestMetrics {
	if m, ok := c.Get(metricsKey).(*requestMetrics); ok {
		return m
	}
	return &requestMetrics{}
}

func setErrorStage(c echo.Context, stage string) {
	metricsFrom(c).SetErrorStage(stage)
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) SetUser(user string) { m.user = user }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log writes one metrics line and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	total := time.Since(m.start)

	fields := log.Fields{
		"method":   m.method,
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(total),
	}
	if m.user != "" {
		fields["user"] = m.user
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		attrs := []attribute.KeyValue{
			attribute.String("http.method", m.method),
			attribute.String("http.route", m.route),
			attribute.Int("http.status_code", status),
			attribute.Float64("taskboard.total_ms", durationToMillis(total)),
		}
		if m.user != "" {
			attrs = append(attrs, attribute.String("taskboard.user", m.user))
		}
		if m.errorStage != "" {
			attrs = append(attrs, attribute.String("taskboard.error_stage", m.errorStage))
		}
		m.span.SetAttributes(attrs...)
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				m.span.RecordError(err)
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		m.span.End()
	}

	entry := m.logger.WithFields(fields)
	switch severity, _ := severityForStatus(status, err); severity {
	case "ERROR":
		entry.Error(metricsMessage)
	case "WARN":
		entry.Warn(metricsMessage)
	default:
		entry.Info(metricsMessage)
	}
}

// severityForStatus maps a response to an OpenTelemetry severity text and
// number.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// Telemetry records a span and a metrics line for every request.
func Telemetry(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, c.Path())
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsKey, m)
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.Log(c.Response().Status, err)
			return nil
		}
	}
}
