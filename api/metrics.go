package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/Qualiasolutions/qualia-erp-sub000/api"
	requestSpanName    = "board.request"
	requestEventName   = "board.request.metrics"
	requestEventDomain = "board"
	observabilityEvent = "observability.event"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	table         string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	records       int
	errorStage    string
}

// newRequestMetrics starts a span for the request and returns the context
// carrying it.
func newRequestMetrics(ctx context.Context, logger *log.Logger, route, table string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		table:  table,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *requestMetrics) SetRecords(n int) {
	if n < 0 {
		n = 0
	}
	m.records = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes one structured line for the request.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severity, number := severityForStatus(status, err)
	attrs := map[string]any{
		"http.route":        m.route,
		"http.status_code":  status,
		"board.table":       m.table,
		"board.records":     m.records,
		"board.total_ms":    durationToMillis(time.Since(m.start)),
		"board.auth_ms":     durationToMillis(m.authDuration),
		"board.store_ms":    durationToMillis(m.storeDuration),
		"board.error_stage": m.errorStage,
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	if m.span != nil {
		kv := toKeyValues(attrs)
		m.span.SetAttributes(kv...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(append(kv,
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severity),
		)...))
		if number >= 17 {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severity,
		"severity_number": number,
		"attributes":      attrs,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= 500 || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			if val == "" {
				continue
			}
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
