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
	tracerName             = "todo-api/api"
	observabilityEventName = "observability.event"
	todosEventName         = "todos.request"
	todosEventDomain       = "todo-api"
)

type requestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	op             string
	method         string
	route          string
	start          time.Time
	decodeDuration time.Duration
	storeDuration  time.Duration
	encodeDuration time.Duration
	todoID         int64
	hasTodoID      bool
	todosReturned  int
	notFound       bool
	errorStage     string
	err            error
}

// newRequestMetrics starts a span for one todo request. The returned context
// carries the span and should be used for the rest of the request.
func newRequestMetrics(ctx context.Context, logger *log.Logger, op, method, route string) (*requestMetrics, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, "todos."+op, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		op:     op,
		method: method,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveDecode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.decodeDuration = duration
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *requestMetrics) SetTodoID(id int64) {
	m.todoID = id
	m.hasTodoID = true
}

func (m *requestMetrics) SetTodosReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.todosReturned = count
}

func (m *requestMetrics) SetNotFound() {
	m.notFound = true
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Fail records the stage and cause of a failed request.
func (m *requestMetrics) Fail(stage string, err error) {
	m.SetErrorStage(stage)
	if err != nil {
		m.err = err
	}
}

// Log ends the span and writes one structured event for the request.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}

	attrs := m.attributes(status, err)
	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", todosEventName),
			attribute.String("event.domain", todosEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.AddEvent(observabilityEventName, trace.WithAttributes(eventAttrs...))
		m.span.SetAttributes(
			attribute.String("http.route", m.route),
			attribute.String("http.method", m.method),
			attribute.Int("http.status_code", status),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("todos.error_stage", m.errorStage))
		}
		if severityText == "ERROR" {
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
		"event.name":      todosEventName,
		"event.domain":    todosEventDomain,
		"route":           m.route,
		"status":          status,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToFields(attrs),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityEventName)
}

func (m *requestMetrics) attributes(status int, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.String("todos.operation", m.op),
		attribute.Float64("todos.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Bool("todos.not_found", m.notFound),
	}
	if m.hasTodoID {
		attrs = append(attrs, attribute.Int64("todos.id", m.todoID))
	}
	if m.op == opList {
		attrs = append(attrs, attribute.Int("todos.returned", m.todosReturned))
	}
	if m.decodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("todos.decode_ms", durationToMillis(m.decodeDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("todos.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("todos.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("todos.error_stage", m.errorStage))
	}
	return attrs
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

// severityForStatus maps a response to OpenTelemetry log severity.
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

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
