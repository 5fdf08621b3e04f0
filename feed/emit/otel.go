package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes an instantaneous span with:
//   - Span name: event.Msg (e.g., "request_served", "file_downloaded")
//   - Attributes: gfeed.request_id, gfeed.path, gfeed.kind and all Meta fields
//   - Status: Error if event.Meta["error"] is a string
//
// HTTP request spans themselves come from otelhttp in cmd/gfeed; the events
// emitted here annotate what the handler did inside them.
//
// Usage:
//
//	tracer := otel.Tracer("gfeed")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates a new OTelEmitter.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates an OpenTelemetry span for the event and ends it immediately.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitContext is like Emit but parents the span to the span in ctx, if any.
func (o *OTelEmitter) EmitContext(ctx context.Context, event Event) {
	o.emit(ctx, event)
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// Flush forces export of all pending spans.
//
// Should be called before application shutdown. Returns nil when the global
// tracer provider does not support flushing (e.g. the noop provider).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addStandardAttributes adds core event fields as span attributes.
func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("gfeed.request_id", event.RequestID),
		attribute.String("gfeed.path", event.Path),
		attribute.String("gfeed.kind", event.Kind),
	)
}

// addMetadataAttributes converts event metadata to span attributes.
//
// Handles string, int, int64, float64, bool and time.Duration (as
// milliseconds). Other types are converted with %v.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "gfeed." + key
		switch key {
		case "status":
			attrKey = "http.response.status_code"
		case "bytes":
			attrKey = "http.response.body.size"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
