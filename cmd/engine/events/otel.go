package events

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanEmitter records each event as an OpenTelemetry span. Events are
// points in time, so spans are ended immediately; the batch span
// processor handles export.
type SpanEmitter struct {
	tracer trace.Tracer
}

func NewSpanEmitter(tracer trace.Tracer) *SpanEmitter {
	return &SpanEmitter{tracer: tracer}
}

func (s *SpanEmitter) Emit(ctx context.Context, e Event) {
	_, span := s.tracer.Start(ctx, string(e.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("weft.channel", e.Channel),
		attribute.Int64("weft.ts", e.Timestamp),
	)
	for key, value := range e.Payload {
		attrKey := "weft." + key
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
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}

	if msg, ok := e.Payload["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	}
}

// Flush forces export of buffered spans. Call before shutdown.
func (s *SpanEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
