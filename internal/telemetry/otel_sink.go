package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OtelSink records every telemetry event as a zero-duration span on
// tracerName, so event timelines show up alongside any distributed traces
// the backend or workflow engine produce.
type OtelSink struct {
	tracer trace.Tracer
}

// NewOtelSink builds a sink backed by the global OpenTelemetry tracer
// provider under tracerName.
func NewOtelSink(tracerName string) *OtelSink {
	return &OtelSink{tracer: otel.Tracer(tracerName)}
}

// Handle implements Sink.
func (s *OtelSink) Handle(event Event) {
	_, span := s.tracer.Start(context.Background(), event.Name)
	defer span.End()

	attrs := make([]attribute.KeyValue, 0, len(event.Payload)+1)
	attrs = append(attrs, attribute.String("telemetry.level", string(event.Level)))
	for k, v := range event.Payload {
		attrs = append(attrs, attribute.String(k, toAttrString(v)))
	}
	span.SetAttributes(attrs...)
}

func toAttrString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case error:
		return s.Error()
	default:
		return fmt.Sprintf("%v", s)
	}
}
