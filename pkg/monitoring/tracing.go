package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const tracerName = "chrony-operator"

// Span attribute keys set by the operator.
const (
	AttrEvent     = attribute.Key("chrony.event")
	AttrNamespace = attribute.Key("chrony.keychain.namespace")
	AttrRequest   = attribute.Key("chrony.ca.request")
)

// Tracer is used for every operator span. Without a registered
// TracerProvider the global noop provider is used.
var Tracer = otel.Tracer(tracerName)

// StartReconcileSpan opens the root span of a pass triggered by event on the
// keychain namespace. The caller ends the span.
func StartReconcileSpan(ctx context.Context, spanName, event, namespace string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, spanName, trace.WithAttributes(
		AttrEvent.String(event),
		AttrNamespace.String(namespace),
	))
}

// StartChildSpan opens a span for one step of a pass, such as applying the
// chrony configuration or sending a CA request.
func StartChildSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if len(attrs) == 0 {
		return Tracer.Start(ctx, spanName)
	}
	return Tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordSpanError marks span as failed with err. A nil err leaves the span
// untouched.
func RecordSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// EnrichLoggerWithTrace returns ctx with a logger carrying the trace_id and
// span_id of the active span, if any.
func EnrichLoggerWithTrace(ctx context.Context) context.Context {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ctx
	}
	return log.IntoContext(ctx, log.FromContext(ctx).WithValues(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	))
}
