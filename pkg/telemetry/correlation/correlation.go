package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// MetadataKey is the message metadata key carrying the correlation id.
const MetadataKey = "correlation_id"

// correlationKey is an unexported type for context keys within this package.
type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// InjectIntoMetadata writes correlation and tracing identifiers into message metadata.
func InjectIntoMetadata(ctx context.Context, md map[string]string) {
	if md == nil {
		return
	}
	_, cid := EnsureCorrelationID(ctx)
	md[MetadataKey] = cid

	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		md["trace_id"] = sc.TraceID().String()
		md["span_id"] = sc.SpanID().String()
	}
}

// ContextFromMetadata restores the correlation id carried by message metadata.
func ContextFromMetadata(ctx context.Context, md map[string]string) context.Context {
	if md == nil {
		return ctx
	}
	return ContextWithCorrelationID(ctx, md[MetadataKey])
}
