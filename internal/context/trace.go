// Package context carries the cross-cutting correlation data attached to
// every payment backend call.
package context

import (
	stdcontext "context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type traceKey struct{}

// TraceContext carries only cross-cutting concerns needed for observability.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs and backend correlation
	SpanID  string            // Current span identifier
	Baggage map[string]string // Optional key-value flags (e.g., session id)

	stdCtx stdcontext.Context
}

// NewTraceContext creates a TraceContext bound to ctx. When ctx carries a
// valid OpenTelemetry span its ids are reused, otherwise fresh ones are minted.
func NewTraceContext(ctx stdcontext.Context) TraceContext {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	tc := TraceContext{
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Baggage: make(map[string]string),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		tc.TraceID = sc.TraceID().String()
		tc.SpanID = sc.SpanID().String()
	}
	tc.stdCtx = stdcontext.WithValue(ctx, traceKey{}, tc)
	return tc
}

// FromContext returns the TraceContext stored in ctx, creating one if absent.
func FromContext(ctx stdcontext.Context) TraceContext {
	if ctx != nil {
		if tc, ok := ctx.Value(traceKey{}).(TraceContext); ok {
			tc.stdCtx = ctx
			return tc
		}
	}
	return NewTraceContext(ctx)
}

// Context returns the standard context the trace is bound to.
func (tc TraceContext) Context() stdcontext.Context {
	if tc.stdCtx == nil {
		return stdcontext.Background()
	}
	return tc.stdCtx
}

// NewSpan generates a new SpanID for a child operation within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}

// WithBaggage returns a copy of ctx whose TraceContext carries key=value.
func WithBaggage(ctx stdcontext.Context, key, value string) stdcontext.Context {
	tc := FromContext(ctx)
	baggage := make(map[string]string, len(tc.Baggage)+1)
	for k, v := range tc.Baggage {
		baggage[k] = v
	}
	baggage[key] = value
	tc.Baggage = baggage
	return stdcontext.WithValue(tc.Context(), traceKey{}, tc)
}
