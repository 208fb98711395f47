package ports

import "context"

// SpanConfig holds optional span settings.
type SpanConfig struct {
	// Attributes are initial key-value pairs for the span.
	Attributes map[string]any
}

// SpanOption configures a span at start time.
type SpanOption func(*SpanConfig)

// WithAttribute attaches an initial attribute to a span.
func WithAttribute(key string, value any) SpanOption {
	return func(cfg *SpanConfig) {
		if cfg.Attributes == nil {
			cfg.Attributes = make(map[string]any)
		}
		cfg.Attributes[key] = value
	}
}

// Span is one traced operation.
type Span interface {
	// End completes the span.
	End()

	// RecordError records an error for the span.
	RecordError(err error)

	// SetAttribute adds a key-value pair to the span.
	SetAttribute(key string, value any)
}

// Tracer creates spans for build phases and units.
//
//go:generate mockgen -source=tracer.go -destination=mocks/mock_tracer.go -package=mocks
type Tracer interface {
	// Start creates a new span as a child of the span in ctx.
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// EmitPlan records the planned unit list on the current span.
	EmitPlan(ctx context.Context, unitNames []string)
}
