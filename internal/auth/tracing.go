package auth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer はグローバルTracerProviderに委譲する。トレーシング無効時はno-op。
var tracer = otel.Tracer("github.com/hitoshi/passport/internal/auth")

func spanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
