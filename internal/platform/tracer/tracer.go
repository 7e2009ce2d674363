// Package tracer is a thin span abstraction over OpenTelemetry so services can
// be traced in production and run without a provider in tests.
package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span)
}

// Span is ended exactly once; a non-nil error marks the span failed.
type Span interface {
	End(err error)
	SetAttributes(attrs ...attribute.KeyValue)
}

// OTel adapts an OpenTelemetry tracer.
type OTel struct {
	tracer trace.Tracer
}

// NewOTel returns a tracer from t, or from the global provider under
// instrumentation name "qcgate" when t is nil.
func NewOTel(t trace.Tracer) *OTel {
	if t == nil {
		t = otel.Tracer("qcgate")
	}
	return &OTel{tracer: t}
}

func (t *OTel) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// Noop discards spans.
type Noop struct{}

func (Noop) Start(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                           {}
func (noopSpan) SetAttributes(...attribute.KeyValue) {}

var (
	_ Tracer = (*OTel)(nil)
	_ Tracer = Noop{}
)
