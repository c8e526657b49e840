package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"projectflow/pkg/config"
)

func TestMQHeaderCarrierRoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := map[string]interface{}{}
	prop := propagation.TraceContext{}
	prop.Inject(ctx, NewMQHeaderCarrier(headers))
	require.Contains(t, headers, "traceparent")

	extracted := prop.Extract(context.Background(), NewMQHeaderCarrier(headers))
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}

func TestMQHeaderCarrierIgnoresNonString(t *testing.T) {
	c := NewMQHeaderCarrier(map[string]interface{}{"x-retry": int32(3)})
	assert.Equal(t, "", c.Get("x-retry"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"x-retry"}, c.Keys())
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(config.OtelConfig{Enabled: false}, "test", zap.NewNop())
	require.NoError(t, err)
	shutdown()

	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}
