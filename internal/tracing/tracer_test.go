package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(DefaultConfig())
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), SpanRound)
	assert.False(t, span.SpanContext().IsValid(), "no-op spans carry no context")
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_EnabledWithoutExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = ExporterNone

	p, err := NewProvider(cfg)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.True(t, p.Enabled())
	ctx, round := p.Tracer().Start(context.Background(), SpanRound)
	_, stage := p.Tracer().Start(ctx, SpanStage)
	assert.True(t, stage.SpanContext().IsValid())
	assert.Equal(t, round.SpanContext().TraceID(), stage.SpanContext().TraceID())
	stage.End()
	round.End()
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"

	_, err := NewProvider(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestNoop(t *testing.T) {
	p := Noop()
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer())
}
