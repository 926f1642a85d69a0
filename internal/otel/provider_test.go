package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.Equal(t, noop.Meter{}, p.Meter("x"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))

	rm, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, Sums(rm))
}

func TestNew_EnabledWithoutExporter(t *testing.T) {
	_, err := New(Config{Enabled: true})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_WithLogWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, LogWriter: &buf})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.True(t, p.Enabled())
	assert.NotNil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
}

func TestMeter_CountersAreCollected(t *testing.T) {
	p, err := New(Config{Enabled: true, LogWriter: &bytes.Buffer{}})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	c, err := p.Meter("test").Int64Counter("timeline.edits")
	require.NoError(t, err)
	c.Add(ctx, 2)
	c.Add(ctx, 3)

	rm, err := p.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), Sums(rm)["timeline.edits"])
}
