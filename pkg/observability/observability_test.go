package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TracingDisabledWithoutEndpoint(t *testing.T) {
	p, err := New(context.Background(), Config{LogLevel: "DEBUG"})
	require.NoError(t, err)

	assert.NotNil(t, p.Logger())
	assert.NotNil(t, p.Tracer())
	assert.Len(t, p.RunID(), 8)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_DistinctRunIDs(t *testing.T) {
	a, err := New(context.Background(), Config{})
	require.NoError(t, err)
	b, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
