package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	lvl, ok := ParseLogLevel(" DEBUG ")
	require.True(t, ok)
	require.Equal(t, zapcore.DebugLevel, lvl)

	lvl, ok = ParseLogLevel("warning")
	require.True(t, ok)
	require.Equal(t, zapcore.WarnLevel, lvl)

	lvl, ok = ParseLogLevel("loud")
	require.False(t, ok)
	require.Equal(t, zapcore.WarnLevel, lvl)
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(zapcore.DebugLevel, &buf)

	ctx := WithKV(ToContext(context.Background(), l), "op", "install")
	DebugKV(ctx, "fetching release", "tag", "1.62.0")
	require.NoError(t, FromContext(ctx).Sync())

	out := buf.String()
	require.Contains(t, out, "fetching release")
	require.Contains(t, out, `"op": "install"`)
	require.Contains(t, out, `"tag": "1.62.0"`)
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}
