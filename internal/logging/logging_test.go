package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	l, err := New(false, false)
	require.NoError(t, err)
	require.False(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))

	l, err = New(true, true)
	require.NoError(t, err)
	require.True(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
	l, err := New(false, false)
	require.NoError(t, err)
	require.Same(t, l, OrNop(l))
}
