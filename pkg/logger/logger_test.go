package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestWithModuleBeforeInitIsSafe(t *testing.T) {
	require.NotNil(t, WithModule("bootstrap"))
}

func TestInitFallsBackToInfoOnUnknownLevel(t *testing.T) {
	require.NoError(t, Init("verbose"))

	core := Logger().Core()
	require.True(t, core.Enabled(zapcore.InfoLevel))
	require.False(t, core.Enabled(zapcore.DebugLevel))
}

func TestInitHonoursRequestedLevel(t *testing.T) {
	require.NoError(t, Init("warn"))

	core := Logger().Core()
	require.True(t, core.Enabled(zapcore.WarnLevel))
	require.False(t, core.Enabled(zapcore.InfoLevel))
}
