package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" ERROR ": zapcore.ErrorLevel,
		"panic":   zapcore.PanicLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextHelpers checks that named and annotated loggers travel through the context.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	ctx = WithName(ctx, "poller")
	ctx = WithKV(ctx, "device_id", "dev-1")
	ctx = WithFields(ctx, zap.Int("attempt", 2))

	InfoKV(ctx, "Tick", "ok", true)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "poller", entries[0].LoggerName)
	require.Equal(t, "Tick", entries[0].Message)

	fields := entries[0].ContextMap()
	require.Equal(t, "dev-1", fields["device_id"])
	require.EqualValues(t, 2, fields["attempt"])
	require.Equal(t, true, fields["ok"])
}

// TestFromContextFallsBackToGlobal ensures a bare context yields the global logger.
func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestConfigureRejectsUnknownValues verifies validation of level and format names.
func TestConfigureRejectsUnknownValues(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Configure("chatty", FormatConsole), errUnknownLevel)
	require.ErrorIs(t, Configure("info", "xml"), errUnknownFormat)
}
