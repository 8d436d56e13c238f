package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/SteveJiangWorkPlace/otium/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		configured string
		want       slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo}, // unknown falls back to info
		{"", slog.LevelInfo},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLevel(tc.configured), "level %q", tc.configured)
	}
}

func TestSetup(t *testing.T) {
	logger, err := Setup(config.ServerConfig{LogLevel: "debug", LogFormat: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger, err = Setup(config.ServerConfig{LogLevel: "warn", LogFormat: "text"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithContext(context.Background(), base)
	assert.Same(t, base, FromContext(ctx))

	// Missing logger falls back to the default, never nil.
	assert.NotNil(t, FromContext(context.Background()))
}
