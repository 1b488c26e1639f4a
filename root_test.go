package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-uploader/internal/config"
)

func TestBuildLogger_Levels(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	tests := []struct {
		name     string
		level    string
		flags    CLIFlags
		enabled  slog.Level
		disabled slog.Level
	}{
		{"config info", "info", CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"config error", "error", CLIFlags{}, slog.LevelError, slog.LevelWarn},
		{"verbose wins", "error", CLIFlags{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet wins", "debug", CLIFlags{Quiet: true}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.Logging.LogLevel = tt.level
			logger := buildLogger(cfg, tt.flags, &bytes.Buffer{})

			assert.True(t, logger.Handler().Enabled(ctx, tt.enabled))
			assert.False(t, logger.Handler().Enabled(ctx, tt.disabled))
		})
	}
}

func TestBuildLogger_AutoFormatIsJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer

	buildLogger(nil, CLIFlags{}, &buf).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()

	cfg := config.DefaultConfig()
	cfg.Logging.LogFormat = "text"
	buildLogger(cfg, CLIFlags{}, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestCLIOverrides_OnlyChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	addTransferFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--parallel", "3", "--bandwidth", "2MB/s"}))

	cli := cliOverrides(cmd)

	require.NotNil(t, cli.ParallelUploads)
	assert.Equal(t, 3, *cli.ParallelUploads)
	require.NotNil(t, cli.BandwidthLimit)
	assert.Equal(t, "2MB/s", *cli.BandwidthLimit)
	assert.Nil(t, cli.ChunkSize)
	assert.Nil(t, cli.ChunkRetries)
}

func TestMustCLIContext_Panics(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })

	cc := &CLIContext{}
	assert.Same(t, cc, mustCLIContext(withCLIContext(context.Background(), cc)))
}
