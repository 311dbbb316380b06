package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-gate/broker/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func devConfig(t *testing.T) *config.BrokerConfig {
	t.Helper()
	cfg := &config.BrokerConfig{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()
	cfg.Audit.Dir = t.TempDir()
	script := filepath.Join(t.TempDir(), "noop.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o700))
	cfg.Wrappers = []config.WrapperConfig{{ID: "noop", Path: script}}
	cfg.Sweeper.Interval = "10ms"
	require.NoError(t, cfg.Validate())
	return cfg
}

// TestRunSweeper_StopsOnContextCancel boots a full broker environment the
// same way runStart does, starts the background sweeper, and confirms its
// goroutine exits once ctx is cancelled -- this package's TestMain then
// asserts nothing was left behind.
func TestRunSweeper_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	env, err := boot(ctx, devConfig(t), discardLogger())
	require.NoError(t, err)
	defer env.shutdown(context.Background())

	env.runSweeper(ctx)

	n, err := env.Approvals.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	cancel()
	// Give the sweeper goroutine's select a moment to observe ctx.Done().
	time.Sleep(50 * time.Millisecond)
}
