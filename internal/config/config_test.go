package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.FetchInterval.Std())
	assert.Equal(t, time.Second, cfg.TickInterval.Std())
	assert.Equal(t, 24*time.Hour, cfg.FetchWindow.Std())
	assert.Equal(t, "*/15 * * * *", cfg.Sync.Cron)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Display, again.Display)
	assert.Equal(t, cfg.Sync, again.Sync)
	assert.Equal(t, cfg.FetchInterval, again.FetchInterval)
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
fetch_interval: 90s
log_level: loud
display:
  width: 200
  round: true
ics:
  - url: https://example.com/a.ics
  - id: family
    url: https://example.com/b.ics
    color: "#00ff00"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 90*time.Second, cfg.FetchInterval.Std())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 200, cfg.Display.Width)
	assert.Equal(t, 300, cfg.Display.Height)
	assert.True(t, cfg.Display.Round)
	require.Len(t, cfg.ICS, 2)
	assert.Equal(t, "ics-1", cfg.ICS[0].ID)
	assert.NotEmpty(t, cfg.ICS[0].Color)
	assert.Equal(t, "#00ff00", cfg.ICS[1].Color)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_interval: soon\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTripsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.TickInterval = Duration(500 * time.Millisecond)
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tick_interval: 500ms")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, loaded.TickInterval.Std())
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	watchDone := make(chan error, 1)
	go func() { watchDone <- Watch(ctx, path, func(c *Config) { changes <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	require.NoError(t, Save(path, cfg))

	select {
	case got := <-changes:
		assert.Equal(t, "UTC", got.Timezone)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case err := <-watchDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
