package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Governor.MatchRequestLimit)
	assert.Equal(t, 250, cfg.Governor.ProfileRequestLimit)
	assert.Equal(t, 24*time.Hour, cfg.Governor.Window)
	assert.Equal(t, 5, cfg.Sweeper.MaxFixAttempts)
	assert.Equal(t, int64(1024*1024), cfg.Sweeper.MinReplayBytes)
	assert.Equal(t, 24*time.Hour, cfg.Sweeper.StuckDownloadAfter)
	assert.Equal(t, 48*time.Hour, cfg.Sweeper.StaleAfter)
	assert.Equal(t, 30*time.Minute, cfg.Queue.LeaseTimeout)
	assert.Equal(t, time.Minute, cfg.Queue.ReclaimInterval)
	assert.Equal(t, "dotabank:gc", cfg.Queue.MetadataQueue)
	assert.Equal(t, "dotabank:dl", cfg.Queue.DownloadQueue)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	t.Setenv("STEAM_API_KEY", "from-env")
	path := writeConfig(t, `
sweeper:
  max_fix_attempts: 2
  stuck_download_after: 2h
steam:
  api_key: from-file
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Sweeper.MaxFixAttempts)
	assert.Equal(t, 2*time.Hour, cfg.Sweeper.StuckDownloadAfter)
	assert.Equal(t, "from-env", cfg.Steam.APIKey)
}

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "explicit url",
			cfg:  DatabaseConfig{Driver: "postgres", URL: "postgres://x@y/z"},
			want: "postgres://x@y/z",
		},
		{
			name: "sqlite path",
			cfg:  DatabaseConfig{Driver: "sqlite", Path: "./data/db.sqlite"},
			want: "./data/db.sqlite",
		},
		{
			name: "postgres parts",
			cfg: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				User: "bank", Password: "pw", Name: "replays", SSLMode: "disable",
			},
			want: "postgres://bank:pw@db:5432/replays?sslmode=disable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}
