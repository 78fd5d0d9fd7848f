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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 128, cfg.Matching.Dimension)
	assert.Equal(t, 0.5, cfg.Matching.Threshold)
	assert.Equal(t, "exact", cfg.Matching.Index)
	assert.Equal(t, time.Minute, cfg.Matching.IndexRefresh)
	assert.False(t, cfg.Server.LegacyEndpoint)
	assert.Equal(t, 60*time.Second, cfg.Attendance.Cooldown)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
storage:
  driver: postgres
database:
  host: db
  name: kiosk
  user: kiosk
  password: secret
matching:
  dimension: 512
  threshold: 0.42
  index: hnsw
attendance:
  cooldown: 5m
logging:
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 512, cfg.Matching.Dimension)
	assert.Equal(t, 0.42, cfg.Matching.Threshold)
	assert.Equal(t, "hnsw", cfg.Matching.Index)
	assert.Equal(t, 5*time.Minute, cfg.Attendance.Cooldown)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "postgres://kiosk:secret@db:5432/kiosk?sslmode=disable", cfg.Database.DSN())
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "matching:\n  threshold: 0.6\n")
	t.Setenv("ATT_MATCH_THRESHOLD", "0.35")
	t.Setenv("ATT_COOLDOWN", "90s")
	t.Setenv("ATT_STORAGE_DRIVER", "memory")
	t.Setenv("ATT_SERVER_PORT", "7070")
	t.Setenv("ATT_LEGACY_ENDPOINT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.35, cfg.Matching.Threshold)
	assert.Equal(t, 90*time.Second, cfg.Attendance.Cooldown)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Server.LegacyEndpoint)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "storage:\n  driver: spreadsheet\n"},
		{"unknown index", "matching:\n  index: lsh\n"},
		{"negative threshold", "matching:\n  threshold: -1\n"},
		{"negative cooldown", "attendance:\n  cooldown: -1s\n"},
		{"bad yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
