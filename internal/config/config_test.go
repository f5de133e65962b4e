package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actwaste/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(DefaultListen, cfg.Listen)
	assert.Equal(DefaultRefreshCron, cfg.RefreshCron)
	require.Len(t, cfg.Collections, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(cfg, again)
}

func TestLoadNormalizes(t *testing.T) {
	assert := assert.New(t)
	path := writeFile(t, `
collections:
  - name: " Home "
    suburb: red hill
    recurrence:
      garbage: "rrule:freq=weekly"
      recycling: FREQ=WEEKLY;INTERVAL=2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal("Home", cfg.Collections[0].Name)
	assert.Equal("RED HILL", cfg.Collections[0].Suburb)
	assert.Equal(map[model.Stream]string{
		model.Garbage:   "FREQ=WEEKLY",
		model.Recycling: "FREQ=WEEKLY;INTERVAL=2",
	}, cfg.Collections[0].Recurrence.Rules())

	assert.Equal(DefaultListen, cfg.Listen)
	assert.Equal(DefaultBaseURL, cfg.Source.BaseURL)
	assert.Equal(DefaultDataset, cfg.Source.Dataset)
	assert.Equal(800, cfg.Snapshot.Width)

	d, err := cfg.MinRefresh()
	require.NoError(t, err)
	assert.Equal(6*time.Hour, d)

	d, err = cfg.Timeout()
	require.NoError(t, err)
	assert.Equal(15*time.Second, d)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no collections", "collections: []\n"},
		{"missing name", "collections:\n  - suburb: BRUCE\n"},
		{"missing suburb", "collections:\n  - name: Home\n"},
		{"duplicate name", "collections:\n  - {name: Home, suburb: BRUCE}\n  - {name: Home, suburb: TURNER}\n"},
		{"bad interval", "min_refresh_interval: soon\ncollections:\n  - {name: Home, suburb: BRUCE}\n"},
		{"negative timeout", "request_timeout: -1s\ncollections:\n  - {name: Home, suburb: BRUCE}\n"},
		{"bad timezone", "timezone: Mars/Olympus\ncollections:\n  - {name: Home, suburb: BRUCE}\n"},
		{"bad yaml", "collections: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Collections = append(cfg.Collections, CollectionConfig{Name: "Office", Suburb: "civic"})
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "CIVIC", loaded.Collections[1].Suburb)
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "admin", loaded.BasicAuth.Username)
}

func TestLocationFallback(t *testing.T) {
	assert.Equal(t, time.Local, (&Config{}).Location())
	assert.Equal(t, time.Local, (&Config{Timezone: "Nope/Nope"}).Location())
	assert.Equal(t, "UTC", (&Config{Timezone: "UTC"}).Location().String())
}
