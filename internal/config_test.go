package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/guess-number/internal"
)

func TestDefaultConfig(t *testing.T) {
	cfg := internal.DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Game.DefaultLow)
	assert.Equal(t, 100, cfg.Game.DefaultHigh)
	assert.Equal(t, 60*time.Second, cfg.Game.RoundDuration)
	assert.Equal(t, 10, cfg.Game.MaxPlayersPerRoom)
	assert.Equal(t, 50, cfg.Game.MaxRooms)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := internal.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, internal.DefaultConfig(), cfg)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
game:
  round_duration: 30s
  max_rooms: 5
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := internal.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Game.RoundDuration)
	assert.Equal(t, 5, cfg.Game.MaxRooms)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未出現的欄位維持預設值
	assert.Equal(t, 100, cfg.Game.BaseScore)
	assert.Equal(t, 10, cfg.Game.MaxPlayersPerRoom)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	_, err := internal.LoadConfig(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *internal.Config)
	}{
		{
			name: "inverted range",
			mutate: func(cfg *internal.Config) {
				cfg.Game.DefaultLow = 100
				cfg.Game.DefaultHigh = 1
			},
		},
		{
			name: "zero round duration",
			mutate: func(cfg *internal.Config) {
				cfg.Game.RoundDuration = 0
			},
		},
		{
			name: "zero max players",
			mutate: func(cfg *internal.Config) {
				cfg.Game.MaxPlayersPerRoom = 0
			},
		},
		{
			name: "zero max rooms",
			mutate: func(cfg *internal.Config) {
				cfg.Game.MaxRooms = 0
			},
		},
		{
			name: "invalid port",
			mutate: func(cfg *internal.Config) {
				cfg.Server.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := internal.DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
