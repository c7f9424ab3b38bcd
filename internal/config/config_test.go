package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())

	seq, err := cfg.Months()
	require.NoError(t, err)
	assert.Len(t, seq, 29)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
start_month: "2020-01"
end_month: "2020-12"
stride_months: 1
buffer_meters: 500
timeout: 5s
source:
  url: "https://tiles.example.com/{month}/{z}/{x}/{y}.png"
  tile_level: 16
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 500.0, cfg.BufferMeters)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 16, cfg.Source.TileLevel)
	assert.Equal(t, 256, cfg.Source.TileSize)
	assert.Equal(t, 1024, cfg.Width)

	seq, err := cfg.Months()
	require.NoError(t, err)
	assert.Len(t, seq, 12)
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv(APIKeyName, "")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(APIKeyName+"=123xyz\n"), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadSecrets(path))
	assert.Equal(t, "123xyz", cfg.Source.APIKey)

	t.Setenv(APIKeyName, "from-env")
	require.NoError(t, cfg.LoadSecrets(path))
	assert.Equal(t, "from-env", cfg.Source.APIKey)
}

func TestLoadSecretsMissingKey(t *testing.T) {
	t.Setenv(APIKeyName, "")

	cfg := Default()
	err := cfg.LoadSecrets(filepath.Join(t.TempDir(), ".env"))
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	cfg.Source.URL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	assert.NoError(t, cfg.LoadSecrets(""))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad month":    func(c *Config) { c.StartMonth = "2016" },
		"reversed":     func(c *Config) { c.StartMonth, c.EndMonth = c.EndMonth, c.StartMonth },
		"zero stride":  func(c *Config) { c.StrideMonths = 0 },
		"buffer":       func(c *Config) { c.BufferMeters = 0 },
		"width":        func(c *Config) { c.Width = -1 },
		"engine":       func(c *Config) { c.Engine = "qgis" },
		"compression":  func(c *Config) { c.Compression = "lzw" },
		"url":          func(c *Config) { c.Source.URL = "" },
		"exclude dash": func(c *Config) { c.ExcludeMonths = []string{"2017-01"} },
		"exclude bad":  func(c *Config) { c.ExcludeMonths = []string{"january"} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsExcludeTokens(t *testing.T) {
	cfg := Default()
	cfg.ExcludeMonths = []string{"2017_01", "2019_04"}
	require.NoError(t, cfg.Validate())

	seq, err := cfg.Months()
	require.NoError(t, err)
	for _, m := range seq {
		assert.NotEqual(t, "2019_04", m.Token())
		assert.NotEqual(t, "2017_01", m.Token())
	}
}
