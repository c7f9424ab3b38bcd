// Package config handles configuration loading and shared data structures.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/woozymasta/basemaphist/internal/months"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIKeyName is the key holding the basemap API key in the secrets file.
const APIKeyName = "PLANET_BASEMAP_API_KEY"

// PlanetMonthlyURL is the Planet global monthly mosaic tile template.
const PlanetMonthlyURL = "https://tiles.planet.com/basemaps/v1/planet-tiles/global_monthly_{month}_mosaic/gmap/{z}/{x}/{y}.png?api_key={api_key}"

// Engines.
const (
	EngineNative = "native"
	EngineGDAL   = "gdal"
)

// ErrMissingAPIKey is returned when the tile source needs a key and none is set.
var ErrMissingAPIKey = errors.New(APIKeyName + " is not set")

// Config represents the root configuration file structure.
type Config struct {
	Source Source `yaml:"source"`

	StartMonth    string        `yaml:"start_month"`
	EndMonth      string        `yaml:"end_month"`
	OutputDir     string        `yaml:"output_dir"`
	Engine        string        `yaml:"engine"`
	Compression   string        `yaml:"compression"`
	ExcludeMonths []string      `yaml:"exclude_months"`
	BufferMeters  float64       `yaml:"buffer_meters"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     float64       `yaml:"rate_limit"` // tile requests per second, 0 is unlimited
	StrideMonths  int           `yaml:"stride_months"`
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	MaxPoints     int           `yaml:"max_points"`
	Concurrency   int           `yaml:"concurrency"`
	Retries       int           `yaml:"retries"`
}

// Source describes the remote monthly mosaic tile service.
type Source struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key,omitempty"`
	TileLevel int    `yaml:"tile_level"`
	TileSize  int    `yaml:"tile_size"`
	Bands     int    `yaml:"bands"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Source: Source{
			URL:       PlanetMonthlyURL,
			TileLevel: 18,
			TileSize:  256,
			Bands:     3,
		},
		StartMonth:    "2016-01",
		EndMonth:      "2023-04",
		StrideMonths:  3,
		ExcludeMonths: []string{months.MissingMosaic},
		BufferMeters:  2000,
		Width:         1024,
		Height:        0,
		MaxPoints:     10000,
		OutputDir:     ".",
		Engine:        EngineNative,
		Compression:   "deflate",
		Concurrency:   8,
		Timeout:       30 * time.Second,
	}
}

// Load reads and parses the YAML configuration file from the specified path.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadSecrets reads the key-value secrets file and fills the API key.
// The process environment takes precedence over the file.
func (c *Config) LoadSecrets(path string) error {
	if path != "" {
		values, err := godotenv.Read(path)
		switch {
		case err == nil:
			if v := values[APIKeyName]; v != "" {
				c.Source.APIKey = v
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("read secrets %s: %w", path, err)
		}
	}

	if v := os.Getenv(APIKeyName); v != "" {
		c.Source.APIKey = v
	}

	if c.Source.APIKey == "" && strings.Contains(c.Source.URL, "{api_key}") {
		return ErrMissingAPIKey
	}

	return nil
}

// Range returns the parsed start and end months.
func (c *Config) Range() (start, end months.Month, err error) {
	if start, err = months.Parse(c.StartMonth); err != nil {
		return start, end, err
	}
	end, err = months.Parse(c.EndMonth)
	return start, end, err
}

// Months builds the month sequence with exclusions applied.
func (c *Config) Months() ([]months.Month, error) {
	start, end, err := c.Range()
	if err != nil {
		return nil, err
	}

	seq, err := months.Sequence(start, end, c.StrideMonths)
	if err != nil {
		return nil, err
	}

	return months.Exclude(seq, c.ExcludeMonths...), nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if _, err := c.Months(); err != nil {
		return err
	}
	for _, token := range c.ExcludeMonths {
		m, err := months.Parse(token)
		if err != nil {
			return fmt.Errorf("exclude_months: %w", err)
		}
		if m.Token() != token {
			return fmt.Errorf("exclude_months: %q must be written as %q", token, m.Token())
		}
	}
	if c.BufferMeters <= 0 {
		return fmt.Errorf("buffer_meters must be positive, got %v", c.BufferMeters)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if c.Engine != EngineNative && c.Engine != EngineGDAL {
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.Compression != "none" && c.Compression != "deflate" {
		return fmt.Errorf("unknown compression %q", c.Compression)
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is empty")
	}
	if c.Source.TileLevel < 0 || c.Source.TileLevel > 30 {
		return fmt.Errorf("source.tile_level %d out of range", c.Source.TileLevel)
	}

	return nil
}
