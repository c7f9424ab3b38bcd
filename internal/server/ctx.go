package server

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/woozymasta/basemaphist/assets"
	"github.com/woozymasta/basemaphist/internal/basemap"
	"github.com/woozymasta/basemaphist/internal/geotiff"
	"github.com/woozymasta/basemaphist/internal/metrics"
	"github.com/woozymasta/basemaphist/internal/processor"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Fs        afero.Fs
	Root      string
	Metrics   *metrics.Metrics
	IndexHTML []byte
	Favicon   []byte
}

// Series is one downloaded point time series as listed by the API.
type Series struct {
	Name   string   `json:"name"`
	Start  string   `json:"start"`
	End    string   `json:"end"`
	Stride int      `json:"stride"`
	Lon    float64  `json:"lon"`
	Lat    float64  `json:"lat"`
	Months []string `json:"months"`
	// Bounds of the latest raster as west, north, east, south in EPSG:3857.
	Bounds []float64 `json:"bounds,omitempty"`
}

// NewServerContext renders the front end and serves series found under root.
func NewServerContext(fs afero.Fs, root string, m *metrics.Metrics) (*ServerContext, error) {
	index, err := assets.Index()
	if err != nil {
		return nil, err
	}
	favicon, err := assets.Favicon()
	if err != nil {
		return nil, err
	}

	s := &ServerContext{
		Fs:        fs,
		Root:      root,
		Metrics:   m,
		IndexHTML: index,
		Favicon:   favicon,
	}

	series, err := s.Series()
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("root", root).
		Int("series", len(series)).
		Int("index_bytes", len(index)).
		Msg("Server context initialized successfully")

	return s, nil
}

// Series scans the root directory. Directories that do not follow the
// series naming are skipped, as are empty and partial rasters.
func (s *ServerContext) Series() ([]Series, error) {
	entries, err := afero.ReadDir(s.Fs, s.Root)
	if err != nil {
		return nil, err
	}

	out := make([]Series, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		dir, err := processor.ParseSeriesDir(e.Name())
		if err != nil {
			log.Trace().Str("dir", e.Name()).Err(err).Msg("Not a series directory")
			continue
		}

		tokens, err := s.months(e.Name())
		if err != nil {
			return nil, err
		}

		item := Series{
			Name:   e.Name(),
			Start:  dir.Start.String(),
			End:    dir.End.String(),
			Stride: dir.Stride,
			Lon:    dir.Lon,
			Lat:    dir.Lat,
			Months: tokens,
		}
		if len(tokens) > 0 {
			item.Bounds = s.bounds(filepath.Join(s.Root, e.Name(), basemap.DefaultOutput(tokens[len(tokens)-1])))
		}
		out = append(out, item)
	}

	return out, nil
}

func (s *ServerContext) months(name string) ([]string, error) {
	files, err := afero.ReadDir(s.Fs, filepath.Join(s.Root, name))
	if err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(files))
	for _, f := range files {
		if !f.Mode().IsRegular() || f.Size() == 0 {
			continue
		}
		if m, ok := processor.MonthFromFile(f.Name()); ok {
			tokens = append(tokens, m.Token())
		}
	}
	sort.Strings(tokens)

	return tokens, nil
}

// bounds reads the georeferencing of a raster, or nil when it has none.
func (s *ServerContext) bounds(path string) []float64 {
	f, err := s.Fs.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	info, err := geotiff.ReadInfo(f)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Raster has no usable georeferencing")
		return nil
	}

	west, north, east, south := info.Bounds()
	return []float64{west, north, east, south}
}

// rasterPath resolves a series directory and month token to a file, or
// reports false when either does not name a raster.
func (s *ServerContext) rasterPath(dir, token string) (string, bool) {
	if _, err := processor.ParseSeriesDir(dir); err != nil {
		return "", false
	}

	name := basemap.DefaultOutput(token)
	if _, ok := processor.MonthFromFile(name); !ok {
		return "", false
	}

	path := filepath.Join(s.Root, dir, name)
	info, err := s.Fs.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		if err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to stat raster")
		}
		return "", false
	}

	return path, true
}
