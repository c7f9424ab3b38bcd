//go:build gdal

package basemap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/rs/zerolog/log"
)

var registerOnce sync.Once

// GDALEngine delegates fetching, cropping and encoding to GDAL's WMS driver.
type GDALEngine struct {
	source      Source
	compression string
}

// NewGDALEngine registers the GDAL drivers and returns the engine.
// It writes to the operating system filesystem only.
func NewGDALEngine(source Source, compression string) (*GDALEngine, error) {
	registerOnce.Do(godal.RegisterAll)
	return &GDALEngine{source: source, compression: compression}, nil
}

// Export implements Exporter.
func (e *GDALEngine) Export(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	descriptor, err := e.source.Descriptor(req.Month)
	if err != nil {
		return err
	}

	src, err := godal.Open(descriptor)
	if err != nil {
		return fmt.Errorf("open %s mosaic: %w", req.Month, err)
	}
	defer func() { _ = src.Close() }()

	path := req.OutputPath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".part"
	dst, err := src.Translate(tmp, req.TranslateSwitches(e.compression))
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("translate %s: %w", req.Month, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	log.Debug().Str("month", req.Month).Str("path", path).Msg("Raster translated")

	return os.Rename(tmp, path)
}
