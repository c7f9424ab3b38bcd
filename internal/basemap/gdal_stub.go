//go:build !gdal

package basemap

import "context"

// GDALEngine is unavailable in builds without the gdal tag.
type GDALEngine struct{}

// NewGDALEngine reports that GDAL support was not compiled in.
func NewGDALEngine(Source, string) (*GDALEngine, error) {
	return nil, ErrEngineUnavailable
}

// Export implements Exporter.
func (e *GDALEngine) Export(context.Context, Request) error {
	return ErrEngineUnavailable
}
