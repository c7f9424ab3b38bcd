// Package features reads vector datasets into a single table of geometries.
//
// A dataset may hold several layers (GeoPackage tables, KML folders, PostGIS
// tables). Load reads every layer and concatenates the records in layer order
// without deduplication.
package features

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rs/zerolog/log"
)

// Spatial reference identifiers understood by the readers.
const (
	SRIDUndefined   = 0
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
)

var (
	// ErrUnsupportedFormat is returned when no reader handles the dataset.
	ErrUnsupportedFormat = errors.New("unsupported vector format")
	// ErrUnsupportedSRS is returned for layers that are neither geographic nor web mercator.
	ErrUnsupportedSRS = errors.New("unsupported spatial reference")
)

// Feature is one record of a layer. Geometry is in EPSG:4326 and may be nil.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]interface{}
	Layer      string
	Index      int
}

// GeometryType returns the GeoJSON type name, or "" for a missing geometry.
func (f Feature) GeometryType() string {
	if f.Geometry == nil {
		return ""
	}
	return f.Geometry.GeoJSONType()
}

// Point returns the geometry as a point if it is one.
func (f Feature) Point() (orb.Point, bool) {
	p, ok := f.Geometry.(orb.Point)
	return p, ok
}

// Collection is the concatenation of every layer of a dataset.
type Collection []Feature

// Points keeps only point features, in their original order.
func (c Collection) Points() Collection {
	out := make(Collection, 0, len(c))
	for _, f := range c {
		if f.GeometryType() == "Point" {
			out = append(out, f)
		}
	}
	return out
}

// CountByLayer returns the number of records read from each layer.
func (c Collection) CountByLayer() map[string]int {
	out := make(map[string]int)
	for _, f := range c {
		out[f.Layer]++
	}
	return out
}

// Source is a layered vector dataset.
type Source interface {
	Layers(ctx context.Context) ([]string, error)
	ReadLayer(ctx context.Context, layer string) ([]Feature, error)
	Close() error
}

// Open picks a reader for path by scheme or extension.
func Open(ctx context.Context, path string) (Source, error) {
	if strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://") {
		return openPostGIS(ctx, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return openGeoJSON(path)
	case ".kml":
		return openKML(path)
	case ".kmz":
		return openKMZ(path)
	case ".gpkg":
		return openGeoPackage(ctx, path)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Load reads every layer of the dataset at path into one collection.
func Load(ctx context.Context, path string) (Collection, error) {
	src, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	return ReadAll(ctx, src)
}

// ReadAll concatenates all layers of src.
func ReadAll(ctx context.Context, src Source) (Collection, error) {
	layers, err := src.Layers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}

	var all Collection
	for _, layer := range layers {
		feats, err := src.ReadLayer(ctx, layer)
		if err != nil {
			return nil, fmt.Errorf("read layer %q: %w", layer, err)
		}

		log.Debug().
			Str("layer", layer).
			Int("features", len(feats)).
			Msg("Layer loaded")

		all = append(all, feats...)
	}

	return all, nil
}

// toWGS84 brings a geometry stored with srid into EPSG:4326.
func toWGS84(g orb.Geometry, srid int) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}

	switch srid {
	case SRIDWGS84, SRIDUndefined, -1:
		return g, nil
	case SRIDWebMercator, 900913:
		return project.Geometry(g, project.Mercator.ToWGS84), nil
	}

	return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedSRS, srid)
}
