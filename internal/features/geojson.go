package features

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// geojsonSource is a single-layer GeoJSON FeatureCollection.
type geojsonSource struct {
	fc    *geojson.FeatureCollection
	layer string
}

func openGeoJSON(path string) (*geojsonSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson %s: %w", path, err)
	}

	return &geojsonSource{
		fc:    fc,
		layer: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}, nil
}

func (s *geojsonSource) Layers(context.Context) ([]string, error) {
	return []string{s.layer}, nil
}

func (s *geojsonSource) ReadLayer(_ context.Context, layer string) ([]Feature, error) {
	if layer != s.layer {
		return nil, fmt.Errorf("no layer %q", layer)
	}

	out := make([]Feature, 0, len(s.fc.Features))
	for i, f := range s.fc.Features {
		out = append(out, Feature{
			Geometry:   f.Geometry,
			Properties: map[string]interface{}(f.Properties),
			Layer:      layer,
			Index:      i,
		})
	}

	return out, nil
}

func (s *geojsonSource) Close() error { return nil }
