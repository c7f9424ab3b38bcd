package processor

import (
	"encoding/json"
	"path/filepath"

	"github.com/woozymasta/basemaphist/internal/features"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Points converts the point features of a run into a GeoJSON collection.
// Each feature carries its source layer and index and the series directory
// its rasters are written to. Non-point features are left out.
func (d *Downloader) Points(points features.Collection) *geojson.FeatureCollection {
	if d.opts.MaxPoints > 0 && len(points) > d.opts.MaxPoints {
		points = points[:d.opts.MaxPoints]
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range points {
		p, ok := f.Point()
		if !ok {
			continue
		}

		feature := geojson.NewFeature(orb.Point{p.Lon(), p.Lat()})
		for k, v := range f.Properties {
			feature.Properties[k] = v
		}
		feature.Properties["layer"] = f.Layer
		feature.Properties["index"] = f.Index
		feature.Properties["series"] = d.Series(p.Lon(), p.Lat()).Name()

		fc.Append(feature)
	}

	return fc
}

// SaveGeoJSON marshals the feature collection and writes it to path.
func SaveGeoJSON(fs afero.Fs, path string, fc *geojson.FeatureCollection) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := fs.Create(path)
	if err != nil {
		return err
	}

	// We care about write errors on close
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("path", path).Msg("Failed to close file")
		}
	}()

	return json.NewEncoder(f).Encode(fc)
}
