package main

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMarshalYAML(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{2.329102, 48.958581})
	f.Properties["layer"] = "sites"
	fc.Append(f)

	data, err := marshalYAML(fc)
	require.NoError(t, err)

	var doc struct {
		Type     string `yaml:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `yaml:"type"`
				Coordinates []float64 `yaml:"coordinates"`
			} `yaml:"geometry"`
			Properties map[string]string `yaml:"properties"`
		} `yaml:"features"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))

	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	assert.Equal(t, "Point", doc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{2.329102, 48.958581}, doc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "sites", doc.Features[0].Properties["layer"])
}
