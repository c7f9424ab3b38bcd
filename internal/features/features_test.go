package features

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "a"}, "geometry": {"type": "Point", "coordinates": [2.329102, 48.958581]}},
    {"type": "Feature", "properties": {"name": "b"}, "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}},
    {"type": "Feature", "properties": {"name": "c"}, "geometry": {"type": "Point", "coordinates": [-1.5, 47.2]}}
  ]
}`

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <name>Sites</name>
    <Placemark>
      <name>loose</name>
      <Point><coordinates>10.0,20.0,0</coordinates></Point>
    </Placemark>
    <Folder>
      <name>North</name>
      <Placemark>
        <name>n1</name>
        <ExtendedData><Data name="kind"><value>quarry</value></Data></ExtendedData>
        <Point><coordinates>2.329102,48.958581,0</coordinates></Point>
      </Placemark>
      <Placemark>
        <name>track</name>
        <LineString><coordinates>0,0 1,1 2,2</coordinates></LineString>
      </Placemark>
      <Folder>
        <name>Nested</name>
        <Placemark><name>n2</name><Point><coordinates>3,49</coordinates></Point></Placemark>
      </Folder>
    </Folder>
    <Folder>
      <name>South</name>
      <Placemark>
        <name>area</name>
        <Polygon><outerBoundaryIs><LinearRing><coordinates>0,0 1,0 1,1 0,0</coordinates></LinearRing></outerBoundaryIs></Polygon>
      </Placemark>
      <Placemark><name>s1</name><Point><coordinates>-70.1,-33.4</coordinates></Point></Placemark>
    </Folder>
  </Document>
</kml>`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGeoJSON(t *testing.T) {
	path := writeFile(t, "sites.geojson", sampleGeoJSON)

	all, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "sites", all[0].Layer)
	assert.Equal(t, "a", all[0].Properties["name"])

	points := all.Points()
	require.Len(t, points, 2)
	p, ok := points[0].Point()
	require.True(t, ok)
	assert.Equal(t, orb.Point{2.329102, 48.958581}, p)
	assert.Equal(t, "c", points[1].Properties["name"])
}

func TestLoadKMLLayers(t *testing.T) {
	path := writeFile(t, "doc.kml", sampleKML)

	src, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	layers, err := src.Layers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Sites", "North", "South"}, layers)

	all, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Sites": 1, "North": 3, "South": 2}, all.CountByLayer())
	assert.Len(t, all, 6)

	points := all.Points()
	require.Len(t, points, 4)
	for _, f := range points {
		assert.Equal(t, "Point", f.GeometryType())
	}
	assert.Equal(t, "quarry", points[1].Properties["kind"])
	assert.Equal(t, "n2", points[2].Properties["name"])
}

func TestLoadKMZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.kmz")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	w, err := zw.Create("doc.kml")
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleKML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	all, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Len(t, all.Points(), 4)
}

func TestLoadUnsupported(t *testing.T) {
	_, err := Load(context.Background(), writeFile(t, "sites.shp", "x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.gpkg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseCoordinatesRejectsGarbage(t *testing.T) {
	_, err := parseCoordinates("1,2 abc")
	assert.Error(t, err)
	_, err = parseCoordinates("x,2")
	assert.Error(t, err)

	pts, err := parseCoordinates(" 1,2,3\n\t4,5 ")
	require.NoError(t, err)
	assert.Equal(t, []orb.Point{{1, 2}, {4, 5}}, pts)
}

func TestToWGS84(t *testing.T) {
	g, err := toWGS84(orb.Point{259274.44864559502, 6267836.376279792}, SRIDWebMercator)
	require.NoError(t, err)
	p := g.(orb.Point)
	assert.InDelta(t, 2.329102, p.X(), 1e-9)
	assert.InDelta(t, 48.958581, p.Y(), 1e-9)

	_, err = toWGS84(orb.Point{1, 2}, 2154)
	assert.ErrorIs(t, err, ErrUnsupportedSRS)
}
