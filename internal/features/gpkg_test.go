package features

import (
	"context"
	"database/sql"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gpkgBlob(t *testing.T, srid int32, g orb.Geometry) []byte {
	t.Helper()
	body, err := wkb.Marshal(g, binary.LittleEndian)
	require.NoError(t, err)

	header := []byte{'G', 'P', 0, 0x01, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(header[4:], uint32(srid))
	return append(header, body...)
}

// newGeoPackage writes a minimal GeoPackage with one table per layer.
func newGeoPackage(t *testing.T, layers map[string][]orb.Geometry, order []string, srid int32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.gpkg")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, geometry_type_name TEXT, srs_id INTEGER, z TINYINT, m TINYINT)`,
		`CREATE TABLE attributes_only (id INTEGER PRIMARY KEY, note TEXT)`,
		`INSERT INTO gpkg_contents VALUES ('attributes_only', 'attributes', 'attributes_only', NULL)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}

	for _, name := range order {
		_, err := db.Exec(`CREATE TABLE ` + quoteIdent(name) + ` (fid INTEGER PRIMARY KEY, geom BLOB, label TEXT)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO gpkg_contents VALUES (?, 'features', ?, ?)`, name, name, srid)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'GEOMETRY', ?, 0, 0)`, name, srid)
		require.NoError(t, err)

		for i, g := range layers[name] {
			_, err := db.Exec(`INSERT INTO `+quoteIdent(name)+` (geom, label) VALUES (?, ?)`,
				gpkgBlob(t, srid, g), name+string(rune('a'+i)))
			require.NoError(t, err)
		}
	}

	return path
}

func TestLoadGeoPackageConcatenatesLayers(t *testing.T) {
	order := []string{"sites", "tracks", "more sites"}
	layers := map[string][]orb.Geometry{
		"sites":      {orb.Point{2.329102, 48.958581}, orb.Point{3, 49}},
		"tracks":     {orb.LineString{{0, 0}, {1, 1}}, orb.Point{4, 50}, orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
		"more sites": {orb.Point{-1, 2}},
	}
	path := newGeoPackage(t, layers, order, SRIDWGS84)

	all, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, map[string]int{"sites": 2, "tracks": 3, "more sites": 1}, all.CountByLayer())
	assert.Equal(t, "sites", all[0].Layer)
	assert.Equal(t, "more sites", all[5].Layer)
	assert.Equal(t, "tracksb", all[3].Properties["label"])

	points := all.Points()
	require.Len(t, points, 4)
	p, _ := points[0].Point()
	assert.InDelta(t, 2.329102, p.X(), 1e-12)
	assert.InDelta(t, 48.958581, p.Y(), 1e-12)
}

func TestLoadGeoPackageWebMercator(t *testing.T) {
	layers := map[string][]orb.Geometry{
		"merc": {orb.Point{259274.44864559502, 6267836.376279792}},
	}
	path := newGeoPackage(t, layers, []string{"merc"}, SRIDWebMercator)

	all, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, all, 1)

	p, ok := all[0].Point()
	require.True(t, ok)
	assert.InDelta(t, 2.329102, p.X(), 1e-9)
	assert.InDelta(t, 48.958581, p.Y(), 1e-9)
}

func TestLoadGeoPackageUnsupportedSRS(t *testing.T) {
	layers := map[string][]orb.Geometry{"lambert": {orb.Point{652000, 6862000}}}
	path := newGeoPackage(t, layers, []string{"lambert"}, 2154)

	_, err := Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnsupportedSRS)
}

func TestDecodeGPKGGeometry(t *testing.T) {
	g, srid, err := decodeGPKGGeometry(nil)
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, SRIDUndefined, srid)

	_, _, err = decodeGPKGGeometry([]byte("not a blob"))
	assert.Error(t, err)

	// envelope [minx, maxx, miny, maxy] before the wkb body
	body, err := wkb.Marshal(orb.Point{1, 2}, binary.BigEndian)
	require.NoError(t, err)
	blob := append([]byte{'G', 'P', 0, 0x02, 0, 0, 0x10, 0xE6}, make([]byte, 32)...)
	blob = append(blob, body...)

	g, srid, err = decodeGPKGGeometry(blob)
	require.NoError(t, err)
	assert.Equal(t, SRIDWGS84, srid)
	assert.Equal(t, orb.Point{1, 2}, g)
}
