package features

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

type gpkgLayer struct {
	table  string
	column string
	srid   int
}

// gpkgSource reads the feature tables listed in gpkg_contents.
type gpkgSource struct {
	db     *sql.DB
	layers map[string]gpkgLayer
}

func openGeoPackage(ctx context.Context, path string) (*gpkgSource, error) {
	// sqlite would create a missing file
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open geopackage %s: %w", path, err)
	}

	return &gpkgSource{db: db}, nil
}

func (s *gpkgSource) Layers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.rowid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	s.layers = make(map[string]gpkgLayer)
	var names []string
	for rows.Next() {
		var l gpkgLayer
		if err := rows.Scan(&l.table, &l.column, &l.srid); err != nil {
			return nil, err
		}
		s.layers[l.table] = l
		names = append(names, l.table)
	}

	return names, rows.Err()
}

func (s *gpkgSource) ReadLayer(ctx context.Context, layer string) ([]Feature, error) {
	l, ok := s.layers[layer]
	if !ok {
		return nil, fmt.Errorf("no layer %q", layer)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(l.table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Feature
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		f := Feature{Layer: layer, Index: len(out), Properties: map[string]interface{}{}}
		for i, col := range cols {
			if !strings.EqualFold(col, l.column) {
				f.Properties[col] = values[i]
				continue
			}

			blob, _ := values[i].([]byte)
			g, srid, err := decodeGPKGGeometry(blob)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", len(out), err)
			}
			if srid == SRIDUndefined {
				srid = l.srid
			}
			if f.Geometry, err = toWGS84(g, srid); err != nil {
				return nil, err
			}
		}
		out = append(out, f)
	}

	return out, rows.Err()
}

func (s *gpkgSource) Close() error {
	return s.db.Close()
}

// decodeGPKGGeometry parses a GeoPackage geometry blob: a "GP" header with
// an optional envelope followed by standard WKB.
func decodeGPKGGeometry(b []byte) (orb.Geometry, int, error) {
	if len(b) == 0 {
		return nil, SRIDUndefined, nil
	}
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, 0, errors.New("not a geopackage geometry blob")
	}

	flags := b[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}
	srid := int(int32(order.Uint32(b[4:8])))

	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, 0, fmt.Errorf("invalid envelope indicator %d", (flags>>1)&0x07)
	}

	if flags&0x10 != 0 { // empty geometry
		return nil, srid, nil
	}

	start := 8 + envelope
	if len(b) < start {
		return nil, 0, errors.New("truncated geopackage geometry")
	}

	g, err := wkb.Unmarshal(b[start:])
	if err != nil {
		return nil, 0, fmt.Errorf("decode wkb: %w", err)
	}
	return g, srid, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
