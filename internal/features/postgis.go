package features

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/encoding/wkb"
)

type pgLayer struct {
	schema string
	table  string
	column string
	srid   int
}

// postgisSource reads every table registered in geometry_columns.
type postgisSource struct {
	conn   *pgx.Conn
	layers map[string]pgLayer
}

func openPostGIS(ctx context.Context, dsn string) (*postgisSource, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgis: %w", err)
	}
	return &postgisSource{conn: conn}, nil
}

func (s *postgisSource) Layers(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT f_table_schema, f_table_name, f_geometry_column, srid
		FROM geometry_columns
		ORDER BY f_table_schema, f_table_name, f_geometry_column`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.layers = make(map[string]pgLayer)
	var names []string
	for rows.Next() {
		var l pgLayer
		if err := rows.Scan(&l.schema, &l.table, &l.column, &l.srid); err != nil {
			return nil, err
		}
		name := l.schema + "." + l.table
		if _, dup := s.layers[name]; dup {
			name += "." + l.column
		}
		s.layers[name] = l
		names = append(names, name)
	}

	return names, rows.Err()
}

func (s *postgisSource) ReadLayer(ctx context.Context, layer string) ([]Feature, error) {
	l, ok := s.layers[layer]
	if !ok {
		return nil, fmt.Errorf("no layer %q", layer)
	}

	geom := pgx.Identifier{l.column}.Sanitize()
	expr := "ST_AsBinary(" + geom + ")"
	srid := l.srid
	if srid != SRIDUndefined && srid != SRIDWGS84 {
		expr = "ST_AsBinary(ST_Transform(" + geom + ", 4326))"
		srid = SRIDWGS84
	}

	query := fmt.Sprintf("SELECT %s, to_jsonb(t) - $1::text FROM %s AS t",
		expr, pgx.Identifier{l.schema, l.table}.Sanitize())

	rows, err := s.conn.Query(ctx, query, l.column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var (
			blob  []byte
			props map[string]interface{}
		)
		if err := rows.Scan(&blob, &props); err != nil {
			return nil, err
		}

		f := Feature{Layer: layer, Index: len(out), Properties: props}
		if len(blob) > 0 {
			g, err := wkb.Unmarshal(blob)
			if err != nil {
				return nil, fmt.Errorf("row %d: decode wkb: %w", len(out), err)
			}
			if f.Geometry, err = toWGS84(g, srid); err != nil {
				return nil, err
			}
		}
		out = append(out, f)
	}

	return out, rows.Err()
}

func (s *postgisSource) Close() error {
	return s.conn.Close(context.Background())
}
