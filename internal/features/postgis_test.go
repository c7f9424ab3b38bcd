package features

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPostGIS(t *testing.T) {
	// Requires a PostGIS database with at least one point table.
	dsn := os.Getenv("POSTGIS_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGIS_TEST_DSN not set")
	}

	all, err := Load(context.Background(), dsn)
	require.NoError(t, err)

	for _, f := range all.Points() {
		p, ok := f.Point()
		require.True(t, ok)
		assert.True(t, p.X() >= -180 && p.X() <= 180, "lon %v", p.X())
		assert.True(t, p.Y() >= -90 && p.Y() <= 90, "lat %v", p.Y())
	}
}
