package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/woozymasta/basemaphist/internal/geotiff"
	"github.com/woozymasta/basemaphist/internal/metrics"

	"github.com/chai2010/webp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

const (
	testRoot   = "/data"
	testSeries = "historical_2016-01_2023-04_3M_2.329102_48.958581"
)

func testRaster(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, geotiff.Encode(&buf, img, geotiff.GeoTransform{
		OriginX:     259274,
		OriginY:     6267836,
		PixelWidth:  2,
		PixelHeight: 2,
	}, geotiff.Options{}))
	return buf.Bytes()
}

func newTestServer(t *testing.T) (*ServerContext, http.Handler) {
	t.Helper()

	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, testSeries)
	require.NoError(t, fs.MkdirAll(dir, 0755))

	raster := testRaster(t, 64, 32)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "2021_01_gdal.tif"), raster, 0644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "2016_04_gdal.tif"), raster, 0644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "2016_07_gdal.tif"), nil, 0644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "2016_10_gdal.tif.part"), raster, 0644))
	require.NoError(t, fs.MkdirAll(filepath.Join(testRoot, "unrelated"), 0755))

	s, err := NewServerContext(fs, testRoot, metrics.New())
	require.NoError(t, err)
	return s, s.Router()
}

func get(h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSeriesList(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(h, "/api/series")
	require.Equal(t, http.StatusOK, rec.Code)

	var series []Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series, 1)

	s := series[0]
	assert.Equal(t, testSeries, s.Name)
	assert.Equal(t, "2016-01", s.Start)
	assert.Equal(t, "2023-04", s.End)
	assert.Equal(t, 3, s.Stride)
	assert.InDelta(t, 2.329102, s.Lon, 1e-9)
	assert.InDelta(t, 48.958581, s.Lat, 1e-9)
	assert.Equal(t, []string{"2016_04", "2021_01"}, s.Months)
	require.Len(t, s.Bounds, 4)
	assert.InDeltaSlice(t, []float64{259274, 6267836, 259402, 6267772}, s.Bounds, 1e-6)
}

func TestSeriesListSkipsBoundsOfPlainTIFF(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join(testRoot, testSeries)
	require.NoError(t, fs.MkdirAll(dir, 0755))

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "2021_01_gdal.tif"), buf.Bytes(), 0644))

	s, err := NewServerContext(fs, testRoot, nil)
	require.NoError(t, err)

	series, err := s.Series()
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, []string{"2021_01"}, series[0].Months)
	assert.Nil(t, series[0].Bounds)
}

func TestPointsGeoJSON(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(h, "/api/points.geojson")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.Point{2.329102, 48.958581}, fc.Features[0].Geometry)
	assert.Equal(t, testSeries, fc.Features[0].Properties["series"])
}

func TestRasterDownload(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(h, "/series/"+testSeries+"/2021_01.tif")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/tiff", rec.Header().Get("Content-Type"))

	info, err := geotiff.ReadInfo(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, geotiff.EPSGWebMercator, info.EPSG)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	rec = get(h, "/series/"+testSeries+"/2021-01.tif", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestRasterNotFound(t *testing.T) {
	_, h := newTestServer(t)

	for _, target := range []string{
		"/series/" + testSeries + "/2016_07.tif", // empty file
		"/series/" + testSeries + "/2016_10.tif", // partial download only
		"/series/" + testSeries + "/2019_01.tif",
		"/series/" + testSeries + "/2021_01.png",
		"/series/" + testSeries + "/notes.tif",
		"/series/unrelated/2021_01.tif",
		"/series/..%2F..%2Fetc/2021_01.tif",
	} {
		assert.Equal(t, http.StatusNotFound, get(h, target).Code, target)
	}
}

func TestPreview(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(h, "/series/"+testSeries+"/2021_01.webp?width=32&quality=70")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))

	cfg, err := webp.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 16, cfg.Height)

	// never enlarged
	rec = get(h, "/series/"+testSeries+"/2021_01.webp?width=1024")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err = webp.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
}

func TestPreviewBadParams(t *testing.T) {
	_, h := newTestServer(t)

	for _, q := range []string{"width=0", "width=99999", "width=abc", "quality=101"} {
		rec := get(h, "/series/"+testSeries+"/2021_01.webp?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestIndexAndMetrics(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Basemap history")

	rec = get(h, "/", "If-None-Match", rec.Header().Get("ETag"))
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = get(h, "/favicon.svg")
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))

	rec = get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `basemaphist_viewer_requests_total{code="200",route="/"} 1`), body)
	assert.Contains(t, body, `basemaphist_viewer_requests_total{code="304",route="/"} 1`)
}
