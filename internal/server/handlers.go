// Package server implements the HTTP timeline viewer over downloaded series.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"

	"github.com/woozymasta/basemaphist/internal/months"

	"github.com/chai2010/webp"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

const (
	etagCap = 64

	defaultPreviewWidth = 512
	maxPreviewWidth     = 4096
	defaultQuality      = 80
)

// PreviewParams are the query parameters of a WebP preview.
type PreviewParams struct {
	Width   int     `schema:"width"`
	Quality float32 `schema:"quality"`
}

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// Router wires the viewer routes.
func (s *ServerContext) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.Metrics))

	r.Get("/", s.HandleIndex)
	r.Get("/favicon.svg", s.HandleFavicon)
	r.Get("/api/series", s.HandleSeriesList)
	r.Get("/api/points.geojson", s.HandlePoints)
	r.Get("/series/{dir}/{file}", s.HandleSeriesFile)

	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

// HandleSeriesList serves the JSON list of available series.
func (s *ServerContext) HandleSeriesList(w http.ResponseWriter, r *http.Request) {
	series, err := s.Series()
	if err != nil {
		log.Error().Err(err).Str("root", s.Root).Msg("Failed to scan series")
		http.Error(w, "failed to scan series", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(series)
}

// HandlePoints serves the series centres as a GeoJSON feature collection.
func (s *ServerContext) HandlePoints(w http.ResponseWriter, r *http.Request) {
	series, err := s.Series()
	if err != nil {
		log.Error().Err(err).Str("root", s.Root).Msg("Failed to scan series")
		http.Error(w, "failed to scan series", http.StatusInternalServerError)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, item := range series {
		f := geojson.NewFeature(orb.Point{item.Lon, item.Lat})
		f.Properties["series"] = item.Name
		f.Properties["months"] = len(item.Months)
		fc.Append(f)
	}

	w.Header().Set("Content-Type", "application/geo+json")
	_ = json.NewEncoder(w).Encode(fc)
}

// HandleFavicon serves the site favicon.
func (s *ServerContext) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(s.Favicon)
}

// HandleIndex serves the main HTML application.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	etag := fmt.Sprintf(`"%x"`, len(s.IndexHTML))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}

// HandleSeriesFile serves /series/{dir}/{month}.tif as is and
// /series/{dir}/{month}.webp as a resized preview.
func (s *ServerContext) HandleSeriesFile(w http.ResponseWriter, r *http.Request) {
	dir := chi.URLParam(r, "dir")
	file := chi.URLParam(r, "file")

	name, ext, ok := strings.Cut(file, ".")
	if !ok {
		http.NotFound(w, r)
		return
	}

	m, err := months.Parse(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	path, ok := s.rasterPath(dir, m.Token())
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch ext {
	case "tif":
		if !s.serveFile(w, r, path, "image/tiff") {
			http.NotFound(w, r)
		}
	case "webp":
		s.servePreview(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

func (s *ServerContext) servePreview(w http.ResponseWriter, r *http.Request, path string) {
	params := PreviewParams{Width: defaultPreviewWidth, Quality: defaultQuality}
	if err := queryDecoder.Decode(&params, r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if params.Width <= 0 || params.Width > maxPreviewWidth {
		http.Error(w, fmt.Sprintf("width must be in 1..%d", maxPreviewWidth), http.StatusBadRequest)
		return
	}
	if params.Quality < 0 || params.Quality > 100 {
		http.Error(w, "quality must be in 0..100", http.StatusBadRequest)
		return
	}

	info, err := s.Fs.Stat(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	etag := fileETag(info.Size(), info.ModTime().UnixNano(), fmt.Sprintf("w%d-q%g", params.Width, params.Quality))
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	f, err := s.Fs.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	src, err := tiff.Decode(f)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to decode raster")
		http.Error(w, "failed to decode raster", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, resize(src, params.Width), &webp.Options{Quality: params.Quality}); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to encode preview")
		http.Error(w, "failed to encode preview", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(buf.Bytes())
}

// resize scales img to width keeping the aspect ratio. It never enlarges.
func resize(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width >= b.Dx() {
		return img
	}

	height := max(b.Dy()*width/b.Dx(), 1)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// serveFile serves a file with ETag generation.
// It returns true if the file was found and served (or 304).
func (s *ServerContext) serveFile(w http.ResponseWriter, r *http.Request, path string, contentType string) bool {
	info, err := s.Fs.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}

	etag := fileETag(info.Size(), info.ModTime().UnixNano(), "")

	// check If-None-Match (client sent ETag)
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	f, err := s.Fs.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func fileETag(size, modTime int64, suffix string) string {
	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, size, 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, modTime, 16)
	if suffix != "" {
		buf = append(buf, '-')
		buf = append(buf, suffix...)
	}
	buf = append(buf, '"')
	return string(buf)
}
