package basemap

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"net/http"
	"path/filepath"
	"time"

	"github.com/woozymasta/basemaphist/internal/geo"
	"github.com/woozymasta/basemaphist/internal/geotiff"
	"github.com/woozymasta/basemaphist/internal/metrics"

	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/time/rate"
)

// NativeOptions tunes the native engine.
type NativeOptions struct {
	Client      *http.Client
	Metrics     *metrics.Metrics
	Compression string
	UserAgent   string
	RateLimit   float64 // tile requests per second, 0 is unlimited
	Concurrency int
	Retries     int
}

// NativeEngine fetches the tiles covering a window, mosaics them, resamples the
// exact window and writes a GeoTIFF in EPSG:3857.
type NativeEngine struct {
	fs          afero.Fs
	source      Source
	fetcher     *tileFetcher
	compression string
	concurrency int
}

// NewNativeEngine returns an engine writing to fs.
func NewNativeEngine(fs afero.Fs, source Source, opts NativeOptions) *NativeEngine {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	if opts.Compression == "" {
		opts.Compression = geotiff.Deflate
	}

	return &NativeEngine{
		fs:          fs,
		source:      source,
		compression: opts.Compression,
		concurrency: opts.Concurrency,
		fetcher: &tileFetcher{
			client:    client,
			limiter:   limiter,
			metrics:   opts.Metrics,
			redact:    source.Redact,
			userAgent: opts.UserAgent,
			retries:   opts.Retries,
		},
	}
}

// plan is the tile grid covering a window at one zoom level.
type plan struct {
	zoom           int
	minX, minY     int // tile range, inclusive
	maxX, maxY     int
	px0, py0       float64 // window in global pixels
	px1, py1       float64
	width, height  int // output size
	tileSize       int
	outsideOfWorld bool
}

func (e *NativeEngine) plan(req Request) (plan, error) {
	ts := e.source.TileSize

	// size at the deepest level first, then pick the level matching it
	width, height, err := req.Size(e.source.TileLevel, ts)
	if err != nil {
		return plan{}, err
	}

	res := math.Min(req.Window.Width()/float64(width), req.Window.Height()/float64(height))
	z := geo.ZoomForResolution(res, e.source.TileLevel, ts)

	p := plan{zoom: z, width: width, height: height, tileSize: ts}
	p.px0, p.py0 = geo.PixelAt(req.Window.West, req.Window.North, z, ts)
	p.px1, p.py1 = geo.PixelAt(req.Window.East, req.Window.South, z, ts)

	last := (1 << z) - 1
	p.minX = clamp(int(math.Floor(p.px0/float64(ts))), 0, last)
	p.minY = clamp(int(math.Floor(p.py0/float64(ts))), 0, last)
	p.maxX = clamp(int(math.Ceil(p.px1/float64(ts)))-1, 0, last)
	p.maxY = clamp(int(math.Ceil(p.py1/float64(ts)))-1, 0, last)

	worldPx := float64(ts) * float64(uint64(1)<<uint(z))
	p.outsideOfWorld = p.px1 <= 0 || p.py1 <= 0 || p.px0 >= worldPx || p.py0 >= worldPx

	return p, nil
}

func (p plan) tiles() []maptile.Tile {
	if p.outsideOfWorld || p.maxX < p.minX || p.maxY < p.minY {
		return nil
	}

	out := make([]maptile.Tile, 0, (p.maxX-p.minX+1)*(p.maxY-p.minY+1))
	for y := p.minY; y <= p.maxY; y++ {
		for x := p.minX; x <= p.maxX; x++ {
			out = append(out, maptile.New(uint32(x), uint32(y), maptile.Zoom(p.zoom)))
		}
	}
	return out
}

// Export implements Exporter.
func (e *NativeEngine) Export(ctx context.Context, req Request) error {
	start := time.Now()

	p, err := e.plan(req)
	if err != nil {
		return err
	}

	tiles := p.tiles()
	jobs := make([]job, len(tiles))
	for i, t := range tiles {
		jobs[i] = job{Coord: t, URL: e.source.TileURL(req.Month, t)}
	}

	ts := p.tileSize
	mosaic := image.NewRGBA(image.Rect(0, 0, (p.maxX-p.minX+1)*ts, (p.maxY-p.minY+1)*ts))
	draw.Draw(mosaic, mosaic.Bounds(), image.Black, image.Point{}, draw.Src)

	var found int
	err = e.fetcher.fetchBatch(ctx, e.concurrency, jobs, func(r result) {
		if r.Img == nil {
			return
		}
		found++

		ox := (int(r.Coord.X) - p.minX) * ts
		oy := (int(r.Coord.Y) - p.minY) * ts
		dst := image.Rect(ox, oy, ox+ts, oy+ts)
		if r.Img.Bounds().Dx() == ts && r.Img.Bounds().Dy() == ts {
			draw.Draw(mosaic, dst, r.Img, r.Img.Bounds().Min, draw.Over)
		} else {
			xdraw.ApproxBiLinear.Scale(mosaic, dst, r.Img, r.Img.Bounds(), draw.Over, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", req.Month, err)
	}

	out := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)

	// mosaic pixel -> output pixel
	sx := float64(p.width) / (p.px1 - p.px0)
	sy := float64(p.height) / (p.py1 - p.py0)
	offX := p.px0 - float64(p.minX*ts)
	offY := p.py0 - float64(p.minY*ts)
	s2d := f64.Aff3{
		sx, 0, -offX * sx,
		0, sy, -offY * sy,
	}
	xdraw.CatmullRom.Transform(out, s2d, mosaic, mosaic.Bounds(), draw.Src, nil)

	gt := geotiff.GeoTransform{
		OriginX:     req.Window.West,
		OriginY:     req.Window.North,
		PixelWidth:  req.Window.Width() / float64(p.width),
		PixelHeight: req.Window.Height() / float64(p.height),
	}

	if err := e.write(req.OutputPath(), out, gt); err != nil {
		return err
	}

	log.Debug().
		Str("month", req.Month).
		Str("path", req.OutputPath()).
		Int("zoom", p.zoom).
		Int("tiles", len(tiles)).
		Int("tiles_found", found).
		Int("width", p.width).
		Int("height", p.height).
		Dur("took", time.Since(start)).
		Msg("Raster exported")

	return nil
}

// write encodes to a sibling .part file and renames it into place, so an
// interrupted export never leaves a file that looks complete.
func (e *NativeEngine) write(path string, img image.Image, gt geotiff.GeoTransform) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := e.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".part"
	f, err := e.fs.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = e.fs.Remove(tmp)
		}
	}()

	if err = geotiff.Encode(f, img, gt, geotiff.Options{
		Compression: e.compression,
		Software:    "basemaphist",
		EPSG:        geotiff.EPSGWebMercator,
	}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return err
	}

	return e.fs.Rename(tmp, path)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
