package basemap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/woozymasta/basemaphist/internal/geo"
)

// ErrEngineUnavailable is returned when an engine is not compiled in.
var ErrEngineUnavailable = errors.New("export engine unavailable")

// Exporter writes one monthly crop.
type Exporter interface {
	Export(ctx context.Context, req Request) error
}

// Request describes one crop of one monthly mosaic.
type Request struct {
	Month  string // YYYY_MM token
	Output string // defaults to {month}_gdal.tif
	Window geo.ProjWin
	Width  int // 0 derives from Height and the window aspect
	Height int // 0 derives from Width and the window aspect
}

// CenterRequest builds a request for a square window of side buffer around lon/lat.
func CenterRequest(month string, lon, lat, buffer float64, width, height int) Request {
	return Request{
		Month:  month,
		Window: geo.CenterBuffer(lon, lat, buffer),
		Width:  width,
		Height: height,
	}
}

// OutputPath returns the destination file name.
func (r Request) OutputPath() string {
	if r.Output != "" {
		return r.Output
	}
	return DefaultOutput(r.Month)
}

// DefaultOutput is the file name used for a month when none is given.
func DefaultOutput(month string) string {
	return month + "_gdal.tif"
}

// Size resolves the output raster size. When both sides are zero the
// native resolution of zoom level z is used.
func (r Request) Size(z, tileSize int) (width, height int, err error) {
	ww, wh := r.Window.Width(), r.Window.Height()
	if !(ww > 0) || !(wh > 0) {
		return 0, 0, fmt.Errorf("empty window %v", r.Window.Slice())
	}
	if r.Width < 0 || r.Height < 0 {
		return 0, 0, fmt.Errorf("negative size %dx%d", r.Width, r.Height)
	}

	width, height = r.Width, r.Height
	switch {
	case width > 0 && height > 0:
	case width > 0:
		height = atLeastOne(float64(width) * wh / ww)
	case height > 0:
		width = atLeastOne(float64(height) * ww / wh)
	default:
		res := geo.Resolution(z, tileSize)
		width, height = atLeastOne(ww/res), atLeastOne(wh/res)
	}

	return width, height, nil
}

// TranslateSwitches are the gdal_translate arguments for the request.
func (r Request) TranslateSwitches(compression string) []string {
	sw := []string{
		"-of", "GTiff",
		"-outsize", strconv.Itoa(r.Width), strconv.Itoa(r.Height),
		"-projwin",
		ftoa(r.Window.West), ftoa(r.Window.North), ftoa(r.Window.East), ftoa(r.Window.South),
		"-projwin_srs", "EPSG:3857",
	}
	if compression == "deflate" {
		sw = append(sw, "-co", "COMPRESS=DEFLATE")
	}
	return sw
}

func atLeastOne(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
