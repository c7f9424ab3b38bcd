package processor

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/woozymasta/basemaphist/internal/basemap"
	"github.com/woozymasta/basemaphist/internal/months"
)

const seriesPrefix = "historical_"

// SeriesDir names the directory holding the monthly rasters of one point,
// historical_{start}_{end}_{stride}M_{lon}_{lat}.
type SeriesDir struct {
	Start  months.Month
	End    months.Month
	Stride int
	Lon    float64
	Lat    float64
}

// Name returns the directory name, coordinates at six decimals.
func (s SeriesDir) Name() string {
	return fmt.Sprintf("%s%s_%s_%dM_%.6f_%.6f", seriesPrefix, s.Start, s.End, s.Stride, s.Lon, s.Lat)
}

// File returns the path of one month inside the directory.
func (s SeriesDir) File(month months.Month) string {
	return path.Join(s.Name(), basemap.DefaultOutput(month.Token()))
}

// ParseSeriesDir reverses Name.
func ParseSeriesDir(name string) (SeriesDir, error) {
	rest, ok := strings.CutPrefix(name, seriesPrefix)
	if !ok {
		return SeriesDir{}, fmt.Errorf("%q is not a series directory", name)
	}

	parts := strings.Split(rest, "_")
	if len(parts) != 5 {
		return SeriesDir{}, fmt.Errorf("%q: expected 5 fields, got %d", name, len(parts))
	}

	var (
		s   SeriesDir
		err error
	)
	if s.Start, err = months.Parse(parts[0]); err != nil {
		return SeriesDir{}, err
	}
	if s.End, err = months.Parse(parts[1]); err != nil {
		return SeriesDir{}, err
	}

	stride, ok := strings.CutSuffix(parts[2], "M")
	if !ok {
		return SeriesDir{}, fmt.Errorf("%q: bad stride %q", name, parts[2])
	}
	if s.Stride, err = strconv.Atoi(stride); err != nil {
		return SeriesDir{}, fmt.Errorf("%q: bad stride: %w", name, err)
	}
	if s.Lon, err = strconv.ParseFloat(parts[3], 64); err != nil {
		return SeriesDir{}, fmt.Errorf("%q: bad longitude: %w", name, err)
	}
	if s.Lat, err = strconv.ParseFloat(parts[4], 64); err != nil {
		return SeriesDir{}, fmt.Errorf("%q: bad latitude: %w", name, err)
	}

	return s, nil
}

// MonthFromFile extracts the month from a raster file name.
func MonthFromFile(name string) (months.Month, bool) {
	token, ok := strings.CutSuffix(name, basemap.DefaultOutput(""))
	if !ok {
		return months.Month{}, false
	}
	m, err := months.Parse(token)
	return m, err == nil
}
