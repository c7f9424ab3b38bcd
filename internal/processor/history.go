// Package processor drives the per-point download of monthly basemaps.
package processor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/woozymasta/basemaphist/internal/basemap"
	"github.com/woozymasta/basemaphist/internal/config"
	"github.com/woozymasta/basemaphist/internal/features"
	"github.com/woozymasta/basemaphist/internal/metrics"
	"github.com/woozymasta/basemaphist/internal/months"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Options controls a run.
type Options struct {
	OutputDir string
	Start     months.Month
	End       months.Month
	Stride    int
	Buffer    float64
	Width     int
	Height    int
	MaxPoints int
	Force     bool
}

// NewOptions derives run options from the configuration.
func NewOptions(cfg *config.Config, force bool) (Options, error) {
	start, end, err := cfg.Range()
	if err != nil {
		return Options{}, err
	}

	return Options{
		OutputDir: cfg.OutputDir,
		Start:     start,
		End:       end,
		Stride:    cfg.StrideMonths,
		Buffer:    cfg.BufferMeters,
		Width:     cfg.Width,
		Height:    cfg.Height,
		MaxPoints: cfg.MaxPoints,
		Force:     force,
	}, nil
}

// Stats summarizes a run.
type Stats struct {
	Points     int
	Considered int
	Done       int
	Exists     int
}

// Downloader exports every month of every point, strictly sequentially. The
// presence of an output file is the only record of earlier progress.
type Downloader struct {
	fs       afero.Fs
	exporter basemap.Exporter
	metrics  *metrics.Metrics
	progress *Progress
	opts     Options
}

// NewDownloader wires a downloader. metrics and progress may be nil.
func NewDownloader(fs afero.Fs, exporter basemap.Exporter, opts Options, m *metrics.Metrics, progress *Progress) *Downloader {
	return &Downloader{fs: fs, exporter: exporter, opts: opts, metrics: m, progress: progress}
}

// Series returns the directory descriptor of a point.
func (d *Downloader) Series(lon, lat float64) SeriesDir {
	return SeriesDir{Start: d.opts.Start, End: d.opts.End, Stride: d.opts.Stride, Lon: lon, Lat: lat}
}

// Run processes points × months and stops at the first export error.
func (d *Downloader) Run(ctx context.Context, points features.Collection, seq []months.Month) (Stats, error) {
	var stats Stats

	if d.opts.MaxPoints > 0 && len(points) > d.opts.MaxPoints {
		log.Warn().
			Int("points", len(points)).
			Int("max_points", d.opts.MaxPoints).
			Msg("Point list truncated")
		points = points[:d.opts.MaxPoints]
	}

	for i, f := range points {
		p, ok := f.Point()
		if !ok {
			log.Warn().Str("layer", f.Layer).Int("index", f.Index).Msg("Skipping non-point feature")
			continue
		}
		stats.Points++

		series := d.Series(p.Lon(), p.Lat())
		dir := filepath.Join(d.opts.OutputDir, series.Name())

		d.progress.Point(i, len(points), dir)
		log.Info().
			Int("point", i).
			Int("total", len(points)).
			Str("dir", dir).
			Msg("Exporting monthly basemaps")

		for _, m := range seq {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			token := m.Token()
			path := filepath.Join(dir, basemap.DefaultOutput(token))
			stats.Considered++
			d.progress.Month(token)

			if !d.opts.Force && d.exists(path) {
				stats.Exists++
				d.metrics.Export(metrics.StatusExists)
				d.progress.Status(metrics.StatusExists)
				log.Debug().Str("month", token).Str("path", path).Msg("Raster exists, skipping")
				continue
			}

			req := basemap.CenterRequest(token, p.Lon(), p.Lat(), d.opts.Buffer, d.opts.Width, d.opts.Height)
			req.Output = path
			if err := d.exporter.Export(ctx, req); err != nil {
				d.metrics.Export(metrics.StatusFailed)
				return stats, fmt.Errorf("export %s: %w", path, err)
			}

			stats.Done++
			d.metrics.Export(metrics.StatusDone)
			d.progress.Status(metrics.StatusDone)
			log.Debug().Str("month", token).Str("path", path).Msg("Raster done")
		}
	}

	return stats, nil
}

func (d *Downloader) exists(path string) bool {
	info, err := d.fs.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
