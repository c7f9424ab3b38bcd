package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/woozymasta/basemaphist/internal/basemap"
	"github.com/woozymasta/basemaphist/internal/config"
	"github.com/woozymasta/basemaphist/internal/features"
	"github.com/woozymasta/basemaphist/internal/logger"
	"github.com/woozymasta/basemaphist/internal/metrics"
	"github.com/woozymasta/basemaphist/internal/months"
	"github.com/woozymasta/basemaphist/internal/processor"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Args struct {
		Input string `positional-arg-name:"INPUT" description:"Vector dataset (.geojson, .kml, .kmz, .gpkg or postgres:// DSN)"`
	} `positional-args:"yes" required:"yes"`

	ConfigFile  string  `short:"c" long:"config"       env:"CONFIG_FILE"  description:"Path to configuration file" default:"config.yaml"`
	EnvFile     string  `short:"e" long:"env-file"     env:"ENV_FILE"     description:"Key-value file holding the API key" default:".env"`
	OutputDir   string  `short:"o" long:"output-dir"   env:"OUTPUT_DIR"   description:"Directory receiving the series directories"`
	Engine      string  `short:"E" long:"engine"       env:"ENGINE"       description:"Raster engine" choice:"native" choice:"gdal"`
	Start       string  `long:"start"                  env:"START_MONTH"  description:"First month (YYYY-MM)"`
	End         string  `long:"end"                    env:"END_MONTH"    description:"Last month, inclusive (YYYY-MM)"`
	Stride      int     `long:"stride"                 env:"STRIDE"       description:"Months between two rasters"`
	Buffer      float64 `short:"b" long:"buffer"       env:"BUFFER"       description:"Side of the square window in meters"`
	Width       int     `short:"W" long:"width"        env:"WIDTH"        description:"Output width in pixels"`
	Height      int     `short:"H" long:"height"       env:"HEIGHT"       description:"Output height in pixels"`
	MaxPoints   int     `short:"m" long:"max-points"   env:"MAX_POINTS"   description:"Maximum number of points processed"`
	Concurrency int     `short:"p" long:"concurrency"  env:"CONCURRENCY"  description:"Parallel tile requests per raster"`
	RateLimit   float64 `short:"r" long:"rate"         env:"RATE_LIMIT"   description:"Tile requests per second, 0 is unlimited"`
	Retries     int     `long:"retries"                env:"RETRIES"      description:"Retries of a failed tile request"`
	Script      string  `short:"s" long:"script"       env:"SCRIPT_FILE"  description:"Write gdal_translate commands to this file instead of downloading"`
	MetricsFile string  `long:"metrics-file"           env:"METRICS_FILE" description:"Write counters in node exporter textfile format"`
	Force       bool    `short:"f" long:"force"        description:"Force overwrite of existing files"`
	Progress    bool    `short:"P" long:"progress"     description:"Print progress even when stdout is not a terminal"`
}

// apply overrides configuration values with the flags that were set on the
// command line or through the environment, zero values included.
func (o *Options) apply(cfg *config.Config, isSet func(long string) bool) {
	if isSet("output-dir") {
		cfg.OutputDir = o.OutputDir
	}
	if isSet("engine") {
		cfg.Engine = o.Engine
	}
	if isSet("start") {
		cfg.StartMonth = o.Start
	}
	if isSet("end") {
		cfg.EndMonth = o.End
	}
	if isSet("stride") {
		cfg.StrideMonths = o.Stride
	}
	if isSet("buffer") {
		cfg.BufferMeters = o.Buffer
	}
	if isSet("width") {
		cfg.Width = o.Width
	}
	if isSet("height") {
		cfg.Height = o.Height
	}
	if isSet("max-points") {
		cfg.MaxPoints = o.MaxPoints
	}
	if isSet("concurrency") {
		cfg.Concurrency = o.Concurrency
	}
	if isSet("rate") {
		cfg.RateLimit = o.RateLimit
	}
	if isSet("retries") {
		cfg.Retries = o.Retries
	}
}

// flagSetter reports whether a long option was given to the parser.
func flagSetter(parser *flags.Parser) func(string) bool {
	return func(long string) bool {
		opt := parser.FindOptionByLongName(long)
		return opt != nil && opt.IsSet()
	}
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()
	log.Logger = log.With().Str("run_id", uuid.NewString()).Logger()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	opts.apply(cfg, flagSetter(parser))

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Script mode leaves the key to the shell running the script.
	if err := cfg.LoadSecrets(opts.EnvFile); err != nil {
		if opts.Script == "" || !errors.Is(err, config.ErrMissingAPIKey) {
			log.Fatal().Err(err).Str("env_file", opts.EnvFile).Msg("Failed to load API key")
		}
	}

	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	{
		g.Add(func() error {
			return download(ctx, cfg, &opts, m)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	err = g.Run()

	if werr := m.WriteTextfile(opts.MetricsFile); werr != nil {
		log.Error().Err(werr).Str("path", opts.MetricsFile).Msg("Failed to write metrics")
	}

	var sig run.SignalError
	switch {
	case errors.As(err, &sig):
		log.Warn().Str("signal", sig.Signal.String()).Msg("Interrupted, rerun to resume")
		os.Exit(130)
	case err != nil:
		log.Fatal().Err(err).Msg("Download failed")
	}

	log.Info().Msg("Downloader finished successfully")
}

func download(ctx context.Context, cfg *config.Config, opts *Options, m *metrics.Metrics) error {
	seq, err := cfg.Months()
	if err != nil {
		return err
	}

	runOpts, err := processor.NewOptions(cfg, opts.Force)
	if err != nil {
		return err
	}

	all, err := features.Load(ctx, opts.Args.Input)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.Args.Input, err)
	}
	points := all.Points()

	log.Info().
		Str("input", opts.Args.Input).
		Int("features", len(all)).
		Int("points", len(points)).
		Interface("layers", all.CountByLayer()).
		Msg("Loaded features")

	log.Info().
		Strs("months", months.Tokens(seq)).
		Str("engine", cfg.Engine).
		Str("output_dir", cfg.OutputDir).
		Float64("buffer", cfg.BufferMeters).
		Msg("Starting downloader")

	source := basemap.NewSource(cfg.Source)

	progress := newProgress(opts.Progress, os.Stdout)

	if opts.Script != "" {
		return writeScript(ctx, opts.Script, source, cfg, runOpts, m, points, seq)
	}

	exporter, err := newExporter(cfg, source, m)
	if err != nil {
		return err
	}

	d := processor.NewDownloader(afero.NewOsFs(), exporter, runOpts, m, progress)
	stats, err := d.Run(ctx, points, seq)

	log.Info().
		Int("points", stats.Points).
		Int("considered", stats.Considered).
		Int("done", stats.Done).
		Int("exists", stats.Exists).
		Msg("Run summary")

	return err
}

func newExporter(cfg *config.Config, source basemap.Source, m *metrics.Metrics) (basemap.Exporter, error) {
	if cfg.Engine == config.EngineGDAL {
		engine, err := basemap.NewGDALEngine(source, cfg.Compression)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.Timeout,
	}

	return basemap.NewNativeEngine(afero.NewOsFs(), source, basemap.NativeOptions{
		Client:      client,
		Metrics:     m,
		Compression: cfg.Compression,
		UserAgent:   "basemaphist",
		RateLimit:   cfg.RateLimit,
		Concurrency: cfg.Concurrency,
		Retries:     cfg.Retries,
	}), nil
}

func writeScript(
	ctx context.Context,
	path string,
	source basemap.Source,
	cfg *config.Config,
	runOpts processor.Options,
	m *metrics.Metrics,
	points features.Collection,
	seq []months.Month,
) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	script := basemap.NewScriptExporter(f, source, cfg.Compression)
	d := processor.NewDownloader(afero.NewOsFs(), script, runOpts, m, nil)
	if _, err := d.Run(ctx, points, seq); err != nil {
		return err
	}

	log.Info().
		Str("path", path).
		Int("commands", script.Commands()).
		Msg("GDAL script written")

	return nil
}

// newProgress prints console progress to w when forced or when w is a
// terminal. Logs go to stderr, so the two streams stay separable.
func newProgress(force bool, w io.Writer) *processor.Progress {
	if force || logger.IsTerminal(w) {
		return processor.NewProgress(w)
	}
	return nil
}
