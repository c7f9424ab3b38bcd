package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/woozymasta/basemaphist/internal/config"
	"github.com/woozymasta/basemaphist/internal/logger"
	"github.com/woozymasta/basemaphist/internal/metrics"
	"github.com/woozymasta/basemaphist/internal/server"

	"github.com/jessevdk/go-flags"
	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"     env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	Dir        string `short:"d" long:"dir"        env:"OUTPUT_DIR"     description:"Directory holding the series, defaults to output_dir of the configuration"`
	Addr       string `short:"a" long:"addr"       env:"LISTEN_ADDRESS" description:"Address to listen on"       default:"0.0.0.0"`
	Port       int    `short:"p" long:"port"       env:"LISTEN_PORT"    description:"Port to listen on"          default:"8080"`
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

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.Dir == "" {
		opts.Dir = cfg.OutputDir
	}

	srvCtx, err := server.NewServerContext(afero.NewOsFs(), opts.Dir, metrics.New())
	if err != nil {
		log.Fatal().Err(err).Str("dir", opts.Dir).Msg("Failed to initialize server")
	}

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", listenAddr).Msg("Failed to listen")
	}

	srv := &http.Server{
		Handler:           srvCtx.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group
	{
		g.Add(func() error {
			log.Info().
				Str("addr", ln.Addr().String()).
				Str("dir", opts.Dir).
				Msg("Web server started")
			return srv.Serve(ln)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	{
		g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))
	}

	err = g.Run()

	var sig run.SignalError
	switch {
	case errors.As(err, &sig):
		log.Info().Str("signal", sig.Signal.String()).Msg("Web server stopped")
	case err != nil && !errors.Is(err, http.ErrServerClosed):
		log.Fatal().Err(err).Msg("Server failed")
	}
}
