package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/woozymasta/basemaphist/internal/config"
	"github.com/woozymasta/basemaphist/internal/features"
	"github.com/woozymasta/basemaphist/internal/logger"
	"github.com/woozymasta/basemaphist/internal/processor"

	"github.com/jessevdk/go-flags"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Input      string `short:"i" long:"in"     description:"Vector dataset (.geojson, .kml, .kmz, .gpkg or postgres:// DSN)" required:"true"`
	Output     string `short:"o" long:"out"    description:"Output file path. Writes to stdout if empty"`
	Format     string `short:"f" long:"format" description:"Output format" choice:"json" choice:"yaml" default:"json"`
	ConfigFile string `short:"c" long:"config" env:"CONFIG_FILE" description:"Configuration used to name series directories" default:"config.yaml"`
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

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	runOpts, err := processor.NewOptions(cfg, false)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	all, err := features.Load(context.Background(), opts.Input)
	if err != nil {
		log.Fatal().Err(err).Str("input", opts.Input).Msg("Failed to load features")
	}

	fc := processor.NewDownloader(nil, nil, runOpts, nil, nil).Points(all.Points())

	log.Info().
		Int("features", len(all)).
		Int("points", len(fc.Features)).
		Msg("Points collected")

	if opts.Output != "" && opts.Format == "json" {
		if err := processor.SaveGeoJSON(afero.NewOsFs(), opts.Output, fc); err != nil {
			log.Fatal().Err(err).Str("path", opts.Output).Msg("Failed to write points")
		}
		return
	}

	// marshal
	var outputData []byte
	if opts.Format == "yaml" {
		outputData, err = marshalYAML(fc)
	} else {
		outputData, err = json.MarshalIndent(fc, "", "  ")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal points")
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, outputData, 0644); err != nil {
			log.Fatal().Err(err).Str("path", opts.Output).Msg("Failed to write points")
		}
		return
	}

	fmt.Println(string(outputData))
}

// marshalYAML renders the GeoJSON document as YAML. orb geometries only know
// their JSON form, so the collection goes through a generic JSON tree first.
func marshalYAML(fc *geojson.FeatureCollection) ([]byte, error) {
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, err
	}

	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	return yaml.Marshal(tree)
}
