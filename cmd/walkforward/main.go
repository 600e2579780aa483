package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "walkforward"
	version = "v1.2.0"
)

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "Walk-forward validation engine and model artifact registry",
	Version: version,
	Long: `walkforward trains forecasting models over rolling or expanding
time windows with embargo gaps, evaluates each window on strictly
out-of-sample data, and versions every trained model in the artifact
registry.

Run 'walkforward train' for a full validation pass, 'walkforward
registry' to inspect stored artifacts, and 'walkforward serve' for the
read-only HTTP API.`,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/walkforward.yaml", "Path to YAML configuration")
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
