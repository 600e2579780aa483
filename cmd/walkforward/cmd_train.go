package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantlab/walkforward/internal/config"
	"github.com/quantlab/walkforward/internal/dataset"
	"github.com/quantlab/walkforward/internal/infrastructure/db"
	httpapi "github.com/quantlab/walkforward/internal/interfaces/http"
	wflog "github.com/quantlab/walkforward/internal/log"
	"github.com/quantlab/walkforward/internal/metrics"
	"github.com/quantlab/walkforward/internal/model"
	"github.com/quantlab/walkforward/internal/persistence"
	"github.com/quantlab/walkforward/internal/registry"
	"github.com/quantlab/walkforward/internal/schedule"
	"github.com/quantlab/walkforward/internal/telemetry"
	"github.com/quantlab/walkforward/internal/train"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a full walk-forward validation pass",
	Long: `Loads the feature dataset, schedules train/validation windows per
the configured mode, trains one model per window, and stores every
successful model in the artifact registry.

Examples:
  walkforward train
  walkforward train --variant gbst --seed 42
  walkforward train --workers 4 --out runs/summary.json
  walkforward train --stream-port 8080`,
	RunE: runTrain,
}

var (
	trainVariant    string
	trainSeed       int64
	trainWorkers    int
	trainOut        string
	trainQuiet      bool
	trainStreamPort int
)

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVar(&trainVariant, "variant", "", "Model variant override (baseline|gbst|seqnet)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", -1, "Random seed override (>= 0)")
	trainCmd.Flags().IntVar(&trainWorkers, "workers", 0, "Parallel window workers override")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "Write the run summary JSON to this file")
	trainCmd.Flags().BoolVar(&trainQuiet, "quiet", false, "Suppress the progress bar")
	trainCmd.Flags().IntVar(&trainStreamPort, "stream-port", 0, "Serve the HTTP API (with the live run-event stream) on this port while training")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if trainVariant != "" {
		cfg.Model.Variant = trainVariant
	}
	if trainSeed >= 0 {
		cfg.Model.Seed = trainSeed
	}
	if trainWorkers > 0 {
		cfg.Trainer.Workers = trainWorkers
	}

	ds, err := dataset.LoadCSV(cfg.Dataset.Path, dataset.Options{
		TimeColumn:    cfg.Dataset.TimeColumn,
		EntityColumn:  cfg.Dataset.EntityColumn,
		FeaturePrefix: cfg.Dataset.FeaturePrefix,
		SchemaVersion: cfg.Dataset.SchemaVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	log.Info().
		Str("path", cfg.Dataset.Path).
		Int("time_points", ds.Len()).
		Int("rows", ds.Rows()).
		Strs("features", ds.Features()).
		Msg("dataset loaded")

	factory, err := model.NewFactory(model.Variant(cfg.Model.Variant))
	if err != nil {
		return err
	}

	reg, tel, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	ms, err := metrics.ByName(cfg.Trainer.Metrics...)
	if err != nil {
		return err
	}

	trainer := train.New(ds, factory, reg, train.Config{
		Schedule:          cfg.Schedule,
		Target:            cfg.Dataset.Target,
		Model:             cfg.ModelParams(),
		Metrics:           ms,
		PrimaryMetric:     cfg.Trainer.PrimaryMetric,
		DegradationStreak: cfg.Trainer.DegradationStreak,
		Timeout:           cfg.Trainer.Timeout.Std(),
		Workers:           cfg.Trainer.Workers,
	})
	trainer.SetTelemetry(tel)

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return err
	}
	defer manager.Close()
	if manager.IsEnabled() {
		trainer.SetRecorder(persistence.NewRecorder(manager.Runs(), cfg.Model.Variant))
	}

	progress := wflog.NewProgress("training", countWindows(cfg.Schedule, ds.Len()), trainQuiet)
	sinks := []train.EventSink{&progressSink{progress: progress}}

	if trainStreamPort > 0 {
		serverCfg := cfg.Server
		serverCfg.Port = trainStreamPort

		promReg := prometheus.NewRegistry()
		if err := tel.Register(promReg); err != nil {
			return err
		}
		var runs persistence.RunsRepo
		if manager.IsEnabled() {
			runs = manager.Runs()
		}
		server := httpapi.NewServer(serverCfg, reg, runs, nil, promReg)

		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("stream server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("stream server shutdown")
			}
		}()

		// window events fan out to the console bar and the websocket hub
		sinks = append(sinks, server.Hub())
	}
	trainer.SetEventSink(train.MultiSink(sinks...))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := trainer.Run(ctx)
	if err != nil {
		progress.Fail(err.Error())
		return err
	}
	progress.Finish()

	for _, warning := range summary.Warnings {
		log.Warn().Msg(warning)
	}

	return writeSummary(summary, trainOut)
}

// openRegistry builds the artifact registry stack: filesystem store,
// optional Redis metadata cache, Prometheus counters.
func openRegistry(cfg config.Config) (registry.Registry, *telemetry.Metrics, error) {
	store, err := registry.Open(cfg.Registry.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact registry: %w", err)
	}

	tel := telemetry.New()

	if !cfg.Registry.Cache.Enabled {
		return store, tel, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Registry.Cache.Addr})
	cached := registry.NewCached(store, client, registry.CacheConfig{
		TTL: cfg.Registry.Cache.TTL.Std(),
	})
	cached.SetStats(tel)
	return cached, tel, nil
}

// countWindows sizes the progress bar without consuming the trainer's
// scheduler
func countWindows(cfg schedule.Config, indexLen int) int {
	sched, err := schedule.New(cfg, indexLen)
	if err != nil {
		return 0
	}
	count := 0
	for {
		if _, ok := sched.Next(); !ok {
			return count
		}
		count++
	}
}

// progressSink adapts the console progress bar onto the trainer's
// event stream
type progressSink struct {
	progress *wflog.Progress
}

func (s *progressSink) Publish(event train.Event) {
	s.progress.WindowDone(event.Run.Status == train.StatusSucceeded)
}

func writeSummary(summary *train.Summary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	log.Info().Str("path", path).Msg("summary written")
	return nil
}
