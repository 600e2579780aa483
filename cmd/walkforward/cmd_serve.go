package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantlab/walkforward/internal/config"
	"github.com/quantlab/walkforward/internal/infrastructure/db"
	httpapi "github.com/quantlab/walkforward/internal/interfaces/http"
	"github.com/quantlab/walkforward/internal/persistence"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only registry and run-history API",
	Long: `Starts the HTTP server exposing artifact metadata, run history,
Prometheus metrics, and the live run-event websocket stream.

Examples:
  walkforward serve
  walkforward serve --port 9090`,
	RunE: runServe,
}

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port override")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	reg, tel, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	if err := tel.Register(promReg); err != nil {
		return err
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return err
	}
	defer manager.Close()

	var runs persistence.RunsRepo
	if manager.IsEnabled() {
		runs = manager.Runs()
	}

	server := httpapi.NewServer(cfg.Server, reg, runs, nil, promReg)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
