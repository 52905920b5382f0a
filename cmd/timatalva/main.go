// Command timatalva serves the adapter's JSON HTTP API in front of the
// upstream timetable system.
//
// Startup sequence:
//  1. Load configuration (YAML file or defaults, overridden by TIMATALVA_*
//     environment variables).
//  2. Build the shared transport.Client (with proxy rotation, if
//     configured), teacher cache, and orchestrator.
//  3. Mount the chi router and serve until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skulanet/timatalva/api"
	"github.com/skulanet/timatalva/config"
	"github.com/skulanet/timatalva/logger"
	"github.com/skulanet/timatalva/orchestrator"
	"github.com/skulanet/timatalva/teachercache"
	"github.com/skulanet/timatalva/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "timatalva",
		Short: "JSON HTTP adapter for the upstream timetable system",
	}

	var configPath string
	var logLevel string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, or error")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, logLevel)
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

func runServe(configPath, logLevel string) error {
	log := logger.New(parseLevel(logLevel))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("timatalva: %w", err)
	}

	client, err := transport.New(transport.Options{
		BaseURL:        cfg.UpstreamBaseURL,
		MaxRetries:     cfg.Defaults.MaxRetries,
		BackoffFactor:  cfg.Defaults.BackoffFactor,
		RequestTimeout: cfg.Defaults.RequestTimeout(),
		ProxyFile:      cfg.ProxyFile,
	})
	if err != nil {
		return fmt.Errorf("timatalva: %w", err)
	}
	if cfg.ProxyFile != "" {
		log.Infof("proxy rotation enabled from %s", cfg.ProxyFile)
	}

	teacherCache, err := teachercache.New(time.Duration(cfg.Defaults.TeacherCacheTTLSec) * time.Second)
	if err != nil {
		return fmt.Errorf("timatalva: %w", err)
	}

	orch := orchestrator.New(client, teacherCache, log)
	handler := api.NewRouter(orch, cfg.Defaults, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (upstream %s)", cfg.ListenAddr, cfg.UpstreamBaseURL)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("timatalva: server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
