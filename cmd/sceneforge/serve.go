package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sceneforge/internal/logging"
	serverhttp "sceneforge/internal/server/http"
	"sceneforge/internal/task"
)

const shutdownGrace = 20 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := logging.FromObservabilityWithComponent(logger, "Serve")

		comps, err := buildComponents(cfg, logger)
		if err != nil {
			return err
		}

		manager := task.NewManager(task.ManagerConfig{
			Workers:         cfg.Tasks.Workers,
			EventBufferSize: cfg.Tasks.EventBufferSize,
			RetentionSize:   cfg.Tasks.RetentionSize,
			RetentionTTL:    cfg.Tasks.RetentionTTL,
			TaskTimeout:     cfg.Tasks.TaskTimeout,
			Logger:          logging.FromObservabilityWithComponent(logger, "TaskManager"),
			Metrics:         comps.metrics,
		})

		router := serverhttp.NewRouter(manager, comps.orchestrator, serverhttp.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Defaults:       comps.defaults,
			Metrics:        comps.metrics,
			Logger:         logging.FromObservabilityWithComponent(logger, "HTTP"),
			Version:        Version,
		})

		srv := serverhttp.NewServer(cfg.Server.Addr(), router,
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout,
			logging.FromObservabilityWithComponent(logger, "HTTPServer"))

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-stop:
			log.Info("received %s, shutting down", sig)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown: %v", err)
		}
		if err := manager.Close(shutdownCtx); err != nil {
			log.Warn("task manager shutdown: %v", err)
		}
		if comps.tracer != nil {
			if err := comps.tracer.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracer shutdown: %v", err)
			}
		}
		log.Info("shutdown complete")
		return nil
	},
}
