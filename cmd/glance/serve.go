package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/glance/internal/app"
	"github.com/ent0n29/glance/internal/config"
	"github.com/ent0n29/glance/internal/logging"
)

func newServeCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP + websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	return cmd
}

func runServe(parent context.Context, envFile string) error {
	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.Production(), os.Stdout)
	if envErr != nil {
		logger.WithField("file", envFile).Debug("no dotenv file loaded, using environment only")
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           res.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Hijacked websocket connections are invisible to Shutdown; closing the
	// sessions makes their engines return.
	httpServer.RegisterOnShutdown(res.Sessions.CloseAll)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	res.Sessions.StartJanitor(runCtx, 5*time.Second)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.BindAddr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = res.Cleanup(cleanupCtx)
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
		_ = httpServer.Close()
	}
	if err := res.Cleanup(shutdownCtx); err != nil {
		logger.WithError(err).Warn("cleanup failed")
	}
	logger.Info("shutdown complete")
	return nil
}
