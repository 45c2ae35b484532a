package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the scrape job workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	application, err := app.New(ctx, rt.cfg, rt.logger, app.Overrides{})
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer application.Close()

	if _, err := application.Orchestrator.FailStale(ctx); err != nil {
		return fmt.Errorf("fail stale jobs: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           application.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		rt.logger.Info("dispatcher started", zap.Int("workers", application.Dispatcher.Size()))
		application.Dispatcher.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("http server started", zap.Int("port", rt.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			rt.logger.Error("http server error", zap.Error(err))
			cancel()
			application.Queue.Close()
			<-dispatchDone
			application.Dispatcher.Drain(ctx)
			return fmt.Errorf("http server: %w", err)
		}
	}
	rt.logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("server shutdown error", zap.Error(err))
	}
	application.Queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		rt.logger.Warn("workers did not drain before the shutdown timeout")
	}
	application.Dispatcher.Drain(shutdownCtx)
	rt.logger.Info("shutdown complete")
	return nil
}
