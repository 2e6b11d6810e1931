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
	"golang.org/x/sync/errgroup"

	"mscolab/api/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		infra, err := newInfra(ctx, true)
		if err != nil {
			return err
		}
		defer infra.Close()
		cfg, logger := infra.cfg, infra.logger

		service := app.NewService(cfg, infra.deps())
		httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		server.RegisterOnShutdown(service.CloseSockets)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("mscolab api listening", "addr", cfg.Addr, "store", cfg.Store, "blob", cfg.Blob.Backend)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("mscolab api stopped")
			return nil
		})
		return g.Wait()
	},
}
