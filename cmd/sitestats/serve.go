package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/leozw/sitestats/internal/api"
	"github.com/leozw/sitestats/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with background refresh and config watching",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			logger, err := root.newLogger(zapcore.InfoLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides server.port)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	server := api.NewServer(a.cfg.Server.Mode, a.handler(), a.metrics.Registry(), a.logger)
	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	w := watcher.New(watcher.NewLoader(a.store), a.cache, a.session, a.metrics, a.logger, a.cfg.Watcher.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("API server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		w.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.session.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.metrics.StartRemoteWrite(ctx, a.logger)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	a.logger.Info("Server exited")
	return nil
}
