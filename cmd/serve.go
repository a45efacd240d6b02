package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/massfinder/parish-ingest/internal/monitoring"
	"github.com/massfinder/parish-ingest/internal/server"
	"github.com/massfinder/parish-ingest/internal/store"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API (nearby search, listings, stats, run ledger)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		return store.With(ctx, openStore(cfg), func(ctx context.Context, st store.Store) error {
			srv := &http.Server{
				Addr: fmt.Sprintf(":%d", cfg.Server.Port),
				Handler: server.New(st, server.Options{
					AllowedOrigins: cfg.Server.AllowedOrigins,
					Metrics:        prometheus.DefaultGatherer,
				}).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return eris.Wrap(err, "server listen")
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				zap.L().Info("shutting down server")
				sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return eris.Wrap(srv.Shutdown(sctx), "server shutdown")
			})
			if cfg.Monitoring.WebhookURL != "" {
				checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
				g.Go(func() error {
					checker.Run(gctx)
					return nil
				})
			}
			return g.Wait()
		})
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
