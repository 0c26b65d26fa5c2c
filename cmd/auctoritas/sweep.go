package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auctoritas/auctoritas"
	"github.com/auctoritas/auctoritas/metrics/export/prometheus"
)

func newSweepCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired records on an interval and serve /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if once {
				_, err := st.engine.Sweep(ctx)
				return err
			}
			return runSweeper(ctx, st.engine, a.cfg, a.logger)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "sweep a single time and exit")
	return cmd
}

// runSweeper sweeps every interval and serves the engine metrics until ctx
// is cancelled.
func runSweeper(ctx context.Context, engine *auctoritas.Engine, cfg processConfig, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.NewExporter(engine).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			if _, err := engine.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("sweep failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}
