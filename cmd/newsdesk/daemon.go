package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/matthewjhunter/newsdesk"
	"github.com/matthewjhunter/newsdesk/internal/logging"
	"github.com/matthewjhunter/newsdesk/internal/metrics"
)

func daemonCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run every pipeline stage on its cron schedule",
		Long: `Run capture, dedup, sync and enrich on the schedules in the config file.
Queue sync is skipped while it is disabled (see sync-enabled).
Handles SIGINT/SIGTERM for graceful shutdown: running stages are cancelled
and claimed queue items are released back to PENDING.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			m, err := metrics.NewPipelineMetrics(prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}

			engine, err := newsdesk.NewEngine(newsdesk.EngineConfig{
				Config:  cfg,
				Logger:  logger,
				Metrics: m,
			})
			if err != nil {
				return fmt.Errorf("failed to open engine: %w", err)
			}
			defer engine.Close()

			sched, err := engine.Scheduler()
			if err != nil {
				return err
			}

			var srv *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
				srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", "error", err)
					}
				}()
			}

			for _, j := range sched.ListJobs() {
				logger.Info("scheduled stage", "job", j.Name, "schedule", j.Schedule)
			}
			sched.Start()
			logger.Info("newsdesk daemon started")

			<-ctx.Done()
			logger.Info("received shutdown signal, stopping")
			sched.Stop()
			if srv != nil {
				srv.Close()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}
