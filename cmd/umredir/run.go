package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/umredir/umredir/internal/config"
	"github.com/umredir/umredir/internal/engine"
	"github.com/umredir/umredir/internal/gateway"
	"github.com/umredir/umredir/internal/intercept"
	"github.com/umredir/umredir/internal/logging"
	"github.com/umredir/umredir/internal/observability"
	"github.com/umredir/umredir/internal/store"
	"github.com/umredir/umredir/internal/syncer"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep redirect rules in sync with the stored mappings and enforce them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, logCloser, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	st, fresh, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	table := engine.NewTable(cfg.Engine.MaxRules)

	var decisions *logging.DecisionLogger
	if cfg.Logging.DecisionLog != "" {
		logger, closer, err := logging.OpenDecisionLog(cfg.ResolvePath(cfg.Logging.DecisionLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		decisions = logger
	}

	metrics, metricsSrv := startMetricsServer(cfg, log)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	syncr, err := syncer.New(syncer.Config{
		Store:   st,
		Engine:  table,
		Key:     cfg.Store.Key,
		Area:    store.Area(cfg.Store.Area),
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	syncr.LogMatches(table)

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = syncr.Run(signalCtx)
	}()
	watchDone := syncr.Watch(signalCtx)

	if fresh {
		syncr.Installed()
	} else {
		syncr.Startup()
	}

	serverErr := make(chan error, 1)

	var srv *http.Server
	if cfg.Gateway.Enabled {
		gw, err := gateway.New(table)
		if err != nil {
			return err
		}
		gw.SetDecisionLogger(decisions)
		gw.SetMetrics(metrics)
		gw.SetLogger(log)

		srv = &http.Server{
			Addr:              cfg.Gateway.Listen,
			Handler:           gw,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("listen", cfg.Gateway.Listen).Msg("gateway listening")
			serverErr <- srv.ListenAndServe()
		}()
	}

	if cfg.Browser.Enabled {
		interceptor, err := intercept.New(table, intercept.Options{
			DevtoolsURL: cfg.Browser.DevtoolsURL,
			Logger:      log,
			DecisionLog: decisions,
			Metrics:     metrics,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := interceptor.Run(signalCtx); err != nil {
				log.Error().Err(err).Str("devtools", cfg.Browser.DevtoolsURL).Msg("browser interception stopped")
			}
		}()
	}

	var runErr error
	select {
	case <-signalCtx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}
	stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}

	<-workerDone
	<-watchDone
	log.Info().Int("rules", table.Len()).Msg("stopped")
	return runErr
}

func startMetricsServer(cfg *config.Config, log zerolog.Logger) (*observability.Metrics, *http.Server) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
	return metrics, srv
}
