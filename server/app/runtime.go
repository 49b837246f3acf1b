package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/PeladoCollado/cpuload/load"
	"github.com/PeladoCollado/cpuload/metrics"
	"github.com/PeladoCollado/cpuload/server/api"
	"github.com/PeladoCollado/cpuload/server/logger"
	"github.com/PeladoCollado/cpuload/server/middleware"
	"github.com/PeladoCollado/cpuload/server/sessions"
	"github.com/prometheus/client_golang/prometheus"
)

type RunOptions struct {
	SessionStoreFactory SessionStoreFactory

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Listener replaces listening on cfg.ListenPort when set.
	Listener net.Listener
}

// Run serves the load service until ctx is canceled. Running sessions are canceled on shutdown.
func Run(ctx context.Context, cfg Config, opts RunOptions) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	storeFactory := sessionStoreFactoryOrDefault(opts.SessionStoreFactory)
	history, closeHistory, err := storeFactory.NewSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize session history: %w", err)
	}
	defer func() {
		if err := closeHistory(); err != nil {
			logger.Logger.Warnw("Unable to close session history", "err", err)
		}
	}()

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	collector := metrics.NewPrometheusCollector(registerer)

	handler := api.NewHandler(ctx, api.Options{
		Runner:             load.NewGenerator(cfg.LoadConfig(), collector),
		Registry:           sessions.NewRegistry(),
		History:            history,
		Collector:          collector,
		Gatherer:           gatherer,
		CancelOnDisconnect: cfg.CancelOnDisconnect,
		HistoryLimit:       cfg.HistorySize,
		Concurrency: middleware.ConcurrencyOptions{
			Max:            cfg.MaxSessions,
			AcquireTimeout: cfg.SessionAcquireTimeout,
		},
		RateLimit: middleware.RateLimitOptions{
			RPS:   cfg.IntenseRPS,
			Burst: cfg.IntenseBurst,
		},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ListenPort),
		Handler: handler,
	}

	listener := opts.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", server.Addr, err)
		}
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Warnw("Unable to gracefully shutdown load server", "err", err)
		}
	}()

	logger.Logger.Infow("Load server listening",
		"addr", listener.Addr().String(),
		"iterations", cfg.Iterations,
		"interval", cfg.Interval,
		"workers", cfg.Workers,
		"clampUtilization", cfg.ClampUtilization,
		"historyStore", cfg.HistoryStore)

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("load server failed: %w", err)
	}
	<-shutdownDone
	return nil
}
