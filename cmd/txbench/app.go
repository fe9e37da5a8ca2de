package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/txbench/internal/account"
	"github.com/gateway-fm/txbench/internal/config"
	"github.com/gateway-fm/txbench/internal/metrics"
	"github.com/gateway-fm/txbench/internal/pipeline"
	"github.com/gateway-fm/txbench/internal/rpc"
	"github.com/gateway-fm/txbench/internal/storage"
	"github.com/gateway-fm/txbench/internal/transport"
	"github.com/gateway-fm/txbench/pkg/types"
)

const (
	saveRunTimeout        = 10 * time.Second
	monitorShutdownWait   = 5 * time.Second
	monitorReadHeaderWait = 10 * time.Second
)

// app wires the collaborators of one pipeline command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	out      io.Writer
	client   *rpc.HTTPClient
	registry *prometheus.Registry
	metrics  *metrics.PipelineMetrics
	store    storage.RunStore // nil when history is disabled
}

func (c *cli) newApp() (*app, error) {
	cfg := c.cfg

	cc := rpc.DefaultClientConfig(cfg.RPCURL)
	cc.MaxConns = max(cc.MaxConns, cfg.ChannelBufferSize)
	cc.Logger = c.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   c.logger,
		out:      c.out,
		client:   rpc.NewHTTPClient(cc),
		registry: registry,
		metrics:  metrics.NewPipelineMetrics(registry),
	}

	if cfg.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.store = store
		a.logger.Debug("initialized storage", slog.String("path", cfg.DatabasePath))
	}
	return a, nil
}

// Close releases the run store.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close storage", slog.String("error", err.Error()))
		}
	}
}

func (a *app) syncConfig() account.SyncConfig {
	return account.SyncConfig{
		Interval:    a.cfg.NonceQueryInterval,
		Concurrency: a.cfg.NonceQueryConcurrency,
		Logger:      a.logger,
	}
}

// refreshNonces replaces local nonces with the node's when refreshing is enabled.
func (a *app) refreshNonces(ctx context.Context, accounts []*account.Account) error {
	if !a.cfg.RefreshNonces {
		return nil
	}
	return account.SyncNonces(ctx, a.client, accounts, a.syncConfig())
}

// reconcile refreshes nonces after a run. Failures are logged and the local
// nonces, which only ever advance past dispatched items, are kept.
func (a *app) reconcile(ctx context.Context, accounts []*account.Account) {
	if err := a.refreshNonces(ctx, accounts); err != nil {
		a.logger.Warn("nonce reconciliation failed, keeping local nonces",
			slog.Int("accounts", len(accounts)),
			slog.String("error", err.Error()),
		)
	}
}

// run executes w through the pipeline, serving the monitor and storing the
// report when those are enabled. The report is nil only if the run never started.
func (a *app) run(ctx context.Context, kind types.RunKind, w pipeline.Workload) (*pipeline.Report, error) {
	blocks, err := rpc.NewBlockService(ctx, a.client, a.cfg.BlockRefreshInterval, a.logger)
	if err != nil {
		return nil, err
	}
	blocks.Start(ctx)
	defer blocks.Stop()

	runner := pipeline.NewRunner(pipeline.Config{
		Client:         a.client,
		Blocks:         blocks,
		Interval:       a.cfg.Interval,
		Concurrency:    a.cfg.ChannelBufferSize,
		WaitUntil:      a.cfg.WaitUntil,
		Severity:       a.cfg.Severity,
		RequestTimeout: a.cfg.RequestTimeout,
		Metrics:        a.metrics,
		Logger:         a.logger,
	})

	if a.cfg.ListenAddr != "" {
		stop, err := a.serveMonitor(runner)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	report, runErr := runner.Run(ctx, kind, w)
	if report == nil {
		return nil, runErr
	}

	if a.store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveRunTimeout)
		detail := report.Detail()
		if err := a.store.SaveRun(saveCtx, &detail); err != nil {
			a.logger.Error("failed to save run", slog.String("run_id", report.ID), slog.String("error", err.Error()))
		}
		cancel()
	}

	printReport(a.out, report)
	return report, runErr
}

// serveMonitor starts the monitor API for the lifetime of one run.
func (a *app) serveMonitor(runner *pipeline.Runner) (func(), error) {
	server := transport.NewServer(transport.ServerConfig{
		API:                runner,
		Store:              a.store,
		Health:             &transport.RPCHealthChecker{Client: a.client},
		Gatherer:           a.registry,
		CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
		Logger:             a.logger,
	})

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("monitor listen: %w", err)
	}
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: monitorReadHeaderWait,
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("monitor server failed", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("monitor listening", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), monitorShutdownWait)
		defer cancel()
		server.Close()
		if err := httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("monitor shutdown", slog.String("error", err.Error()))
		}
	}, nil
}

func printReport(w io.Writer, r *pipeline.Report) {
	fmt.Fprintf(w, "run %s (%s): %s\n", r.ID, r.Kind, r.Status)
	fmt.Fprintf(w, "  expected %d, dispatched %d, observed %d, succeeded %d, violations %d\n",
		r.Expected, r.Dispatched, r.Observed, r.Succeeded, r.Violations)
	if r.BuildErrors > 0 {
		fmt.Fprintf(w, "  skipped %d items that could not be built\n", r.BuildErrors)
	}
	fmt.Fprintf(w, "  elapsed %s, throughput %s, peak in flight %d of %d\n",
		r.Elapsed.Round(time.Millisecond), formatTPS(r.Observed, r.ObservedTPS), r.PeakInFlight, r.Concurrency)
	if r.Latency != nil && r.Latency.Count > 0 {
		fmt.Fprintf(w, "  submit latency p50 %.1fms, p99 %.1fms, max %.1fms\n",
			r.Latency.P50, r.Latency.P99, r.Latency.Max)
	}
	if r.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", r.Err)
	}
}

// formatTPS renders throughput, which needs at least two outcomes to span any time.
func formatTPS(observed int, tps float64) string {
	if observed <= 1 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f tx/s", tps)
}
