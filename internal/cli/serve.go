package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsm/rolewatch/internal/config"
	"github.com/lsm/rolewatch/internal/observability"
	"github.com/lsm/rolewatch/internal/pipeline"
	"github.com/lsm/rolewatch/internal/schedule"
	"github.com/lsm/rolewatch/internal/tracing"
)

const serveUsage = `Usage: rolewatch serve [flags]

Runs the pipeline on the configured cron schedule until interrupted. Serves
/metrics, /healthz, /readyz and /status, and accepts POST /run to start a run
immediately. The config file, when given, is reloaded on change.

Flags:`

const shutdownTimeout = 30 * time.Second

// RunServe runs the scheduler and the metrics server until a shutdown signal.
func RunServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	runNow := fs.Bool("run-now", false, "start a run immediately instead of waiting for the first tick")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), serveUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := observability.NewLogger(serviceName, observability.GetLogLevel(common.logLevel))
	slog.SetDefault(logger)

	cfg, err := loadConfig(common.configPath)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	tracer, shutdownTracing, err := tracing.Initialize(tracingConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flushTracing(shutdownTracing, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	health := observability.NewHealthServer()
	obs := observers{
		logger:  logger,
		tracer:  tracer,
		metrics: observability.NewMetrics(reg),
		health:  health,
	}

	svc, err := newService(cfg, obs)
	if err != nil {
		return err
	}
	defer svc.close()
	sched := schedule.New(svc.run, loc, logger)
	svc.sched = sched

	ctx, cancel := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer cancel()

	httpServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(reg, health, sched.Trigger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("metrics server starting", "addr", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	if err := sched.Start(ctx, cfg.Schedule); err != nil {
		return err
	}
	health.SetReady(true)

	if common.configPath != "" {
		go func() {
			if err := config.NewWatcher(common.configPath, logger, svc.reload).Watch(ctx); err != nil {
				logger.Error("config watcher error", "error", err)
			}
		}()
	}
	if *runNow {
		go sched.Trigger()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		serveErr = fmt.Errorf("metrics server: %w", err)
	}

	// Graceful shutdown
	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for the running job")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// newMux serves metrics, the health endpoints and the manual run trigger.
func newMux(reg *prometheus.Registry, health *observability.HealthServer, trigger func()) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", health.Handler())
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, _ *http.Request) {
		go trigger()
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

// service owns the current pipeline and swaps it when the configuration is
// reloaded. A run in progress keeps the pipeline it started with.
type service struct {
	obs   observers
	sched *schedule.Scheduler

	mu       sync.RWMutex
	cfg      *config.Config
	pipeline *pipeline.Pipeline
}

func newService(cfg *config.Config, obs observers) (*service, error) {
	p, err := buildPipeline(cfg, obs)
	if err != nil {
		return nil, err
	}
	return &service{obs: obs.withDefaults(), cfg: cfg, pipeline: p}, nil
}

func (s *service) run(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.pipeline.Run(ctx)
	return err
}

// reload replaces the pipeline and the schedule. The previous ones stay in
// place if the new configuration cannot be built.
func (s *service) reload(cfg *config.Config) {
	logger := s.obs.logger
	p, err := buildPipeline(cfg, s.obs)
	if err != nil {
		logger.Error("config reload rejected, keeping previous", "error", err)
		return
	}
	if s.sched != nil {
		if err := s.sched.Reschedule(cfg.Schedule); err != nil {
			logger.Error("config reload rejected, keeping previous", "error", err)
			closePipeline(p, logger)
			return
		}
	}

	s.mu.Lock()
	prev, old := s.cfg, s.pipeline
	s.cfg, s.pipeline = cfg, p
	s.mu.Unlock()
	closePipeline(old, logger)

	if cfg.Report.Timezone != prev.Report.Timezone {
		logger.Warn("schedule timezone change takes effect after restart", "timezone", prev.Report.Timezone)
	}
	if cfg.MetricsAddr != prev.MetricsAddr {
		logger.Warn("metrics address change takes effect after restart", "addr", prev.MetricsAddr)
	}
	logger.Info("configuration reloaded", "schedule", cfg.Schedule)
}

func (s *service) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	closePipeline(s.pipeline, s.obs.logger)
}
