package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/gorilla/handlers"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/api"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/config"
	dbussvc "github.com/cptspacemanspiff/power-draw-monitor/internal/dbus"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/monitor"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/observability"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/query"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/storage"
)

// topicHandler wraps an slog.Handler and filters records by a "topic" attribute.
// Records without a topic attribute always pass through (startup messages), as do
// warnings and errors.
// Records with a topic only pass if that topic is enabled.
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

func (h *topicHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.inner.Enabled(context.Background(), level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] || r.Level >= slog.LevelWarn {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	if topic != "" && !h.topics[topic] {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

func main() {
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: sampler,analyzer,storage,config,api,sleep (or 'all')")
	configPath := flag.String("config", "/etc/power-monitor/config.toml", "path to the TOML config file")
	bus := flag.String("bus", "system", "D-Bus bus to serve on: system or session")
	resetDB := flag.Bool("reset-db", false, "delete the database and start fresh")
	flag.Parse()

	topics := make(map[string]bool)
	if *verbose {
		topics["all"] = true
	}
	if *logFlag != "" {
		for _, t := range strings.Split(*logFlag, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}

	handler := &topicHandler{
		inner:  slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: topics,
	}
	logger := slog.New(handler)

	if err := run(logger, topics, *configPath, *bus, *resetDB); err != nil {
		logger.Error("power-monitor-daemon failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, topics map[string]bool, configPath, bus string, resetDB bool) error {
	samplerLog := logger.With("topic", "sampler")
	analyzerLog := logger.With("topic", "analyzer")
	storageLog := logger.With("topic", "storage")
	configLog := logger.With("topic", "config")
	apiLog := logger.With("topic", "api")
	sleepLog := logger.With("topic", "sleep")

	cfgs, err := config.NewManager(configPath, configLog)
	if err != nil {
		return err
	}
	cfg := cfgs.Current()
	dbPath := cfg.Storage.DBPath

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if resetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete database: %w", err)
			}
		}
		logger.Info("database deleted", "path", dbPath)
		return nil
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	source := collector.NewLinuxSource(cfg.Collection.TopProcesses)

	var svc *dbussvc.Service
	tracker := analyzer.NewTracker(store, func(e analyzer.HighPowerEvent, phase analyzer.Phase) {
		metrics.Episode(phase.String(), e.PrimaryCause.String())
		if phase == analyzer.PhaseUpdated {
			return
		}
		if err := svc.EmitEvent(e, phase); err != nil {
			analyzerLog.Warn("emit high power signal", "err", err)
		}
	}, analyzerLog)

	runner := analyzer.NewRunner(store, tracker, func() analyzer.Settings {
		c := cfgs.Current()
		return analyzer.Settings{
			Window: c.Window(),
			Thresholds: analyzer.Thresholds{
				HighPowerPer10Min:    c.Analysis.HighPowerThresholdPercentPer10Min,
				CPUTotal:             c.Analysis.CPUTotalPercent,
				CPUProcess:           c.Analysis.CPUProcessPercent,
				DiskIOMB:             c.Analysis.DiskIOMB,
				NetworkMB:            c.Analysis.NetworkMB,
				MultipleProcessesCPU: c.Analysis.MultipleProcessesCPUPercent,
			},
		}
	}, analyzerLog)

	sampler := monitor.NewSampler(source, store, metrics, samplerLog, runner)
	q := query.NewService(store, sampler, tracker, func() time.Duration { return cfgs.Current().Window() })

	svc = dbussvc.NewService(q)
	conn, err := connectBus(bus)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := svc.Export(conn); err != nil {
		return fmt.Errorf("export dbus service: %w", err)
	}
	logger.Info("D-Bus service registered", "name", dbussvc.BusName, "bus", bus)

	go func() {
		if err := cfgs.Watch(ctx); err != nil {
			configLog.Warn("config watch stopped", "err", err)
		}
	}()

	go store.RunCleanup(ctx, func() (time.Duration, time.Duration) {
		c := cfgs.Current()
		return c.Retention(), c.CleanupInterval()
	}, storageLog)

	var srv *http.Server
	if addr := cfg.API.ListenAddr; addr != "" {
		var accessLog io.Writer = io.Discard
		if topics["all"] || topics["api"] {
			accessLog = os.Stderr
		}
		srv = &http.Server{
			Addr:              addr,
			Handler:           handlers.LoggingHandler(accessLog, api.NewRouter(q, metrics)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			apiLog.Info("HTTP API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP API stopped", "err", err)
			}
		}()
	}

	// The sleep monitor's wake channel resyncs the sampler so no rate is
	// derived across the suspend.
	sleepMon, err := collector.NewSleepMonitor(sleepLog)
	var wakeCh <-chan struct{}
	if err != nil {
		logger.Warn("sleep monitor unavailable", "err", err)
	} else {
		wakeCh = sleepMon.Wake()
		defer sleepMon.Close()
	}

	sampler.Start(ctx, func() monitor.Settings {
		c := cfgs.Current()
		return monitor.Settings{
			Interval:      c.Interval(),
			TopProcesses:  c.Collection.TopProcesses,
			JumpThreshold: c.WallClockJump(),
		}
	})
	logger.Info("power-monitor-daemon started", "interval", cfg.Interval(), "db", dbPath)

wait:
	for {
		select {
		case <-wakeCh:
			sleepLog.Info("wake signal received, resyncing sampler")
			sampler.Resync()
		case <-ctx.Done():
			break wait
		}
	}

	logger.Info("shutting down")
	sampler.Stop()
	if _, err := tracker.Close(); err != nil {
		logger.Error("finalize open episode", "err", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			apiLog.Warn("HTTP API shutdown", "err", err)
		}
	}
	return nil
}

func connectBus(bus string) (*godbus.Conn, error) {
	switch bus {
	case "system":
		conn, err := godbus.SystemBus()
		if err != nil {
			return nil, fmt.Errorf("connect system bus: %w", err)
		}
		return conn, nil
	case "session":
		conn, err := godbus.SessionBus()
		if err != nil {
			return nil, fmt.Errorf("connect session bus: %w", err)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("unknown bus %q, want system or session", bus)
}
