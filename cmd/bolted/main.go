// Command bolted runs the app-module runtime as a standalone daemon with an
// in-process host and an HTTP admin surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/boltedhq/bolted"
	"github.com/boltedhq/bolted/bolt"
	"github.com/boltedhq/bolted/feeders"
)

const shutdownTimeout = 10 * time.Second

// config holds daemon settings, fed from flags and BOLTED_* environment
// variables.
type config struct {
	UnitsDir   string `env:"UNITS_DIR"`
	AppsConfig string `env:"APPS_CONFIG"`
	AdminAddr  string `env:"ADMIN_ADDR"`
	Debug      bool   `env:"DEBUG"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config{
		UnitsDir:   "apps",
		AppsConfig: "bolted.yaml",
		AdminAddr:  ":8099",
	}
	if err := feeders.NewPrefixedEnvFeeder("BOLTED").Feed(&cfg); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	flag.StringVar(&cfg.UnitsDir, "units", cfg.UnitsDir, "root directory scanned for app units")
	flag.StringVar(&cfg.AppsConfig, "config", cfg.AppsConfig, "apps configuration file (yaml, toml or json)")
	flag.StringVar(&cfg.AdminAddr, "addr", cfg.AdminAddr, "admin HTTP listen address")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := &slogLogger{slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}

	loop := bolt.NewLoop(logger)
	loop.Start()
	defer loop.Stop()

	host := bolt.NewMemoryHost(logger)
	entities, err := bolt.NewEntityManager(logger, host, host.Restore(), host.Services(), loop)
	if err != nil {
		return fmt.Errorf("creating entity manager: %w", err)
	}

	apps, err := appsSource(cfg.AppsConfig)
	if err != nil {
		return err
	}

	mgr, err := bolted.NewManager(bolted.ManagerConfig{
		Logger:   logger,
		Catalog:  bolted.NewCatalog(cfg.UnitsDir, logger),
		Loader:   bolted.NewLoader(logger),
		Host:     host,
		Loop:     loop,
		Entities: entities,
		Apps:     apps,
	})
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	host.Start()
	if err := mgr.TriggerReload(context.Background()); err != nil {
		logger.Error("initial reload failed", "error", err)
	}

	watcher := bolted.NewWatcher(logger, func() {
		if err := mgr.TriggerReload(context.Background()); err != nil {
			logger.Error("reload failed", "error", err)
		}
	})
	if err := watcher.Watch([]string{cfg.UnitsDir}, []string{cfg.AppsConfig}); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	server := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           adminRouter(logger, mgr),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin surface listening", "addr", cfg.AdminAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("admin server shutdown", "error", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error("stopping apps", "error", err)
	}
	return nil
}

// appsSource picks a feeder for the apps configuration file by extension
// and returns a ConfigSource reading its "apps" list.
func appsSource(path string) (bolted.ConfigSource, error) {
	var feeder feeders.KeyFeeder
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		feeder = feeders.NewYamlFeeder(path)
	case ".toml":
		feeder = feeders.NewTomlFeeder(path)
	case ".json":
		feeder = feeders.NewJSONFeeder(path)
	default:
		return nil, fmt.Errorf("unsupported apps config format: %s", path)
	}
	return func() ([]map[string]any, error) {
		var entries []map[string]any
		if err := feeder.FeedKey("apps", &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}, nil
}

func adminRouter(logger bolt.Logger, mgr *bolted.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/reload", func(w http.ResponseWriter, req *http.Request) {
		if err := mgr.TriggerReload(req.Context()); err != nil {
			logger.Error("reload via admin surface failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/instances", func(w http.ResponseWriter, req *http.Request) {
		infos, err := mgr.Instances(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(infos); err != nil {
			logger.Error("encoding instances", "error", err)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// slogLogger adapts log/slog to the runtime's Logger interface.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
