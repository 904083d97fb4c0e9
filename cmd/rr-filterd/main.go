package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/config"
	"github.com/haukened/rr-filter/internal/filter/gateways/listfetch"
	"github.com/haukened/rr-filter/internal/filter/presets"
	"github.com/haukened/rr-filter/internal/filter/repos/rulesdb"
	"github.com/haukened/rr-filter/internal/filter/repos/storage"
	"github.com/haukened/rr-filter/internal/filter/services/ruleservice"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-filterd"

	// rulesDBFileName is the compiled-rules database inside the data dir.
	rulesDBFileName = "RulesDB"
)

// Application holds all the components of the filter service
type Application struct {
	config  *config.AppConfig
	rulesDB *rulesdb.Store
	service *ruleservice.Service
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":       version,
		"env":           cfg.Env,
		"log_level":     cfg.LogLevel,
		"data_dir":      cfg.DataDir,
		"locale":        cfg.Locale,
		"fetch_timeout": cfg.FetchTimeout,
		"cache_size":    cfg.CacheSize,
	}, "Starting RR-Filter service")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Service failed")
	}

	log.Info(nil, "RR-Filter service stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// Compiled-rules artifact store
	rulesDB, err := rulesdb.Open(filepath.Join(cfg.DataDir, rulesDBFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open rules database: %w", err)
	}

	// Compiled-in preset tables
	table, err := presets.Load()
	if err != nil {
		_ = rulesDB.Close()
		return nil, fmt.Errorf("failed to load preset table: %w", err)
	}

	// Persistent state document
	store := storage.New(storage.Options{
		Dir:    cfg.DataDir,
		Logger: logger,
	})

	// Fetch/compile pipeline
	factory := listfetch.New(listfetch.Options{
		Timeout: cfg.FetchTimeout,
		Store:   rulesDB,
		Logger:  logger,
	})

	service, err := ruleservice.New(ruleservice.Options{
		Config:  *cfg,
		Table:   table,
		Store:   store,
		Factory: factory,
		Logger:  logger,
	})
	if err != nil {
		_ = rulesDB.Close()
		return nil, fmt.Errorf("failed to build rule service: %w", err)
	}

	return &Application{
		config:  cfg,
		rulesDB: rulesDB,
		service: service,
	}, nil
}

// Run loads persisted state and blocks until the context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	app.service.Load()

	stats := app.rulesDB.Stats()
	log.Info(map[string]any{
		"state_file": filepath.Join(app.config.DataDir, storage.StateFileName),
		"artifacts":  stats.ArtifactCount,
	}, "Filter service started")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	app.service.Shutdown()
	if err := app.rulesDB.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing rules database")
	}

	log.Info(nil, "Graceful shutdown completed")
	return nil
}
