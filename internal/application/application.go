package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartbiopk/cliamapp/internal/ads"
	"github.com/smartbiopk/cliamapp/internal/analytics"
	"github.com/smartbiopk/cliamapp/internal/api"
	"github.com/smartbiopk/cliamapp/internal/claim"
	"github.com/smartbiopk/cliamapp/internal/config"
	"github.com/smartbiopk/cliamapp/internal/document"
	"github.com/smartbiopk/cliamapp/internal/report"
	"github.com/smartbiopk/cliamapp/internal/tariff"
)

const adsReloadDebounce = 200 * time.Millisecond

// App encapsulates the application dependencies and HTTP server.
type App struct {
	table      tariff.Table
	calculator claim.Calculator
	renderer   *document.Renderer
	ads        *ads.Registry
	recorder   *analytics.Recorder
	handler    *api.Handler
	router     http.Handler
	logger     *zap.Logger
	server     *http.Server

	watchCancel context.CancelFunc
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	table := tariff.Default()
	if len(cfg.TariffOverrides) > 0 {
		applied, err := table.Apply(cfg.TariffOverrides)
		if err != nil {
			return nil, fmt.Errorf("failed to apply tariff overrides: %w", err)
		}
		table = applied
	}

	calc := claim.New(table)
	renderer := document.NewRenderer(table)

	sink, err := buildSink(cfg.Analytics, logger)
	if err != nil {
		return nil, err
	}
	recorder := analytics.NewRecorder(sink, cfg.Analytics.BufferSize, logger)

	registry := ads.NewRegistry()
	var watchCancel context.CancelFunc
	if cfg.AdsFile != "" {
		if err := registry.LoadFile(cfg.AdsFile); err != nil {
			_ = recorder.Close()
			return nil, fmt.Errorf("failed to load ads file: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		if err := registry.Watch(ctx, cfg.AdsFile, adsReloadDebounce, logger); err != nil {
			cancel()
			_ = recorder.Close()
			return nil, fmt.Errorf("failed to watch ads file: %w", err)
		}
		watchCancel = cancel
	}

	handlerOpts := []api.HandlerOption{api.WithRecorder(recorder)}
	if reader, ok := sink.(analytics.Reader); ok {
		handlerOpts = append(handlerOpts, api.WithReports(report.NewService(reader, table, logger)))
	}

	handler := api.NewHandler(calc, renderer, table, handlerOpts...)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	rootHandler, err := BuildRootHandler(apiRouter, registry)
	if err != nil {
		if watchCancel != nil {
			watchCancel()
		}
		_ = recorder.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	logger.Info("analytics backends ready", zap.Strings("backends", cfg.Analytics.Backends))

	return &App{
		table:       table,
		calculator:  calc,
		renderer:    renderer,
		ads:         registry,
		recorder:    recorder,
		handler:     handler,
		router:      apiRouter,
		logger:      logger,
		server:      NewServer(cfg, rootHandler),
		watchCancel: watchCancel,
	}, nil
}

// buildSink assembles the configured analytics backends. Several backends
// fan out through a MultiSink so deployments can dual-write during storage
// migrations.
func buildSink(cfg config.AnalyticsConfig, logger *zap.Logger) (analytics.Sink, error) {
	sinks := make([]analytics.Sink, 0, len(cfg.Backends))
	fail := func(err error) (analytics.Sink, error) {
		for _, sink := range sinks {
			_ = sink.Close()
		}
		return nil, err
	}

	for _, backend := range cfg.Backends {
		switch backend {
		case config.BackendNone:
			return analytics.NopSink{}, nil
		case config.BackendMemory:
			sinks = append(sinks, analytics.NewMemorySink())
		case config.BackendFile:
			sink, err := analytics.NewFileSink(cfg.FilePath)
			if err != nil {
				return fail(fmt.Errorf("failed to open events file: %w", err))
			}
			sinks = append(sinks, sink)
		case config.BackendSQLite:
			sink, err := analytics.NewSQLiteSink(cfg.SQLitePath)
			if err != nil {
				return fail(fmt.Errorf("failed to open events database: %w", err))
			}
			sinks = append(sinks, sink)
		case config.BackendPostgres:
			sink, err := analytics.NewPostgresSink(context.Background(), cfg.PostgresDSN)
			if err != nil {
				return fail(fmt.Errorf("failed to connect events database: %w", err))
			}
			sinks = append(sinks, sink)
		default:
			return fail(fmt.Errorf("unknown analytics backend %q", backend))
		}
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}

	logger.Info("fanning out usage events", zap.Int("sinks", len(sinks)))
	return analytics.NewMultiSink(sinks...), nil
}

// BuildRootHandler constructs the root HTTP handler that serves the index
// page, static files and API requests.
func BuildRootHandler(apiHandler http.Handler, registry *ads.Registry) (http.Handler, error) {
	mux := http.NewServeMux()

	staticPath, err := resolveProjectPath(filepath.Join("web", "static"))
	if err != nil {
		return nil, err
	}
	staticDir := http.Dir(staticPath)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(staticDir)))
	mux.Handle("/api/", apiHandler)

	indexPath, err := resolveProjectPath(filepath.Join("web", "templates", "index.html"))
	if err != nil {
		return nil, err
	}
	index, err := template.ParseFiles(indexPath)
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}

	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		district := r.URL.Query().Get("district")
		if district == "" {
			district = ads.DefaultKey
		}

		data := indexData{
			Ad:               registry.Resolve(district),
			Districts:        ads.Districts(),
			SelectedDistrict: district,
		}

		var buf bytes.Buffer
		if err := index.Execute(&buf, data); err != nil {
			http.Error(w, "failed to render page", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}))

	return mux, nil
}

type indexData struct {
	Ad               ads.Ad
	Districts        []string
	SelectedDistrict string
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Shutdown stops the HTTP server, the ads watcher and the analytics recorder.
// The recorder drains queued events into its sink before closing it.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)

	if a.watchCancel != nil {
		a.watchCancel()
	}
	if closeErr := a.recorder.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
func resolveProjectPath(relative string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
