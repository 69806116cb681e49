package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tphummel/laundry_scan/internal/db"
	"github.com/tphummel/laundry_scan/internal/events"
	"github.com/tphummel/laundry_scan/internal/handlers"
	"github.com/tphummel/laundry_scan/internal/metrics"
	"github.com/tphummel/laundry_scan/internal/middleware"
)

// version and commit are injected at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

type config struct {
	token   string
	dbPath  string
	port    string
	natsURL string
}

// loadConfig reads service configuration from environment variables and
// applies defaults. It returns an error when a required variable is absent.
func loadConfig() (config, error) {
	cfg := config{
		token:   os.Getenv("API_TOKEN"),
		dbPath:  os.Getenv("DB_PATH"),
		port:    os.Getenv("PORT"),
		natsURL: os.Getenv("NATS_URL"),
	}
	if cfg.token == "" {
		return cfg, fmt.Errorf("API_TOKEN environment variable is required")
	}
	if cfg.dbPath == "" {
		cfg.dbPath = "./laundry_scan.db"
	}
	if cfg.port == "" {
		cfg.port = "8080"
	}
	return cfg, nil
}

// newPublisher connects to NATS when a URL is configured. Without one, order
// events are discarded.
func newPublisher(url string, logger *slog.Logger) (events.Publisher, error) {
	if url == "" {
		return events.Nop{}, nil
	}
	return events.NewNATSPublisher(url, logger)
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	database, err := db.New(cfg.dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics.Register(reg, database)

	pub, err := newPublisher(cfg.natsURL, logger)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}

	h := &handlers.Handler{DB: database, Events: pub, Version: version, Commit: commit}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	h.Register(mux, cfg.token)

	skip := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}
	handler := middleware.RequestLogger(logger, skip, mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr, "version", version, "commit", commit)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	pub.Close()
	if err := database.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}
	logger.Info("server stopped")
}
