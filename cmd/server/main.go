// Package main is the entry point for the network backup API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agncf/netbackup/internal/backup"
	"github.com/agncf/netbackup/internal/config"
	"github.com/agncf/netbackup/internal/crypto"
	"github.com/agncf/netbackup/internal/database"
	"github.com/agncf/netbackup/internal/gitea"
	"github.com/agncf/netbackup/internal/handler"
	"github.com/agncf/netbackup/internal/middleware"
	"github.com/agncf/netbackup/internal/repository"
	"github.com/agncf/netbackup/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup structured logger
	logLevel := slog.LevelInfo
	if cfg.Log.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting network backup service",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Credential sealer
	sealer, err := crypto.NewSealer(cfg.Backup.UnsealKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential sealer: %v", err)
	}

	// Repositories
	siteRepo := repository.NewSiteRepository(db.Pool())
	credRepo := repository.NewCredentialRepository(db.Pool())
	deviceRepo := repository.NewDeviceRepository(db.Pool())
	jobRepo := repository.NewJobRepository(db.Pool())

	// Repository service client
	giteaClient := gitea.NewClient(cfg.Gitea.URL, cfg.Gitea.Token, cfg.Gitea.Org)

	// Backup engine
	resolver := backup.NewCredentialResolver(sealer, cfg.Backup.FallbackUser, cfg.Backup.FallbackPass)
	cliPool := backup.NewCLIPool(cfg.Backup.CLIWorkers, cfg.Backup.CLITimeout, resolver, logger)
	apiPool := backup.NewAPIPool(int64(cfg.Backup.APIWorkers), cfg.Backup.APITimeout,
		cfg.Backup.APITLSVerify, resolver, logger)
	progressHub := backup.NewProgressHub()
	engine := backup.NewEngine(cliPool, apiPool, giteaClient, jobRepo, progressHub, logger)

	// Services
	inventoryService := service.NewInventoryService(siteRepo, credRepo, deviceRepo, sealer, logger)
	backupService := service.NewBackupService(deviceRepo, siteRepo, jobRepo, engine, giteaClient,
		cfg.Backup.MaxConcurrentJobs, logger)

	// Handlers
	inventoryHandler := handler.NewInventoryHandler(inventoryService)
	backupHandler := handler.NewBackupHandler(backupService, progressHub, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	// Health check endpoints
	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"name":"netbackup","version":"1.0.0"}}`))
		})

		r.Mount("/sites", inventoryHandler.SiteRoutes())
		r.Mount("/credentials", inventoryHandler.CredentialRoutes())
		r.Mount("/devices", inventoryHandler.DeviceRoutes())
		r.Mount("/backups", backupHandler.Routes())
	})

	// Progress WebSocket lives outside the timeout middleware: a watch can
	// legitimately outlive any request deadline.
	r.Get("/ws/job/{id}", backupHandler.WatchJob)

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Stop accepting requests, then cancel running jobs so every in-flight
	// device gets a recorded result before the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", slog.Any("error", err))
	}
	backupService.Shutdown()

	logger.Info("Server stopped gracefully")
}

// healthHandler reports liveness: the process is up.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler reports readiness: the database answers.
func readyHandler(db *database.Postgres) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","database":"connected"}`))
	}
}
