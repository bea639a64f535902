// Contextual Writer server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/contextual-writer/internal/api"
	"github.com/ashureev/contextual-writer/internal/config"
	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/ashureev/contextual-writer/internal/health"
	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/ashureev/contextual-writer/internal/middleware"
	"github.com/ashureev/contextual-writer/internal/model"
	"github.com/ashureev/contextual-writer/internal/prompt"
	"github.com/ashureev/contextual-writer/internal/store"
	"github.com/ashureev/contextual-writer/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	prompts, err := prompt.NewRegistry(cfg.Prompts.OverrideFile, logger)
	if err != nil {
		slog.Error("Failed to load prompt templates", "error", err)
		os.Exit(1)
	}

	backend, err := model.New(model.Settings{
		Provider: cfg.Model.Provider,
		Model:    cfg.Model.Name,
		APIKey:   cfg.Model.APIKey,
		BaseURL:  cfg.Model.BaseURL,
	})
	if err != nil {
		slog.Error("Failed to initialize model backend", "error", err)
		os.Exit(1)
	}
	info := backend.Info()
	slog.Info("Model backend ready", "provider", info.Provider, "model", info.Model, "default_key", cfg.Model.APIKey != "")

	flows := flow.NewService(backend, prompts,
		flow.WithLogger(logger),
		flow.WithTimeout(cfg.Model.Timeout),
		flow.WithRunRecorder(repo, identity.UserIDFromContext),
	)

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	baseHandler := api.NewHandler(repo, flows, cfg)
	healthHandler := api.NewHealthHandler(repo, backend, prompts)
	credentialHandler := api.NewCredentialHandler(baseHandler)
	flowHandler := api.NewFlowHandler(baseHandler, limiter)
	documentHandler := api.NewDocumentHandler(baseHandler, limiter)
	streamHandler := api.NewStreamHandler(baseHandler, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	credentialHandler.RegisterRoutes(r)
	flowHandler.RegisterRoutes(r)
	documentHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/continue", streamHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WriteTimeout stays 0 so streamed continuations are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartTTLWorker(ctx, repo, cfg.UserTTL, store.DefaultTTLWorkerInterval)

	if cfg.Prompts.OverrideFile != "" && cfg.Prompts.Watch {
		go func() {
			if err := prompts.Watch(ctx); err != nil {
				slog.Error("Prompt watcher stopped", "error", err)
			}
		}()
	}

	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err)
			os.Exit(1)
		}
		hs := health.NewServer(repo.Ping, logger)
		go func() {
			if err := hs.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
