package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/tendant/shotlocker/pkg/shotlocker/api"
	"github.com/tendant/shotlocker/pkg/shotlocker/config"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v\n\n%s", err, config.Usage())
	}

	rt, err := cfg.BuildService(context.Background())
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	defer rt.Close()

	logger := cfg.Logger()
	handler := api.New(rt.Service, logger)

	// The memory store has no bucket notifications, so uploads start
	// processing directly.
	if cfg.StorageBackend == "memory" {
		handler.OnUpload(func(ctx context.Context, bucket, key string) {
			if _, err := rt.Pipeline.UploadTrigger(ctx, rt.Workflow, bucket, key); err != nil {
				logger.ErrorContext(ctx, "upload trigger failed", "bucket", bucket, "key", key, "error", err)
			}
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	if cfg.Environment == "development" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusOK)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	r.Get("/health", handler.Health)
	r.Mount("/api/v1", handler.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("ShotLocker server starting on port %s (env: %s)", cfg.Port, cfg.Environment)
		log.Printf("Storage: %s, event log: %s, workflows: %s", cfg.StorageBackend, cfg.EventLogBackend, cfg.WorkflowBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
