package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"store-records-service/internal/api"
	"store-records-service/internal/cache"
	"store-records-service/internal/config"
	"store-records-service/internal/metrics"
	"store-records-service/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const appName = "store-records-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	setupLogger(cfg)
	log.WithFields(log.Fields{"app_env": cfg.AppEnv, "log_level": cfg.LogLevel}).Info("starting service")

	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database connection")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("error closing database on deferred cleanup")
		}
	}()

	if err := db.PingContext(context.Background()); err != nil {
		log.WithError(err).Fatal("failed to ping database")
	}
	log.Info("database connection established")
	dbStore := store.NewPostgresStore(db)

	var listCache *cache.ListCache
	if cfg.Redis.Addr != "" {
		listCache, err = cache.NewListCache(cfg.Redis.Addr, cfg.Redis.CacheTTL)
		if err != nil {
			// The cache is an optimization; run without it rather than failing startup.
			log.WithError(err).Warn("list cache unavailable, continuing without it")
			listCache = nil
		} else {
			defer listCache.Close()
		}
	}

	httpMetrics := metrics.New()
	httpAPIHandler := api.NewHTTPHandler(dbStore, dbStore, dbStore, listCache, httpMetrics)

	httpRouter := chi.NewRouter()
	setupBaseMiddleware(httpRouter, httpMetrics)
	registerHealthCheck(httpRouter, db)
	httpRouter.Method(http.MethodGet, "/metrics", promhttp.Handler())
	httpAPIHandler.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	go func() {
		log.WithField("port", cfg.HttpServer.Port).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server ListenAndServe error")
		}
		log.Info("HTTP server has stopped")
	}()

	grpcServer := setupGRPCServer()
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		log.WithError(err).WithField("port", cfg.GrpcServer.Port).Fatal("failed to listen for gRPC")
	}

	go func() {
		log.WithField("port", cfg.GrpcServer.Port).Info("gRPC health server listening")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Fatal("gRPC server Serve error")
		}
		log.Info("gRPC server has stopped")
	}()

	shutdownComplete := make(chan struct{})
	go waitForShutdown(httpServer, grpcServer, dbStore, shutdownComplete)

	<-shutdownComplete
	log.Info("service shutdown sequence finished")
}

func setupLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func setupBaseMiddleware(router *chi.Mux, m *metrics.Metrics) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(m.Middleware)
}

func registerHealthCheck(router *chi.Mux, db *sql.DB) {
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbStatus := "healthy"
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "unhealthy"
			log.WithError(err).Warn("health check DB ping failed")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "healthy",
			"serviceName": appName,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"database":    dbStatus,
		})
	})
}

// setupGRPCServer exposes the standard gRPC health checking protocol plus
// reflection, for platform probes and grpcurl.
func setupGRPCServer() *grpc.Server {
	s := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s, health.NewServer())
	reflection.Register(s)
	return s
}

func waitForShutdown(
	httpServer *http.Server,
	grpcServer *grpc.Server,
	dbStore *store.PostgresStore,
	shutdownComplete chan struct{},
) {
	defer close(shutdownComplete)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-sigChan
	log.WithField("signal", receivedSignal.String()).Info("starting graceful shutdown")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server graceful shutdown failed")
	} else {
		log.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		log.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		log.WithError(shutdownCtx.Err()).Warn("gRPC server graceful shutdown timed out, forcing stop")
		grpcServer.Stop()
	}

	if dbStore != nil {
		if err := dbStore.Close(); err != nil {
			log.WithError(err).Warn("error closing database connection")
		}
	}

	log.Info("graceful shutdown sequence completed")
}
