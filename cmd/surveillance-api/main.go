package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/vectorwatch/platform/pkg/common/config"
	"github.com/vectorwatch/platform/pkg/common/database"
	"github.com/vectorwatch/platform/pkg/common/kafka"
	"github.com/vectorwatch/platform/pkg/common/logger"
	"github.com/vectorwatch/platform/pkg/conflicts"
	"github.com/vectorwatch/platform/pkg/entomology"
	"github.com/vectorwatch/platform/pkg/gateway/auth"
	"github.com/vectorwatch/platform/pkg/gateway/middleware"
	"github.com/vectorwatch/platform/pkg/observability/metrics"
	"github.com/vectorwatch/platform/pkg/storage"
	"gorm.io/gorm"
)

func main() {
	logger.Init("")
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}

	db, err := database.OpenPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	if err := storage.AutoMigrate(db); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate surveillance tables")
	}
	authRepo := auth.NewRepository(db)
	if err := authRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate auth tables")
	}

	// Entomology metrics, cached in Redis when it is reachable.
	metricsOpts := []entomology.Option{}
	redisClient, err := database.OpenRedis(context.Background(), cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("redis unavailable, metrics cache disabled")
	} else {
		defer redisClient.Close()
		metricsOpts = append(metricsOpts, entomology.WithCache(entomology.NewRedisCache(redisClient, cfg.MetricsCacheTTL)))
	}
	metricsSvc := entomology.NewService(entomology.NewRepository(db, cfg.FedStatuses), metricsOpts...)

	conflictOpts := []conflicts.Option{
		conflicts.WithCacheInvalidator(metricsSvc),
		conflicts.WithWriteTimeout(cfg.ResolutionWriteTimeout),
		conflicts.WithPageSizes(cfg.DefaultPageSize, cfg.MaxPageSize),
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.ResolutionEventTopic)
		defer producer.Close()
		conflictOpts = append(conflictOpts, conflicts.WithEventPublisher(producer))
	} else {
		logger.Log.Info("KAFKA_BROKERS not set, resolution events disabled")
	}
	conflictSvc := conflicts.NewService(conflicts.NewRepository(db), conflictOpts...)

	var tokens *auth.TokenManager
	if cfg.JWTSecret != "" {
		tokens, err = auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
		if err != nil {
			logger.Log.WithError(err).Fatal("invalid JWT settings")
		}
	} else {
		logger.Log.Warn("JWT_SECRET not set, only static tokens are accepted")
	}
	resolver := auth.NewResolver(cfg.AdminToken, cfg.MobileToken, tokens, authRepo)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", readyHandler(db)).Methods(http.MethodGet)
	router.Handle("/internal/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Authenticate(resolver))
	api.Use(middleware.RequireUser)
	conflicts.NewHandler(conflictSvc).Register(api)
	entomology.NewHandler(metricsSvc).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Surveillance API started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Surveillance API...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Surveillance API stopped")
}

func readyHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			logger.Log.WithError(err).Warn("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
