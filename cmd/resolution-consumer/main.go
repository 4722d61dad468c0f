package main

import (
	"context"
	"errors"
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
	"github.com/vectorwatch/platform/pkg/common/models"
	"github.com/vectorwatch/platform/pkg/entomology"
	"github.com/vectorwatch/platform/pkg/observability/metrics"
)

// invalidator is satisfied by entomology.Service.
type invalidator interface {
	InvalidateDistrict(ctx context.Context, district string) error
}

type ConsumerApp struct {
	cache    invalidator
	consumer *kafka.Consumer
}

func main() {
	logger.Init("")
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Log.Fatal("KAFKA_BROKERS is required")
	}

	redisClient, err := database.OpenRedis(context.Background(), cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	// Only the cache side of the metrics service is used here.
	svc := entomology.NewService(nil, entomology.WithCache(entomology.NewRedisCache(redisClient, cfg.MetricsCacheTTL)))

	app := &ConsumerApp{cache: svc}
	app.consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.ResolutionEventTopic, cfg.KafkaGroupID+"-resolution-consumer")
	defer app.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := app.consumer.Consume(ctx, app.handleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Fatal("consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/internal/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  cfg.ServerPort,
			"topic": cfg.ResolutionEventTopic,
		}).Info("Resolution consumer started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down resolution consumer...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Resolution consumer stopped")
}

// handleEvent drops cached metrics for the district of a resolved conflict.
// Other event types are acknowledged and ignored.
func (a *ConsumerApp) handleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventSessionConflictResolved {
		return nil
	}
	district, _ := event.Data["district"].(string)
	if district == "" {
		logger.Log.WithField("event_id", event.ID).Warn("resolution event without district")
		return nil
	}
	if err := a.cache.InvalidateDistrict(ctx, district); err != nil {
		return fmt.Errorf("invalidating %s: %w", district, err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"district": district,
	}).Info("metrics cache invalidated")
	return nil
}
