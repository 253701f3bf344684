package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/config"
	"github.com/quickplate/fulfillment/internal/delivery"
	"github.com/quickplate/fulfillment/internal/events"
	"github.com/quickplate/fulfillment/internal/httpserver"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load("deliveryservice")

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	httpserver.WaitForDB(db.Ping, logger)

	store := delivery.NewSQLStore(db)
	if err := store.EnsureSchema(); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}

	producer, err := events.NewProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	service := delivery.NewService(store, producer, logger)

	consumer, err := events.NewConsumer(cfg.KafkaBrokers, "delivery-service",
		[]string{events.RestaurantEventsTopic},
		delivery.NewEventHandler(service, logger), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Kafka consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")
	delivery.NewHandler(service, logger).Register(router)
	router.Use(httpserver.LoggingMiddleware(logger))

	httpserver.Run(cfg.HTTPPort, router, logger)
}
