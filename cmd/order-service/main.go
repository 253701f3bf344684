package main

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/config"
	"github.com/quickplate/fulfillment/internal/events"
	"github.com/quickplate/fulfillment/internal/httpserver"
	"github.com/quickplate/fulfillment/internal/order"
	"github.com/quickplate/fulfillment/internal/paygate"
	"github.com/quickplate/fulfillment/internal/tracking"
)

// trackingNotifier bridges order status changes onto the websocket hub.
type trackingNotifier struct {
	hub *tracking.Hub
}

func (n *trackingNotifier) OrderStatusChanged(orderID string, status order.Status) {
	n.hub.Notify("ORDER_STATUS_CHANGED", orderID, map[string]string{"status": string(status)})
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load("orderservice")

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	httpserver.WaitForDB(db.Ping, logger)

	store := order.NewSQLStore(db)
	if err := store.EnsureSchema(); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}

	producer, err := events.NewProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	gateway := paygate.NewClient(cfg.PaymentGatewayURL, logger)

	hub := tracking.NewHub(logger)
	go hub.Run()

	service := order.NewService(store, producer, gateway, &trackingNotifier{hub: hub}, logger)

	// React to kitchen and courier events.
	consumer, err := events.NewConsumer(cfg.KafkaBrokers, "order-service",
		[]string{events.RestaurantEventsTopic, events.DeliveryEventsTopic},
		order.NewEventHandler(service, logger), logger)
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
	router.HandleFunc("/ws/orders", hub.HandleWebSocket)
	order.NewHandler(service, logger).Register(router)
	router.Use(httpserver.LoggingMiddleware(logger))

	httpserver.Run(cfg.HTTPPort, router, logger)
}
