package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/config"
	"github.com/quickplate/fulfillment/internal/httpserver"
)

// paygateMock stands in for the external payment provider in local and CI
// environments. DECLINE_RATE (0.0-1.0) controls how often charges are
// declined; FAIL_RATE injects plain HTTP 500s to exercise the breaker.
type paygateMock struct {
	logger      *logrus.Logger
	declineRate float64
	failRate    float64
	delay       time.Duration

	mutex        sync.Mutex
	transactions map[string]decimal.Decimal
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load("paygatemock")

	mock := &paygateMock{
		logger:       logger,
		declineRate:  envFloat("DECLINE_RATE", 0.1),
		failRate:     envFloat("FAIL_RATE", 0),
		delay:        envDuration("RESPONSE_DELAY", 100*time.Millisecond),
		transactions: make(map[string]decimal.Decimal),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")
	router.HandleFunc("/charge", mock.charge).Methods("POST")
	router.HandleFunc("/refund", mock.refund).Methods("POST")
	router.Use(httpserver.LoggingMiddleware(logger))

	logger.WithFields(logrus.Fields{
		"decline_rate": mock.declineRate,
		"fail_rate":    mock.failRate,
	}).Info("Payment gateway mock starting")

	httpserver.Run(cfg.HTTPPort, router, logger)
}

func (m *paygateMock) charge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID   string          `json:"order_id"`
		PaymentID string          `json:"payment_id"`
		Amount    decimal.Decimal `json:"amount"`
		Method    string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}

	time.Sleep(m.delay)

	if rand.Float64() < m.failRate {
		m.logger.WithField("order_id", req.OrderID).Warn("Simulating gateway outage")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	if rand.Float64() < m.declineRate {
		m.logger.WithField("order_id", req.OrderID).Info("Charge declined")
		m.respond(w, map[string]interface{}{
			"approved": false,
			"reason":   "insufficient funds",
		})
		return
	}

	transactionID := "txn-" + uuid.NewString()
	m.mutex.Lock()
	m.transactions[transactionID] = req.Amount
	m.mutex.Unlock()

	m.logger.WithFields(logrus.Fields{
		"order_id":       req.OrderID,
		"transaction_id": transactionID,
		"amount":         req.Amount.String(),
	}).Info("Charge approved")

	m.respond(w, map[string]interface{}{
		"approved":       true,
		"transaction_id": transactionID,
	})
}

func (m *paygateMock) refund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string          `json:"transaction_id"`
		Amount        decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}

	time.Sleep(m.delay)

	m.mutex.Lock()
	_, known := m.transactions[req.TransactionID]
	delete(m.transactions, req.TransactionID)
	m.mutex.Unlock()

	if !known {
		http.Error(w, `{"error":"unknown transaction"}`, http.StatusNotFound)
		return
	}

	m.logger.WithFields(logrus.Fields{
		"transaction_id": req.TransactionID,
		"amount":         req.Amount.String(),
	}).Info("Refund processed")

	m.respond(w, map[string]interface{}{"refunded": true})
}

func (m *paygateMock) respond(w http.ResponseWriter, payload interface{}) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func envFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
