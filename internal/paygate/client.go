package paygate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/circuitbreaker"
)

// Client talks to the external payment provider. All calls go through a
// circuit breaker so a dead provider fails fast instead of tying up request
// handlers for the full HTTP timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

type ChargeRequest struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
}

// ChargeResult reports the provider's decision. A decline is a successful
// call with Approved=false, not an error; errors mean the call itself failed.
type ChargeResult struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

type RefundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "payment-gateway",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			MaxRequests: 1,
		}, logger),
		logger: logger,
	}
}

func (c *Client) Charge(req ChargeRequest) (*ChargeResult, error) {
	c.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"amount":   req.Amount.String(),
	}).Info("Charging payment gateway")

	var result ChargeResult
	err := c.breaker.Execute(func() error {
		return c.post("/charge", req, &result)
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":       req.OrderID,
		"approved":       result.Approved,
		"transaction_id": result.TransactionID,
	}).Info("Payment gateway responded")

	return &result, nil
}

// Refund is best effort: the local payment record is already REFUNDED by the
// time this is called, and a provider hiccup must not roll that back.
func (c *Client) Refund(req RefundRequest) error {
	c.logger.WithField("transaction_id", req.TransactionID).Info("Requesting refund from payment gateway")

	return c.breaker.Execute(func() error {
		return c.post("/refund", req, &struct{}{})
	})
}

func (c *Client) post(path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode payment gateway response: %w", err)
	}

	return nil
}
