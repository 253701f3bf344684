package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topics. Every event concerning an order is keyed by the order id, so all
// events for one order land on one partition and arrive in order.
const (
	OrderEventsTopic      = "order-events"
	RestaurantEventsTopic = "restaurant-events"
	DeliveryEventsTopic   = "delivery-events"
)

// DLQSuffix is appended to a topic name to form its dead-letter topic.
const DLQSuffix = ".dlq"

func DLQTopic(topic string) string {
	return topic + DLQSuffix
}

// Event type tags carried in the event_type field of every payload.
const (
	TypeOrderCreated          = "ORDER_CREATED"
	TypeOrderAccepted         = "ORDER_ACCEPTED"
	TypeOrderRejected         = "ORDER_REJECTED"
	TypeOrderReady            = "ORDER_READY"
	TypeOrderCancelled        = "ORDER_CANCELLED"
	TypeCourierAssigned       = "COURIER_ASSIGNED"
	TypeDeliveryStatusChanged = "DELIVERY_STATUS_CHANGED"
	TypePaymentCompleted      = "PAYMENT_COMPLETED"
	TypePaymentFailed         = "PAYMENT_FAILED"
)

// Event is one message on an event topic. Key is the partition key, always
// the order id.
type Event interface {
	Type() string
	Key() string
}

type OrderItemPayload struct {
	MenuItemID          string          `json:"menu_item_id"`
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	Quantity            int             `json:"quantity"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
}

type OrderCreated struct {
	EventType       string             `json:"event_type"`
	OrderID         string             `json:"order_id"`
	CustomerID      string             `json:"customer_id"`
	RestaurantID    string             `json:"restaurant_id"`
	TotalPrice      decimal.Decimal    `json:"total_price"`
	DeliveryAddress string             `json:"delivery_address"`
	CustomerNotes   string             `json:"customer_notes,omitempty"`
	Items           []OrderItemPayload `json:"items"`
	CreatedAt       time.Time          `json:"created_at"`
}

func (e *OrderCreated) Type() string { return TypeOrderCreated }
func (e *OrderCreated) Key() string  { return e.OrderID }

type OrderAccepted struct {
	EventType                string          `json:"event_type"`
	OrderID                  string          `json:"order_id"`
	CustomerID               string          `json:"customer_id"`
	RestaurantID             string          `json:"restaurant_id"`
	RestaurantName           string          `json:"restaurant_name"`
	RestaurantAddress        string          `json:"restaurant_address"`
	RestaurantLat            *float64        `json:"restaurant_lat,omitempty"`
	RestaurantLng            *float64        `json:"restaurant_lng,omitempty"`
	DeliveryAddress          string          `json:"delivery_address"`
	TotalPrice               decimal.Decimal `json:"total_price"`
	EstimatedPrepTimeMinutes int             `json:"estimated_prep_time_minutes"`
	CustomerNotes            string          `json:"customer_notes,omitempty"`
	AcceptedAt               time.Time       `json:"accepted_at"`
}

func (e *OrderAccepted) Type() string { return TypeOrderAccepted }
func (e *OrderAccepted) Key() string  { return e.OrderID }

type OrderRejected struct {
	EventType       string    `json:"event_type"`
	OrderID         string    `json:"order_id"`
	RestaurantID    string    `json:"restaurant_id"`
	RejectionReason string    `json:"rejection_reason"`
	RejectedAt      time.Time `json:"rejected_at"`
}

func (e *OrderRejected) Type() string { return TypeOrderRejected }
func (e *OrderRejected) Key() string  { return e.OrderID }

type OrderReady struct {
	EventType         string    `json:"event_type"`
	OrderID           string    `json:"order_id"`
	RestaurantID      string    `json:"restaurant_id"`
	RestaurantName    string    `json:"restaurant_name"`
	RestaurantAddress string    `json:"restaurant_address"`
	ReadyAt           time.Time `json:"ready_at"`
}

func (e *OrderReady) Type() string { return TypeOrderReady }
func (e *OrderReady) Key() string  { return e.OrderID }

type OrderCancelled struct {
	EventType          string    `json:"event_type"`
	OrderID            string    `json:"order_id"`
	CustomerID         string    `json:"customer_id"`
	RestaurantID       string    `json:"restaurant_id"`
	CancellationReason string    `json:"cancellation_reason"`
	CancelledAt        time.Time `json:"cancelled_at"`
}

func (e *OrderCancelled) Type() string { return TypeOrderCancelled }
func (e *OrderCancelled) Key() string  { return e.OrderID }

type CourierAssigned struct {
	EventType    string    `json:"event_type"`
	DeliveryID   string    `json:"delivery_id"`
	OrderID      string    `json:"order_id"`
	CourierID    string    `json:"courier_id"`
	CourierName  string    `json:"courier_name"`
	CourierPhone string    `json:"courier_phone"`
	AssignedAt   time.Time `json:"assigned_at"`
}

func (e *CourierAssigned) Type() string { return TypeCourierAssigned }
func (e *CourierAssigned) Key() string  { return e.OrderID }

// DeliveryStatusChanged carries the delivery service's status vocabulary as
// raw strings. The order service maps the four statuses it understands and
// ignores the rest; the vocabularies are deliberately not a shared enum.
type DeliveryStatusChanged struct {
	EventType      string    `json:"event_type"`
	DeliveryID     string    `json:"delivery_id"`
	OrderID        string    `json:"order_id"`
	CourierID      string    `json:"courier_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Notes          string    `json:"notes,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

func (e *DeliveryStatusChanged) Type() string { return TypeDeliveryStatusChanged }
func (e *DeliveryStatusChanged) Key() string  { return e.OrderID }

type PaymentCompleted struct {
	EventType     string          `json:"event_type"`
	OrderID       string          `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	PaidAt        time.Time       `json:"paid_at"`
}

func (e *PaymentCompleted) Type() string { return TypePaymentCompleted }
func (e *PaymentCompleted) Key() string  { return e.OrderID }

type PaymentFailed struct {
	EventType string    `json:"event_type"`
	OrderID   string    `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

func (e *PaymentFailed) Type() string { return TypePaymentFailed }
func (e *PaymentFailed) Key() string  { return e.OrderID }
