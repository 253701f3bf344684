package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickplate/fulfillment/internal/apperr"
)

type Status string

const (
	StatusPending              Status = "PENDING"
	StatusConfirmed            Status = "CONFIRMED"
	StatusAcceptedByRestaurant Status = "ACCEPTED_BY_RESTAURANT"
	StatusPreparing            Status = "PREPARING"
	StatusReadyForPickup       Status = "READY_FOR_PICKUP"
	StatusPickedUp             Status = "PICKED_UP"
	StatusInDelivery           Status = "IN_DELIVERY"
	StatusDelivered            Status = "DELIVERED"
	StatusCancelled            Status = "CANCELLED"
	StatusRejected             Status = "REJECTED"
)

// IsTerminal reports whether the status is absorbing: no transition may
// ever leave it.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRejected
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

type Order struct {
	ID                    string          `json:"id"`
	CustomerID            string          `json:"customer_id"`
	RestaurantID          string          `json:"restaurant_id"`
	Status                Status          `json:"status"`
	TotalPrice            decimal.Decimal `json:"total_price"`
	DeliveryAddress       string          `json:"delivery_address"`
	DeliveryLat           *float64        `json:"delivery_lat,omitempty"`
	DeliveryLng           *float64        `json:"delivery_lng,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	RejectionReason       string          `json:"rejection_reason,omitempty"`
	EstimatedDeliveryTime *time.Time      `json:"estimated_delivery_time,omitempty"`
	ConfirmedAt           *time.Time      `json:"confirmed_at,omitempty"`
	DeliveredAt           *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt           *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Items                 []Item          `json:"items"`
	Payment               *Payment        `json:"payment,omitempty"`
}

// Item is a snapshot of a menu item at order time. Items are immutable once
// the order exists; TotalPrice is never recomputed from them afterwards.
type Item struct {
	ID                  string          `json:"id"`
	OrderID             string          `json:"order_id"`
	MenuItemID          string          `json:"menu_item_id"`
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	Quantity            int             `json:"quantity"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
}

type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Status        PaymentStatus   `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// canModify gates customer cancel and address/notes updates.
func (o *Order) canModify() bool {
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusAcceptedByRestaurant:
		return true
	}
	return false
}

// canDelete gates hard deletion: only orders that never progressed, or
// already died, may be removed.
func (o *Order) canDelete() bool {
	switch o.Status {
	case StatusPending, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// transitionTo enforces the absorbing rule on every explicit status set.
func (o *Order) transitionTo(next Status) error {
	if o.Status.IsTerminal() {
		return apperr.InvalidState("order %s is %s and cannot transition to %s", o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}

// compensatePayment is the compensating action for an order that cannot
// proceed: a captured payment is refunded, a pending one is cancelled.
// Returns true when a refund happened, so the caller can notify the provider.
func (o *Order) compensatePayment(now time.Time) bool {
	if o.Payment == nil {
		return false
	}
	switch o.Payment.Status {
	case PaymentCompleted:
		o.Payment.Status = PaymentRefunded
		o.Payment.RefundedAt = &now
		return true
	case PaymentPending:
		o.Payment.Status = PaymentCancelled
	}
	return false
}
