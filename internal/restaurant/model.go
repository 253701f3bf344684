package restaurant

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickplate/fulfillment/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusPickedUp  Status = "PICKED_UP"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// transitions is the full kitchen-side state machine. Absent keys
// (REJECTED, PICKED_UP, CANCELLED) are absorbing.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusPickedUp, StatusCancelled},
}

// RestaurantOrder is the kitchen's replica of an order, projected from the
// OrderCreated event. orderID is unique and doubles as the idempotency key.
type RestaurantOrder struct {
	ID                       string          `json:"id"`
	OrderID                  string          `json:"order_id"`
	RestaurantID             string          `json:"restaurant_id"`
	CustomerID               string          `json:"customer_id"`
	Status                   Status          `json:"status"`
	TotalPrice               decimal.Decimal `json:"total_price"`
	DeliveryAddress          string          `json:"delivery_address"`
	CustomerNotes            string          `json:"customer_notes,omitempty"`
	RestaurantName           string          `json:"restaurant_name,omitempty"`
	RestaurantAddress        string          `json:"restaurant_address,omitempty"`
	RestaurantLat            *float64        `json:"restaurant_lat,omitempty"`
	RestaurantLng            *float64        `json:"restaurant_lng,omitempty"`
	RejectionReason          string          `json:"rejection_reason,omitempty"`
	EstimatedPrepTimeMinutes *int            `json:"estimated_prep_time_minutes,omitempty"`
	ReceivedAt               time.Time       `json:"received_at"`
	AcceptedAt               *time.Time      `json:"accepted_at,omitempty"`
	RejectedAt               *time.Time      `json:"rejected_at,omitempty"`
	PreparingAt              *time.Time      `json:"preparing_at,omitempty"`
	ReadyAt                  *time.Time      `json:"ready_at,omitempty"`
	PickedUpAt               *time.Time      `json:"picked_up_at,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
	Items                    []Item          `json:"items"`
}

// Item snapshots name, price and quantity from the event payload. The live
// menu is never re-read, so mid-order price changes cannot drift the total.
type Item struct {
	ID                  string          `json:"id"`
	RestaurantOrderID   string          `json:"restaurant_order_id"`
	MenuItemID          string          `json:"menu_item_id"`
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	Quantity            int             `json:"quantity"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
}

// Restaurant is the minimal directory row the kitchen side needs to stamp
// pickup details onto accepted orders. Catalog management lives elsewhere.
type Restaurant struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// transitionTo enforces the kitchen transition table.
func (r *RestaurantOrder) transitionTo(next Status) error {
	for _, allowed := range transitions[r.Status] {
		if next == allowed {
			r.Status = next
			return nil
		}
	}
	return apperr.InvalidState("restaurant order %s cannot go from %s to %s", r.ID, r.Status, next)
}
