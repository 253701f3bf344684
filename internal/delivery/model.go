package delivery

import (
	"time"

	"github.com/quickplate/fulfillment/internal/apperr"
)

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusCourierAssigned Status = "COURIER_ASSIGNED"
	StatusPickedUp        Status = "PICKED_UP"
	StatusInTransit       Status = "IN_TRANSIT"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
)

// transitions is the courier-side state machine. DELIVERED and CANCELLED
// are absorbing.
var transitions = map[Status][]Status{
	StatusPending:         {StatusCourierAssigned, StatusCancelled},
	StatusCourierAssigned: {StatusPickedUp, StatusCancelled},
	StatusPickedUp:        {StatusInTransit, StatusCancelled},
	StatusInTransit:       {StatusDelivered, StatusCancelled},
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type CourierStatus string

const (
	CourierAvailable CourierStatus = "AVAILABLE"
	CourierBusy      CourierStatus = "BUSY"
	CourierOffline   CourierStatus = "OFFLINE"
)

// Delivery is created once per orderId, either from an OrderAccepted event
// or a direct API call; both paths run the same existence check.
type Delivery struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"order_id"`
	CustomerID         string     `json:"customer_id"`
	RestaurantID       string     `json:"restaurant_id"`
	CourierID          *string    `json:"courier_id,omitempty"`
	Status             Status     `json:"status"`
	PickupAddress      string     `json:"pickup_address"`
	PickupLat          *float64   `json:"pickup_lat,omitempty"`
	PickupLng          *float64   `json:"pickup_lng,omitempty"`
	DeliveryAddress    string     `json:"delivery_address"`
	DeliveryLat        *float64   `json:"delivery_lat,omitempty"`
	DeliveryLng        *float64   `json:"delivery_lng,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CustomerNotes      string     `json:"customer_notes,omitempty"`
	CourierNotes       string     `json:"courier_notes,omitempty"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	PickedUpAt         *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Courier holds exactly one active delivery while BUSY; AVAILABLE means
// zero. updated_at orders the idle pool for assignment.
type Courier struct {
	ID         string        `json:"id"`
	KeycloakID *string       `json:"keycloak_id,omitempty"`
	Name       string        `json:"name"`
	Phone      string        `json:"phone"`
	Email      string        `json:"email,omitempty"`
	Status     CourierStatus `json:"status"`
	CurrentLat *float64      `json:"current_lat,omitempty"`
	CurrentLng *float64      `json:"current_lng,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (d *Delivery) transitionTo(next Status) error {
	for _, allowed := range transitions[d.Status] {
		if next == allowed {
			d.Status = next
			return nil
		}
	}
	return apperr.InvalidState("delivery %s cannot go from %s to %s", d.ID, d.Status, next)
}
