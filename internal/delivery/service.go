package delivery

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/apperr"
	"github.com/quickplate/fulfillment/internal/events"
)

type Publisher interface {
	Publish(topic string, event events.Event) error
}

type Service struct {
	store    Store
	producer Publisher
	logger   *logrus.Logger
}

func NewService(store Store, producer Publisher, logger *logrus.Logger) *Service {
	return &Service{store: store, producer: producer, logger: logger}
}

// CreateRequest is the direct-API shape; event-driven creation goes through
// HandleOrderAccepted and builds the same request.
type CreateRequest struct {
	OrderID         string   `json:"order_id"`
	CustomerID      string   `json:"customer_id"`
	RestaurantID    string   `json:"restaurant_id"`
	PickupAddress   string   `json:"pickup_address"`
	PickupLat       *float64 `json:"pickup_lat,omitempty"`
	PickupLng       *float64 `json:"pickup_lng,omitempty"`
	DeliveryAddress string   `json:"delivery_address"`
	DeliveryLat     *float64 `json:"delivery_lat,omitempty"`
	DeliveryLng     *float64 `json:"delivery_lng,omitempty"`
	CustomerNotes   string   `json:"customer_notes,omitempty"`
}

func (r *CreateRequest) validate() error {
	violations := apperr.ValidationError{}
	if r.OrderID == "" {
		violations["order_id"] = "order_id is required"
	}
	if r.CustomerID == "" {
		violations["customer_id"] = "customer_id is required"
	}
	if r.RestaurantID == "" {
		violations["restaurant_id"] = "restaurant_id is required"
	}
	if r.PickupAddress == "" {
		violations["pickup_address"] = "pickup_address is required"
	}
	if r.DeliveryAddress == "" {
		violations["delivery_address"] = "delivery_address is required"
	}
	if len(violations) > 0 {
		return violations
	}
	return nil
}

// HandleOrderAccepted creates the delivery for a freshly accepted order.
// Redelivery is a no-op: one delivery per order id, first creation wins.
func (s *Service) HandleOrderAccepted(event *events.OrderAccepted) error {
	exists, err := s.store.ExistsByOrderID(event.OrderID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.WithField("order_id", event.OrderID).
			Info("Delivery already exists, skipping duplicate event")
		return nil
	}

	_, err = s.create(&CreateRequest{
		OrderID:         event.OrderID,
		CustomerID:      event.CustomerID,
		RestaurantID:    event.RestaurantID,
		PickupAddress:   event.RestaurantAddress,
		PickupLat:       event.RestaurantLat,
		PickupLng:       event.RestaurantLng,
		DeliveryAddress: event.DeliveryAddress,
		CustomerNotes:   event.CustomerNotes,
	})
	return err
}

// Create handles the direct API path. The same uniqueness rule applies, but a
// caller retrying an already-created order gets a Conflict instead of silence.
func (s *Service) Create(req *CreateRequest) (*Delivery, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	exists, err := s.store.ExistsByOrderID(req.OrderID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict("delivery for order %s already exists", req.OrderID)
	}
	return s.create(req)
}

func (s *Service) create(req *CreateRequest) (*Delivery, error) {
	now := time.Now()
	d := &Delivery{
		ID:              uuid.NewString(),
		OrderID:         req.OrderID,
		CustomerID:      req.CustomerID,
		RestaurantID:    req.RestaurantID,
		Status:          StatusPending,
		PickupAddress:   req.PickupAddress,
		PickupLat:       req.PickupLat,
		PickupLng:       req.PickupLng,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
		CustomerNotes:   req.CustomerNotes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	courier, err := s.store.CreateAndAssign(d)
	if err != nil {
		return nil, err
	}

	if courier == nil {
		// No idle courier right now. The delivery waits as PENDING for a
		// manual assignment; couriers coming back online do not pull work.
		s.logger.WithFields(logrus.Fields{
			"delivery_id": d.ID,
			"order_id":    d.OrderID,
		}).Warn("No available courier, delivery left unassigned")
		return d, nil
	}

	s.logger.WithFields(logrus.Fields{
		"delivery_id": d.ID,
		"order_id":    d.OrderID,
		"courier_id":  courier.ID,
	}).Info("Courier auto-assigned to delivery")

	s.publishCourierAssigned(d, courier)
	return d, nil
}

// AssignCourier pairs a dispatcher-chosen courier with a waiting delivery.
func (s *Service) AssignCourier(deliveryID, courierID string) (*Delivery, error) {
	d, err := s.store.Assign(deliveryID, courierID)
	if err != nil {
		return nil, err
	}

	courier, err := s.store.GetCourier(courierID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"delivery_id": d.ID,
		"order_id":    d.OrderID,
		"courier_id":  courierID,
	}).Info("Courier manually assigned to delivery")

	s.publishCourierAssigned(d, courier)
	return d, nil
}

// UpdateStatusRequest drives courier-reported progress. Reason is only read
// for cancellations.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// UpdateStatus applies a courier-reported transition and always announces the
// change, whether or not anyone upstream maps the new status to anything.
func (s *Service) UpdateStatus(id string, req *UpdateStatusRequest) (*Delivery, error) {
	next := Status(req.Status)
	switch next {
	case StatusPickedUp, StatusInTransit, StatusDelivered, StatusCancelled:
	default:
		// COURIER_ASSIGNED is only reachable through assignment, never
		// through a status report.
		return nil, apperr.BadRequest("invalid delivery status %q", req.Status)
	}

	var previous Status
	d, err := s.store.Transition(id, func(d *Delivery) error {
		previous = d.Status
		if err := d.transitionTo(next); err != nil {
			return err
		}
		now := time.Now()
		switch next {
		case StatusPickedUp:
			d.PickedUpAt = &now
		case StatusDelivered:
			d.DeliveredAt = &now
		case StatusCancelled:
			d.CancelledAt = &now
			d.CancellationReason = req.Reason
		}
		if req.Notes != "" {
			d.CourierNotes = req.Notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	courierID := ""
	if d.CourierID != nil {
		courierID = *d.CourierID
	}
	s.publish(&events.DeliveryStatusChanged{
		EventType:      events.TypeDeliveryStatusChanged,
		DeliveryID:     d.ID,
		OrderID:        d.OrderID,
		CourierID:      courierID,
		PreviousStatus: string(previous),
		NewStatus:      string(d.Status),
		Notes:          req.Notes,
		ChangedAt:      d.UpdatedAt,
	})
	return d, nil
}

func (s *Service) Get(id string) (*Delivery, error) {
	return s.store.GetByID(id)
}

func (s *Service) GetByOrderID(orderID string) (*Delivery, error) {
	return s.store.GetByOrderID(orderID)
}

func (s *Service) List() ([]*Delivery, error) {
	return s.store.List()
}

func (s *Service) CreateCourier(c *Courier) error {
	violations := apperr.ValidationError{}
	if c.Name == "" {
		violations["name"] = "name is required"
	}
	if c.Phone == "" {
		violations["phone"] = "phone is required"
	}
	if len(violations) > 0 {
		return violations
	}

	now := time.Now()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = CourierOffline
	c.CreatedAt = now
	c.UpdatedAt = now
	return s.store.CreateCourier(c)
}

func (s *Service) GetCourier(id string) (*Courier, error) {
	return s.store.GetCourier(id)
}

func (s *Service) ListCouriers() ([]*Courier, error) {
	return s.store.ListCouriers()
}

// SetCourierAvailability flips a courier between AVAILABLE and OFFLINE. BUSY
// is owned by the assignment flow and cannot be entered or left by hand.
func (s *Service) SetCourierAvailability(id string, status CourierStatus) (*Courier, error) {
	if status != CourierAvailable && status != CourierOffline {
		return nil, apperr.BadRequest("availability must be AVAILABLE or OFFLINE, got %q", status)
	}

	return s.store.TransitionCourier(id, func(c *Courier) error {
		if c.Status == CourierBusy {
			return apperr.InvalidState("courier %s has an active delivery and cannot change availability", c.ID)
		}
		c.Status = status
		return nil
	})
}

// UpdateCourierLocation records the courier's latest position. The write also
// bumps updated_at, which pushes the courier to the back of the idle queue.
func (s *Service) UpdateCourierLocation(id string, lat, lng float64) (*Courier, error) {
	return s.store.TransitionCourier(id, func(c *Courier) error {
		c.CurrentLat = &lat
		c.CurrentLng = &lng
		return nil
	})
}

func (s *Service) publishCourierAssigned(d *Delivery, courier *Courier) {
	assignedAt := time.Now()
	if d.AssignedAt != nil {
		assignedAt = *d.AssignedAt
	}
	s.publish(&events.CourierAssigned{
		EventType:    events.TypeCourierAssigned,
		DeliveryID:   d.ID,
		OrderID:      d.OrderID,
		CourierID:    courier.ID,
		CourierName:  courier.Name,
		CourierPhone: courier.Phone,
		AssignedAt:   assignedAt,
	})
}

func (s *Service) publish(event events.Event) {
	if err := s.producer.Publish(events.DeliveryEventsTopic, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type(),
			"order_id":   event.Key(),
		}).Error("Failed to publish event")
	}
}
