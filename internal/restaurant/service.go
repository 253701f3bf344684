package restaurant

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/apperr"
	"github.com/quickplate/fulfillment/internal/events"
)

// defaultPrepTimeMinutes is used when the restaurant accepts without giving
// an estimate.
const defaultPrepTimeMinutes = 20

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

// HandleOrderCreated projects an OrderCreated event into a kitchen-side
// replica. Redelivery is a no-op: the first successful creation wins and the
// existing record is left untouched.
func (s *Service) HandleOrderCreated(event *events.OrderCreated) error {
	exists, err := s.store.ExistsByOrderID(event.OrderID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.WithField("order_id", event.OrderID).
			Info("Restaurant order already exists, skipping duplicate event")
		return nil
	}

	now := time.Now()
	ro := &RestaurantOrder{
		ID:              uuid.NewString(),
		OrderID:         event.OrderID,
		RestaurantID:    event.RestaurantID,
		CustomerID:      event.CustomerID,
		Status:          StatusPending,
		TotalPrice:      event.TotalPrice,
		DeliveryAddress: event.DeliveryAddress,
		CustomerNotes:   event.CustomerNotes,
		ReceivedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Stamp pickup details from the directory when the restaurant is known;
	// an unknown id still gets a PENDING order the kitchen can reject.
	if r, err := s.store.GetRestaurant(event.RestaurantID); err == nil {
		ro.RestaurantName = r.Name
		ro.RestaurantAddress = r.Address
		ro.RestaurantLat = r.Lat
		ro.RestaurantLng = r.Lng
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	for _, item := range event.Items {
		ro.Items = append(ro.Items, Item{
			ID:                  uuid.NewString(),
			RestaurantOrderID:   ro.ID,
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			Price:               item.Price,
			Quantity:            item.Quantity,
			SpecialInstructions: item.SpecialInstructions,
		})
	}

	if err := s.store.Create(ro); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":            ro.OrderID,
		"restaurant_order_id": ro.ID,
		"restaurant_id":       ro.RestaurantID,
	}).Info("Restaurant order created from event")

	return nil
}

// Accept moves PENDING to ACCEPTED and emits OrderAccepted, which is the
// sole trigger for delivery creation downstream.
func (s *Service) Accept(id string, prepTimeMinutes *int) (*RestaurantOrder, error) {
	prep := defaultPrepTimeMinutes
	if prepTimeMinutes != nil {
		if *prepTimeMinutes <= 0 {
			return nil, apperr.BadRequest("estimated_prep_time_minutes must be positive")
		}
		prep = *prepTimeMinutes
	}

	ro, err := s.store.Transition(id, func(ro *RestaurantOrder) error {
		if err := ro.transitionTo(StatusAccepted); err != nil {
			return err
		}
		now := time.Now()
		ro.AcceptedAt = &now
		ro.EstimatedPrepTimeMinutes = &prep
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(&events.OrderAccepted{
		EventType:                events.TypeOrderAccepted,
		OrderID:                  ro.OrderID,
		CustomerID:               ro.CustomerID,
		RestaurantID:             ro.RestaurantID,
		RestaurantName:           ro.RestaurantName,
		RestaurantAddress:        ro.RestaurantAddress,
		RestaurantLat:            ro.RestaurantLat,
		RestaurantLng:            ro.RestaurantLng,
		DeliveryAddress:          ro.DeliveryAddress,
		TotalPrice:               ro.TotalPrice,
		EstimatedPrepTimeMinutes: prep,
		CustomerNotes:            ro.CustomerNotes,
		AcceptedAt:               *ro.AcceptedAt,
	})
	return ro, nil
}

// Reject refuses the order. The reason is mandatory: it travels back to the
// customer on the rejection event.
func (s *Service) Reject(id, reason string) (*RestaurantOrder, error) {
	if reason == "" {
		return nil, apperr.BadRequest("rejection reason is required")
	}

	ro, err := s.store.Transition(id, func(ro *RestaurantOrder) error {
		if err := ro.transitionTo(StatusRejected); err != nil {
			return err
		}
		now := time.Now()
		ro.RejectedAt = &now
		ro.RejectionReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(&events.OrderRejected{
		EventType:       events.TypeOrderRejected,
		OrderID:         ro.OrderID,
		RestaurantID:    ro.RestaurantID,
		RejectionReason: reason,
		RejectedAt:      *ro.RejectedAt,
	})
	return ro, nil
}

// StartPreparing is a local-only transition; nothing downstream reacts to it.
func (s *Service) StartPreparing(id string) (*RestaurantOrder, error) {
	return s.store.Transition(id, func(ro *RestaurantOrder) error {
		if err := ro.transitionTo(StatusPreparing); err != nil {
			return err
		}
		now := time.Now()
		ro.PreparingAt = &now
		return nil
	})
}

// MarkReady transitions to READY and tells the rest of the saga the food is
// waiting for pickup.
func (s *Service) MarkReady(id string) (*RestaurantOrder, error) {
	ro, err := s.store.Transition(id, func(ro *RestaurantOrder) error {
		if err := ro.transitionTo(StatusReady); err != nil {
			return err
		}
		now := time.Now()
		ro.ReadyAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(&events.OrderReady{
		EventType:         events.TypeOrderReady,
		OrderID:           ro.OrderID,
		RestaurantID:      ro.RestaurantID,
		RestaurantName:    ro.RestaurantName,
		RestaurantAddress: ro.RestaurantAddress,
		ReadyAt:           *ro.ReadyAt,
	})
	return ro, nil
}

// MarkPickedUp is local-only; the courier side reports pickup through its
// own status events.
func (s *Service) MarkPickedUp(id string) (*RestaurantOrder, error) {
	return s.store.Transition(id, func(ro *RestaurantOrder) error {
		if err := ro.transitionTo(StatusPickedUp); err != nil {
			return err
		}
		now := time.Now()
		ro.PickedUpAt = &now
		return nil
	})
}

func (s *Service) Get(id string) (*RestaurantOrder, error) {
	return s.store.GetByID(id)
}

func (s *Service) GetByOrderID(orderID string) (*RestaurantOrder, error) {
	return s.store.GetByOrderID(orderID)
}

func (s *Service) ListByRestaurant(restaurantID string) ([]*RestaurantOrder, error) {
	return s.store.ListByRestaurant(restaurantID)
}

func (s *Service) UpsertRestaurant(r *Restaurant) error {
	violations := apperr.ValidationError{}
	if r.ID == "" {
		violations["id"] = "id is required"
	}
	if r.Name == "" {
		violations["name"] = "name is required"
	}
	if r.Address == "" {
		violations["address"] = "address is required"
	}
	if len(violations) > 0 {
		return violations
	}
	return s.store.UpsertRestaurant(r)
}

func (s *Service) publish(event events.Event) {
	if err := s.producer.Publish(events.RestaurantEventsTopic, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type(),
			"order_id":   event.Key(),
		}).Error("Failed to publish event")
	}
}
