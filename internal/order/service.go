package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/apperr"
	"github.com/quickplate/fulfillment/internal/events"
	"github.com/quickplate/fulfillment/internal/paygate"
)

// deliveryBuffer is added on top of the restaurant's prep time estimate when
// computing the estimated delivery time.
const deliveryBuffer = 30 * time.Minute

type Publisher interface {
	Publish(topic string, event events.Event) error
}

type Gateway interface {
	Charge(req paygate.ChargeRequest) (*paygate.ChargeResult, error)
	Refund(req paygate.RefundRequest) error
}

// Notifier pushes committed status changes to live subscribers. May be nil.
type Notifier interface {
	OrderStatusChanged(orderID string, status Status)
}

type Service struct {
	store    Store
	producer Publisher
	gateway  Gateway
	notifier Notifier
	logger   *logrus.Logger
}

func NewService(store Store, producer Publisher, gateway Gateway, notifier Notifier, logger *logrus.Logger) *Service {
	return &Service{
		store:    store,
		producer: producer,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
	}
}

type CreateItemRequest struct {
	MenuItemID          string          `json:"menu_item_id"`
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	Quantity            int             `json:"quantity"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
}

type CreateRequest struct {
	CustomerID      string              `json:"customer_id"`
	RestaurantID    string              `json:"restaurant_id"`
	DeliveryAddress string              `json:"delivery_address"`
	DeliveryLat     *float64            `json:"delivery_lat,omitempty"`
	DeliveryLng     *float64            `json:"delivery_lng,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	PaymentMethod   string              `json:"payment_method"`
	Items           []CreateItemRequest `json:"items"`
}

func (r *CreateRequest) validate() error {
	violations := apperr.ValidationError{}
	if r.CustomerID == "" {
		violations["customer_id"] = "customer_id is required"
	}
	if r.RestaurantID == "" {
		violations["restaurant_id"] = "restaurant_id is required"
	}
	if r.DeliveryAddress == "" {
		violations["delivery_address"] = "delivery_address is required"
	}
	if r.PaymentMethod == "" {
		violations["payment_method"] = "payment_method is required"
	}
	if len(r.Items) == 0 {
		violations["items"] = "at least one item is required"
	}
	for i, item := range r.Items {
		if item.MenuItemID == "" {
			violations[fmt.Sprintf("items[%d].menu_item_id", i)] = "menu_item_id is required"
		}
		if item.Quantity <= 0 {
			violations[fmt.Sprintf("items[%d].quantity", i)] = "quantity must be positive"
		}
		if item.Price.IsNegative() {
			violations[fmt.Sprintf("items[%d].price", i)] = "price must not be negative"
		}
	}
	if len(violations) > 0 {
		return violations
	}
	return nil
}

// Create persists the order with its items and pending payment, then emits
// OrderCreated. The total is fixed here and never recomputed.
func (s *Service) Create(req CreateRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	o := &Order{
		ID:              uuid.NewString(),
		CustomerID:      req.CustomerID,
		RestaurantID:    req.RestaurantID,
		Status:          StatusPending,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	total := decimal.Zero
	for _, item := range req.Items {
		subtotal := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		o.Items = append(o.Items, Item{
			ID:                  uuid.NewString(),
			OrderID:             o.ID,
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			Price:               item.Price,
			Quantity:            item.Quantity,
			Subtotal:            subtotal,
			SpecialInstructions: item.SpecialInstructions,
		})
		total = total.Add(subtotal)
	}
	o.TotalPrice = total

	o.Payment = &Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Amount:    total,
		Method:    req.PaymentMethod,
		Status:    PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(o); err != nil {
		return nil, err
	}

	s.publish(events.OrderEventsTopic, s.orderCreatedEvent(o))

	s.logger.WithFields(logrus.Fields{
		"order_id":    o.ID,
		"customer_id": o.CustomerID,
		"total_price": o.TotalPrice.String(),
	}).Info("Order created")

	return o, nil
}

func (s *Service) Get(id string) (*Order, error) {
	return s.store.GetByID(id)
}

func (s *Service) List() ([]*Order, error) {
	return s.store.List()
}

type UpdateRequest struct {
	DeliveryAddress string   `json:"delivery_address,omitempty"`
	DeliveryLat     *float64 `json:"delivery_lat,omitempty"`
	DeliveryLng     *float64 `json:"delivery_lng,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// Update changes address and notes while the order has not yet reached the
// kitchen floor.
func (s *Service) Update(id string, req UpdateRequest) (*Order, error) {
	return s.store.Transition(id, func(o *Order) error {
		if !o.canModify() {
			return apperr.InvalidState("order %s is %s and can no longer be updated", o.ID, o.Status)
		}
		if req.DeliveryAddress != "" {
			o.DeliveryAddress = req.DeliveryAddress
		}
		if req.DeliveryLat != nil {
			o.DeliveryLat = req.DeliveryLat
		}
		if req.DeliveryLng != nil {
			o.DeliveryLng = req.DeliveryLng
		}
		if req.Notes != "" {
			o.Notes = req.Notes
		}
		return nil
	})
}

// Cancel aborts an order on customer or admin request. The payment
// compensation runs in the same transaction as the status change.
func (s *Service) Cancel(id, reason string) (*Order, error) {
	var refunded bool
	o, err := s.store.Transition(id, func(o *Order) error {
		if !o.canModify() {
			return apperr.InvalidState("order %s is %s and cannot be cancelled", o.ID, o.Status)
		}
		now := time.Now()
		o.Status = StatusCancelled
		o.CancelledAt = &now
		refunded = o.compensatePayment(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.OrderEventsTopic, &events.OrderCancelled{
		EventType:          events.TypeOrderCancelled,
		OrderID:            o.ID,
		CustomerID:         o.CustomerID,
		RestaurantID:       o.RestaurantID,
		CancellationReason: reason,
		CancelledAt:        *o.CancelledAt,
	})
	if refunded {
		s.refundAtGateway(o)
	}
	s.notify(o)
	return o, nil
}

func (s *Service) Delete(id string) error {
	return s.store.Delete(id, func(o *Order) error {
		if !o.canDelete() {
			return apperr.InvalidState("order %s is %s and cannot be deleted", o.ID, o.Status)
		}
		return nil
	})
}

// ProcessPayment charges the payment provider and records the one-shot
// outcome: COMPLETED confirms the order, a decline marks the payment FAILED
// and leaves the order PENDING. A provider outage changes nothing.
func (s *Service) ProcessPayment(id string) (*Order, error) {
	o, err := s.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if o.Payment == nil {
		return nil, apperr.NotFound("order %s has no payment", id)
	}
	if o.Payment.Status != PaymentPending {
		return nil, apperr.InvalidState("payment for order %s is %s, not PENDING", id, o.Payment.Status)
	}

	result, err := s.gateway.Charge(paygate.ChargeRequest{
		OrderID:   o.ID,
		PaymentID: o.Payment.ID,
		Amount:    o.Payment.Amount,
		Method:    o.Payment.Method,
	})
	if err != nil {
		return nil, fmt.Errorf("payment gateway unavailable: %w", err)
	}

	updated, err := s.store.Transition(id, func(o *Order) error {
		if o.Payment == nil || o.Payment.Status != PaymentPending {
			return apperr.InvalidState("payment for order %s is no longer PENDING", id)
		}
		now := time.Now()
		if result.Approved {
			o.Payment.Status = PaymentCompleted
			o.Payment.TransactionID = result.TransactionID
			o.Payment.PaidAt = &now
			return o.transitionTo(StatusConfirmed)
		}
		o.Payment.Status = PaymentFailed
		o.Payment.FailureReason = result.Reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Approved {
		s.publish(events.OrderEventsTopic, &events.PaymentCompleted{
			EventType:     events.TypePaymentCompleted,
			OrderID:       updated.ID,
			PaymentID:     updated.Payment.ID,
			Amount:        updated.Payment.Amount,
			TransactionID: updated.Payment.TransactionID,
			PaidAt:        *updated.Payment.PaidAt,
		})
		s.notify(updated)
	} else {
		s.publish(events.OrderEventsTopic, &events.PaymentFailed{
			EventType: events.TypePaymentFailed,
			OrderID:   updated.ID,
			PaymentID: updated.Payment.ID,
			Reason:    updated.Payment.FailureReason,
			FailedAt:  time.Now(),
		})
	}

	return updated, nil
}

// HandleOrderAccepted reacts to the restaurant taking the order: the order
// is confirmed on the restaurant side and the customer gets an ETA of
// prep time plus the fixed delivery buffer.
func (s *Service) HandleOrderAccepted(event *events.OrderAccepted) error {
	o, err := s.store.Transition(event.OrderID, func(o *Order) error {
		if err := o.transitionTo(StatusAcceptedByRestaurant); err != nil {
			return err
		}
		now := time.Now()
		o.ConfirmedAt = &now
		eta := now.Add(time.Duration(event.EstimatedPrepTimeMinutes)*time.Minute + deliveryBuffer)
		o.EstimatedDeliveryTime = &eta
		return nil
	})
	if err != nil {
		return s.ignoreStateConflict(event.OrderID, "OrderAccepted", err)
	}
	s.notify(o)
	return nil
}

// HandleOrderRejected is the compensation path: the order dies and a
// captured payment is refunded in the same transaction.
func (s *Service) HandleOrderRejected(event *events.OrderRejected) error {
	var refunded bool
	o, err := s.store.Transition(event.OrderID, func(o *Order) error {
		if err := o.transitionTo(StatusRejected); err != nil {
			return err
		}
		now := time.Now()
		o.RejectionReason = event.RejectionReason
		o.CancelledAt = &now
		refunded = o.compensatePayment(now)
		return nil
	})
	if err != nil {
		return s.ignoreStateConflict(event.OrderID, "OrderRejected", err)
	}
	if refunded {
		s.refundAtGateway(o)
	}
	s.notify(o)
	return nil
}

func (s *Service) HandleOrderReady(event *events.OrderReady) error {
	o, err := s.store.Transition(event.OrderID, func(o *Order) error {
		return o.transitionTo(StatusReadyForPickup)
	})
	if err != nil {
		return s.ignoreStateConflict(event.OrderID, "OrderReady", err)
	}
	s.notify(o)
	return nil
}

// HandleDeliveryStatusChanged maps the delivery service's status strings
// onto the order machine. The two services deliberately do not share an
// enum; anything outside the four known strings is logged and ignored.
func (s *Service) HandleDeliveryStatusChanged(event *events.DeliveryStatusChanged) error {
	var next Status
	switch event.NewStatus {
	case "PICKED_UP":
		next = StatusPickedUp
	case "IN_TRANSIT":
		next = StatusInDelivery
	case "DELIVERED":
		next = StatusDelivered
	case "CANCELLED":
		next = StatusCancelled
	default:
		s.logger.WithFields(logrus.Fields{
			"order_id":        event.OrderID,
			"delivery_status": event.NewStatus,
		}).Warn("Unrecognized delivery status, ignoring")
		return nil
	}

	o, err := s.store.Transition(event.OrderID, func(o *Order) error {
		if err := o.transitionTo(next); err != nil {
			return err
		}
		now := time.Now()
		switch next {
		case StatusDelivered:
			o.DeliveredAt = &now
		case StatusCancelled:
			o.CancelledAt = &now
		}
		return nil
	})
	if err != nil {
		return s.ignoreStateConflict(event.OrderID, "DeliveryStatusChanged", err)
	}
	s.notify(o)
	return nil
}

// ignoreStateConflict keeps redelivered or late events from dead-lettering:
// an InvalidState against an already-terminal order is an expected saga
// race, not a processing failure.
func (s *Service) ignoreStateConflict(orderID, event string, err error) error {
	if errors.Is(err, apperr.ErrInvalidState) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": orderID,
			"event":    event,
		}).Warn("Event ignored due to order state")
		return nil
	}
	return err
}

func (s *Service) orderCreatedEvent(o *Order) *events.OrderCreated {
	items := make([]events.OrderItemPayload, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, events.OrderItemPayload{
			MenuItemID:          item.MenuItemID,
			Name:                item.Name,
			Price:               item.Price,
			Quantity:            item.Quantity,
			SpecialInstructions: item.SpecialInstructions,
		})
	}
	return &events.OrderCreated{
		EventType:       events.TypeOrderCreated,
		OrderID:         o.ID,
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		TotalPrice:      o.TotalPrice,
		DeliveryAddress: o.DeliveryAddress,
		CustomerNotes:   o.Notes,
		Items:           items,
		CreatedAt:       o.CreatedAt,
	}
}

func (s *Service) publish(topic string, event events.Event) {
	// The row is already committed; a lost publish is the accepted
	// at-least-once risk, so log and move on rather than failing the caller.
	if err := s.producer.Publish(topic, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"topic":      topic,
			"event_type": event.Type(),
			"order_id":   event.Key(),
		}).Error("Failed to publish event")
	}
}

func (s *Service) refundAtGateway(o *Order) {
	if o.Payment == nil || o.Payment.TransactionID == "" {
		return
	}
	if err := s.gateway.Refund(paygate.RefundRequest{
		TransactionID: o.Payment.TransactionID,
		Amount:        o.Payment.Amount,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", o.ID).
			Error("Failed to request refund from payment gateway")
	}
}

func (s *Service) notify(o *Order) {
	if s.notifier != nil {
		s.notifier.OrderStatusChanged(o.ID, o.Status)
	}
}
