package order

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickplate/fulfillment/internal/apperr"
	"github.com/quickplate/fulfillment/internal/events"
	"github.com/quickplate/fulfillment/internal/paygate"
)

type memStore struct {
	mutex  sync.Mutex
	orders map[string]*Order
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*Order)}
}

func (s *memStore) Create(o *Order) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *memStore) GetByID(id string) (*Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o, nil
}

func (s *memStore) List() ([]*Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var out []*Order
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func (s *memStore) Transition(id string, fn func(*Order) error) (*Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	// Work on a copy so a failed transition leaves the stored row unchanged.
	copied := *o
	if o.Payment != nil {
		payment := *o.Payment
		copied.Payment = &payment
	}
	if err := fn(&copied); err != nil {
		return nil, err
	}
	copied.UpdatedAt = time.Now()
	s.orders[id] = &copied
	return &copied, nil
}

func (s *memStore) Delete(id string, guard func(*Order) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return apperr.NotFound("order %s not found", id)
	}
	if err := guard(o); err != nil {
		return err
	}
	delete(s.orders, id)
	return nil
}

type capturingPublisher struct {
	published []events.Event
}

func (p *capturingPublisher) Publish(topic string, event events.Event) error {
	p.published = append(p.published, event)
	return nil
}

func (p *capturingPublisher) lastType() string {
	if len(p.published) == 0 {
		return ""
	}
	return p.published[len(p.published)-1].Type()
}

type fakeGateway struct {
	approve   bool
	reason    string
	callErr   error
	refunds   []paygate.RefundRequest
	chargedIn []paygate.ChargeRequest
}

func (g *fakeGateway) Charge(req paygate.ChargeRequest) (*paygate.ChargeResult, error) {
	g.chargedIn = append(g.chargedIn, req)
	if g.callErr != nil {
		return nil, g.callErr
	}
	if !g.approve {
		return &paygate.ChargeResult{Approved: false, Reason: g.reason}, nil
	}
	return &paygate.ChargeResult{Approved: true, TransactionID: "txn-1"}, nil
}

func (g *fakeGateway) Refund(req paygate.RefundRequest) error {
	g.refunds = append(g.refunds, req)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestService() (*Service, *memStore, *capturingPublisher, *fakeGateway) {
	store := newMemStore()
	publisher := &capturingPublisher{}
	gateway := &fakeGateway{approve: true}
	svc := NewService(store, publisher, gateway, nil, testLogger())
	return svc, store, publisher, gateway
}

func twoItemRequest() CreateRequest {
	return CreateRequest{
		CustomerID:      "c-1",
		RestaurantID:    "r-1",
		DeliveryAddress: "5 Main St",
		PaymentMethod:   "CARD",
		Items: []CreateItemRequest{
			{MenuItemID: "m-1", Name: "Margherita", Price: decimal.RequireFromString("10.00"), Quantity: 2},
			{MenuItemID: "m-2", Name: "Cola", Price: decimal.RequireFromString("5.00"), Quantity: 1},
		},
	}
}

func TestCreateComputesTotal(t *testing.T) {
	svc, _, publisher, _ := newTestService()

	o, err := svc.Create(twoItemRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("25.00")),
		"total was %s", o.TotalPrice)
	require.NotNil(t, o.Payment)
	assert.Equal(t, PaymentPending, o.Payment.Status)
	assert.True(t, o.Payment.Amount.Equal(o.TotalPrice))
	require.Len(t, o.Items, 2)
	assert.True(t, o.Items[0].Subtotal.Equal(decimal.RequireFromString("20.00")))

	assert.Equal(t, events.TypeOrderCreated, publisher.lastType())
}

func TestCreateValidatesAllFieldsAtOnce(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Create(CreateRequest{})
	require.Error(t, err)

	var violations apperr.ValidationError
	require.True(t, errors.As(err, &violations))
	assert.Contains(t, violations, "customer_id")
	assert.Contains(t, violations, "delivery_address")
	assert.Contains(t, violations, "items")
	assert.Contains(t, violations, "payment_method")
}

func TestProcessPaymentConfirmsOrder(t *testing.T) {
	svc, _, publisher, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())

	updated, err := svc.ProcessPayment(o.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, PaymentCompleted, updated.Payment.Status)
	assert.Equal(t, "txn-1", updated.Payment.TransactionID)
	assert.NotNil(t, updated.Payment.PaidAt)
	assert.Equal(t, events.TypePaymentCompleted, publisher.lastType())
}

func TestProcessPaymentDeclineLeavesOrderPending(t *testing.T) {
	svc, _, publisher, gateway := newTestService()
	gateway.approve = false
	gateway.reason = "insufficient funds"
	o, _ := svc.Create(twoItemRequest())

	updated, err := svc.ProcessPayment(o.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, updated.Status)
	assert.Equal(t, PaymentFailed, updated.Payment.Status)
	assert.Equal(t, "insufficient funds", updated.Payment.FailureReason)
	assert.Equal(t, events.TypePaymentFailed, publisher.lastType())

	// One-shot: a failed payment cannot be reprocessed.
	_, err = svc.ProcessPayment(o.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestProcessPaymentGatewayOutageChangesNothing(t *testing.T) {
	svc, store, _, gateway := newTestService()
	gateway.callErr = errors.New("connection refused")
	o, _ := svc.Create(twoItemRequest())

	_, err := svc.ProcessPayment(o.ID)
	require.Error(t, err)

	stored, _ := store.GetByID(o.ID)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, PaymentPending, stored.Payment.Status)
}

func TestHandleOrderAcceptedSetsETA(t *testing.T) {
	svc, _, _, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())
	svc.ProcessPayment(o.ID)

	before := time.Now()
	require.NoError(t, svc.HandleOrderAccepted(&events.OrderAccepted{
		OrderID:                  o.ID,
		EstimatedPrepTimeMinutes: 20,
	}))

	updated, _ := svc.Get(o.ID)
	assert.Equal(t, StatusAcceptedByRestaurant, updated.Status)
	require.NotNil(t, updated.ConfirmedAt)
	require.NotNil(t, updated.EstimatedDeliveryTime)

	// prep 20min + 30min buffer
	expected := before.Add(50 * time.Minute)
	assert.WithinDuration(t, expected, *updated.EstimatedDeliveryTime, 5*time.Second)
}

func TestHandleOrderRejectedRefundsCompletedPayment(t *testing.T) {
	svc, _, _, gateway := newTestService()
	o, _ := svc.Create(twoItemRequest())
	svc.ProcessPayment(o.ID)

	require.NoError(t, svc.HandleOrderRejected(&events.OrderRejected{
		OrderID:         o.ID,
		RejectionReason: "out of dough",
	}))

	updated, _ := svc.Get(o.ID)
	assert.Equal(t, StatusRejected, updated.Status)
	assert.Equal(t, "out of dough", updated.RejectionReason)
	assert.NotNil(t, updated.CancelledAt)
	assert.Equal(t, PaymentRefunded, updated.Payment.Status)
	assert.NotNil(t, updated.Payment.RefundedAt)
	require.Len(t, gateway.refunds, 1)
	assert.Equal(t, "txn-1", gateway.refunds[0].TransactionID)
}

func TestHandleOrderRejectedCancelsPendingPayment(t *testing.T) {
	svc, _, _, gateway := newTestService()
	o, _ := svc.Create(twoItemRequest())

	require.NoError(t, svc.HandleOrderRejected(&events.OrderRejected{
		OrderID: o.ID,
	}))

	updated, _ := svc.Get(o.ID)
	assert.Equal(t, PaymentCancelled, updated.Payment.Status)
	assert.Nil(t, updated.Payment.RefundedAt)
	assert.Empty(t, gateway.refunds)
}

func TestCancelOnlyInEarlyStatuses(t *testing.T) {
	svc, _, publisher, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())

	cancelled, err := svc.Cancel(o.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, PaymentCancelled, cancelled.Payment.Status)
	assert.Equal(t, events.TypeOrderCancelled, publisher.lastType())

	// Cancelled is absorbing.
	_, err = svc.Cancel(o.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCancelRejectedAfterPickup(t *testing.T) {
	svc, _, _, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())
	svc.ProcessPayment(o.ID)
	svc.HandleOrderAccepted(&events.OrderAccepted{OrderID: o.ID, EstimatedPrepTimeMinutes: 10})
	svc.HandleOrderReady(&events.OrderReady{OrderID: o.ID})
	svc.HandleDeliveryStatusChanged(&events.DeliveryStatusChanged{OrderID: o.ID, NewStatus: "PICKED_UP"})

	_, err := svc.Cancel(o.ID, "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	updated, _ := svc.Get(o.ID)
	assert.Equal(t, StatusPickedUp, updated.Status)
}

func TestDeliveryStatusMapping(t *testing.T) {
	tests := []struct {
		deliveryStatus string
		want           Status
	}{
		{"PICKED_UP", StatusPickedUp},
		{"IN_TRANSIT", StatusInDelivery},
		{"DELIVERED", StatusDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.deliveryStatus, func(t *testing.T) {
			svc, _, _, _ := newTestService()
			o, _ := svc.Create(twoItemRequest())
			svc.ProcessPayment(o.ID)
			svc.HandleOrderAccepted(&events.OrderAccepted{OrderID: o.ID, EstimatedPrepTimeMinutes: 10})

			require.NoError(t, svc.HandleDeliveryStatusChanged(&events.DeliveryStatusChanged{
				OrderID:   o.ID,
				NewStatus: tt.deliveryStatus,
			}))

			updated, _ := svc.Get(o.ID)
			assert.Equal(t, tt.want, updated.Status)
			if tt.want == StatusDelivered {
				assert.NotNil(t, updated.DeliveredAt)
			}
		})
	}
}

func TestUnrecognizedDeliveryStatusIgnored(t *testing.T) {
	svc, _, _, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())
	svc.ProcessPayment(o.ID)

	err := svc.HandleDeliveryStatusChanged(&events.DeliveryStatusChanged{
		OrderID:   o.ID,
		NewStatus: "TELEPORTED",
	})
	require.NoError(t, err, "unknown status must not surface an error to the consumer")

	updated, _ := svc.Get(o.ID)
	assert.Equal(t, StatusConfirmed, updated.Status)
}

func TestLateEventAgainstTerminalOrderIsIgnored(t *testing.T) {
	svc, _, _, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())
	svc.Cancel(o.ID, "changed my mind")

	// An OrderAccepted arriving after cancellation is an expected race, not
	// a handler failure that should dead-letter.
	err := svc.HandleOrderAccepted(&events.OrderAccepted{OrderID: o.ID, EstimatedPrepTimeMinutes: 10})
	assert.NoError(t, err)

	updated, _ := svc.Get(o.ID)
	assert.Equal(t, StatusCancelled, updated.Status)
}

func TestUpdateOnlyBeforeKitchen(t *testing.T) {
	svc, _, _, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())

	updated, err := svc.Update(o.ID, UpdateRequest{DeliveryAddress: "7 Oak Ave"})
	require.NoError(t, err)
	assert.Equal(t, "7 Oak Ave", updated.DeliveryAddress)

	svc.ProcessPayment(o.ID)
	svc.HandleOrderAccepted(&events.OrderAccepted{OrderID: o.ID, EstimatedPrepTimeMinutes: 10})
	svc.HandleOrderReady(&events.OrderReady{OrderID: o.ID})

	_, err = svc.Update(o.ID, UpdateRequest{Notes: "ring twice"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestDeleteGuard(t *testing.T) {
	svc, _, _, _ := newTestService()

	o, _ := svc.Create(twoItemRequest())
	require.NoError(t, svc.Delete(o.ID), "PENDING orders are deletable")

	o2, _ := svc.Create(twoItemRequest())
	svc.ProcessPayment(o2.ID)
	err := svc.Delete(o2.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "CONFIRMED orders are not deletable")

	svc.Cancel(o2.ID, "done with it")
	assert.NoError(t, svc.Delete(o2.ID), "CANCELLED orders are deletable")
}

func TestTotalPriceImmutableAfterCreation(t *testing.T) {
	svc, store, _, _ := newTestService()
	o, _ := svc.Create(twoItemRequest())
	original := o.TotalPrice

	svc.ProcessPayment(o.ID)
	svc.HandleOrderAccepted(&events.OrderAccepted{OrderID: o.ID, EstimatedPrepTimeMinutes: 15})
	svc.HandleOrderReady(&events.OrderReady{OrderID: o.ID})
	svc.HandleDeliveryStatusChanged(&events.DeliveryStatusChanged{OrderID: o.ID, NewStatus: "DELIVERED"})

	final, _ := store.GetByID(o.ID)
	assert.Equal(t, StatusDelivered, final.Status)
	assert.True(t, final.TotalPrice.Equal(original))
}
