package restaurant

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickplate/fulfillment/internal/apperr"
	"github.com/quickplate/fulfillment/internal/events"
)

type memStore struct {
	mutex       sync.Mutex
	orders      map[string]*RestaurantOrder
	byOrderID   map[string]string
	restaurants map[string]*Restaurant
}

func newMemStore() *memStore {
	return &memStore{
		orders:      make(map[string]*RestaurantOrder),
		byOrderID:   make(map[string]string),
		restaurants: make(map[string]*Restaurant),
	}
}

func (s *memStore) ExistsByOrderID(orderID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.byOrderID[orderID]
	return ok, nil
}

func (s *memStore) Create(ro *RestaurantOrder) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.byOrderID[ro.OrderID]; ok {
		return apperr.Conflict("restaurant order for order %s already exists", ro.OrderID)
	}
	s.orders[ro.ID] = ro
	s.byOrderID[ro.OrderID] = ro.ID
	return nil
}

func (s *memStore) GetByID(id string) (*RestaurantOrder, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ro, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("restaurant order %s not found", id)
	}
	return ro, nil
}

func (s *memStore) GetByOrderID(orderID string) (*RestaurantOrder, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	id, ok := s.byOrderID[orderID]
	if !ok {
		return nil, apperr.NotFound("no restaurant order for order %s", orderID)
	}
	return s.orders[id], nil
}

func (s *memStore) ListByRestaurant(restaurantID string) ([]*RestaurantOrder, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var out []*RestaurantOrder
	for _, ro := range s.orders {
		if ro.RestaurantID == restaurantID {
			out = append(out, ro)
		}
	}
	return out, nil
}

func (s *memStore) Transition(id string, fn func(*RestaurantOrder) error) (*RestaurantOrder, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ro, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("restaurant order %s not found", id)
	}
	copied := *ro
	if err := fn(&copied); err != nil {
		return nil, err
	}
	copied.UpdatedAt = time.Now()
	s.orders[id] = &copied
	return &copied, nil
}

func (s *memStore) GetRestaurant(id string) (*Restaurant, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	r, ok := s.restaurants[id]
	if !ok {
		return nil, apperr.NotFound("restaurant %s not found", id)
	}
	return r, nil
}

func (s *memStore) UpsertRestaurant(r *Restaurant) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.restaurants[r.ID] = r
	return nil
}

type capturingPublisher struct {
	published []events.Event
}

func (p *capturingPublisher) Publish(topic string, event events.Event) error {
	p.published = append(p.published, event)
	return nil
}

func newTestService() (*Service, *memStore, *capturingPublisher) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := newMemStore()
	publisher := &capturingPublisher{}
	return NewService(store, publisher, logger), store, publisher
}

func orderCreatedEvent(orderID string) *events.OrderCreated {
	return &events.OrderCreated{
		EventType:       events.TypeOrderCreated,
		OrderID:         orderID,
		CustomerID:      "c-1",
		RestaurantID:    "r-1",
		TotalPrice:      decimal.RequireFromString("25.00"),
		DeliveryAddress: "5 Main St",
		Items: []events.OrderItemPayload{
			{MenuItemID: "m-1", Name: "Margherita", Price: decimal.RequireFromString("10.00"), Quantity: 2},
			{MenuItemID: "m-2", Name: "Cola", Price: decimal.RequireFromString("5.00"), Quantity: 1},
		},
		CreatedAt: time.Now(),
	}
}

func TestHandleOrderCreatedSnapshotsItems(t *testing.T) {
	svc, store, _ := newTestService()
	store.UpsertRestaurant(&Restaurant{ID: "r-1", Name: "Luigi", Address: "1 Dock Rd"})

	require.NoError(t, svc.HandleOrderCreated(orderCreatedEvent("o-1")))

	ro, err := store.GetByOrderID("o-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, ro.Status)
	assert.Equal(t, "Luigi", ro.RestaurantName)
	require.Len(t, ro.Items, 2)
	assert.Equal(t, "Margherita", ro.Items[0].Name)
	assert.True(t, ro.Items[0].Price.Equal(decimal.RequireFromString("10.00")))
}

func TestHandleOrderCreatedIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService()

	event := orderCreatedEvent("o-1")
	require.NoError(t, svc.HandleOrderCreated(event))

	first, _ := store.GetByOrderID("o-1")

	// Redelivery must not create a second record or touch the first.
	require.NoError(t, svc.HandleOrderCreated(event))
	second, _ := store.GetByOrderID("o-1")
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.orders, 1)
}

func TestAcceptEmitsOrderAccepted(t *testing.T) {
	svc, store, publisher := newTestService()
	store.UpsertRestaurant(&Restaurant{ID: "r-1", Name: "Luigi", Address: "1 Dock Rd"})
	svc.HandleOrderCreated(orderCreatedEvent("o-1"))
	ro, _ := store.GetByOrderID("o-1")

	prep := 20
	accepted, err := svc.Accept(ro.ID, &prep)
	require.NoError(t, err)

	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.NotNil(t, accepted.AcceptedAt)
	require.NotNil(t, accepted.EstimatedPrepTimeMinutes)
	assert.Equal(t, 20, *accepted.EstimatedPrepTimeMinutes)

	require.Len(t, publisher.published, 1)
	event, ok := publisher.published[0].(*events.OrderAccepted)
	require.True(t, ok)
	assert.Equal(t, "o-1", event.OrderID)
	assert.Equal(t, "Luigi", event.RestaurantName)
	assert.Equal(t, 20, event.EstimatedPrepTimeMinutes)
	assert.True(t, event.TotalPrice.Equal(decimal.RequireFromString("25.00")))
}

func TestAcceptDefaultsPrepTime(t *testing.T) {
	svc, store, publisher := newTestService()
	svc.HandleOrderCreated(orderCreatedEvent("o-1"))
	ro, _ := store.GetByOrderID("o-1")

	_, err := svc.Accept(ro.ID, nil)
	require.NoError(t, err)

	event := publisher.published[0].(*events.OrderAccepted)
	assert.Equal(t, defaultPrepTimeMinutes, event.EstimatedPrepTimeMinutes)
}

func TestRejectRequiresReason(t *testing.T) {
	svc, store, publisher := newTestService()
	svc.HandleOrderCreated(orderCreatedEvent("o-1"))
	ro, _ := store.GetByOrderID("o-1")

	_, err := svc.Reject(ro.ID, "")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.Empty(t, publisher.published)

	rejected, err := svc.Reject(ro.ID, "out of dough")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "out of dough", rejected.RejectionReason)

	event, ok := publisher.published[0].(*events.OrderRejected)
	require.True(t, ok)
	assert.Equal(t, "out of dough", event.RejectionReason)
}

func TestMarkReadyEmitsOrderReady(t *testing.T) {
	svc, store, publisher := newTestService()
	svc.HandleOrderCreated(orderCreatedEvent("o-1"))
	ro, _ := store.GetByOrderID("o-1")

	svc.Accept(ro.ID, nil)
	_, err := svc.StartPreparing(ro.ID)
	require.NoError(t, err)

	ready, err := svc.MarkReady(ro.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, ready.Status)
	assert.NotNil(t, ready.ReadyAt)

	last := publisher.published[len(publisher.published)-1]
	_, ok := last.(*events.OrderReady)
	assert.True(t, ok)
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name string
		from Status
		op   func(svc *Service, id string) error
		ok   bool
	}{
		{"pending can be accepted", StatusPending, func(svc *Service, id string) error {
			_, err := svc.Accept(id, nil)
			return err
		}, true},
		{"pending cannot be prepared", StatusPending, func(svc *Service, id string) error {
			_, err := svc.StartPreparing(id)
			return err
		}, false},
		{"pending cannot be picked up", StatusPending, func(svc *Service, id string) error {
			_, err := svc.MarkPickedUp(id)
			return err
		}, false},
		{"accepted cannot be re-accepted", StatusAccepted, func(svc *Service, id string) error {
			_, err := svc.Accept(id, nil)
			return err
		}, false},
		{"accepted cannot be rejected", StatusAccepted, func(svc *Service, id string) error {
			_, err := svc.Reject(id, "too late")
			return err
		}, false},
		{"preparing can be marked ready", StatusPreparing, func(svc *Service, id string) error {
			_, err := svc.MarkReady(id)
			return err
		}, true},
		{"ready can be picked up", StatusReady, func(svc *Service, id string) error {
			_, err := svc.MarkPickedUp(id)
			return err
		}, true},
		{"picked up is absorbing", StatusPickedUp, func(svc *Service, id string) error {
			_, err := svc.MarkReady(id)
			return err
		}, false},
		{"rejected is absorbing", StatusRejected, func(svc *Service, id string) error {
			_, err := svc.Accept(id, nil)
			return err
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService()
			svc.HandleOrderCreated(orderCreatedEvent("o-1"))
			ro, _ := store.GetByOrderID("o-1")
			store.orders[ro.ID].Status = tt.from

			err := tt.op(svc, ro.ID)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidState)
				stored, _ := store.GetByID(ro.ID)
				assert.Equal(t, tt.from, stored.Status, "failed transition must not change stored status")
			}
		})
	}
}
