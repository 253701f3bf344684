package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownVariants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    interface{}
	}{
		{
			name:    "order created",
			payload: `{"event_type":"ORDER_CREATED","order_id":"o-1","customer_id":"c-1","restaurant_id":"r-1","total_price":"25.00","delivery_address":"5 Main St","items":[{"menu_item_id":"m-1","name":"Margherita","price":"10.00","quantity":2}],"created_at":"2025-05-01T12:00:00Z"}`,
			want:    &OrderCreated{},
		},
		{
			name:    "order accepted",
			payload: `{"event_type":"ORDER_ACCEPTED","order_id":"o-1","restaurant_id":"r-1","restaurant_name":"Luigi","total_price":"25.00","estimated_prep_time_minutes":20,"accepted_at":"2025-05-01T12:05:00Z"}`,
			want:    &OrderAccepted{},
		},
		{
			name:    "delivery status changed",
			payload: `{"event_type":"DELIVERY_STATUS_CHANGED","delivery_id":"d-1","order_id":"o-1","previous_status":"IN_TRANSIT","new_status":"DELIVERED","changed_at":"2025-05-01T13:00:00Z"}`,
			want:    &DeliveryStatusChanged{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Decode([]byte(tt.payload))
			require.NoError(t, err)
			assert.IsType(t, tt.want, event)
			assert.Equal(t, "o-1", event.Key())
		})
	}
}

func TestDecodeOrderCreatedFields(t *testing.T) {
	payload := `{"event_type":"ORDER_CREATED","order_id":"o-1","customer_id":"c-1","restaurant_id":"r-1","total_price":"25.00","delivery_address":"5 Main St","items":[{"menu_item_id":"m-1","name":"Margherita","price":"10.00","quantity":2},{"menu_item_id":"m-2","name":"Cola","price":"5.00","quantity":1}],"created_at":"2025-05-01T12:00:00Z"}`

	event, err := Decode([]byte(payload))
	require.NoError(t, err)

	created, ok := event.(*OrderCreated)
	require.True(t, ok)
	assert.Equal(t, "c-1", created.CustomerID)
	assert.True(t, created.TotalPrice.Equal(decimal.RequireFromString("25.00")))
	require.Len(t, created.Items, 2)
	assert.Equal(t, 2, created.Items[0].Quantity)
	assert.True(t, created.Items[0].Price.Equal(decimal.RequireFromString("10.00")))
}

func TestDecodeUnknownType(t *testing.T) {
	event, err := Decode([]byte(`{"event_type":"ORDER_TELEPORTED","order_id":"o-9"}`))
	require.NoError(t, err)

	unknown, ok := event.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, "ORDER_TELEPORTED", unknown.Type())
	assert.Equal(t, "o-9", unknown.Key())
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"event_type": "ORDER_CREATED"`))
	assert.Error(t, err)
}

func TestPublishRoundTrip(t *testing.T) {
	// Marshal the way the producer does, then decode the way consumers do.
	original := &OrderRejected{
		EventType:       TypeOrderRejected,
		OrderID:         "o-2",
		RestaurantID:    "r-1",
		RejectionReason: "out of dough",
		RejectedAt:      time.Date(2025, 5, 1, 12, 10, 0, 0, time.UTC),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	rejected, ok := decoded.(*OrderRejected)
	require.True(t, ok)
	assert.Equal(t, original.RejectionReason, rejected.RejectionReason)
	assert.True(t, original.RejectedAt.Equal(rejected.RejectedAt))
}
