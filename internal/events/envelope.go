package events

import (
	"encoding/json"
	"fmt"
)

// Unknown is the decode result for an event_type tag this build does not
// recognize. Consumers log it and move on; new event types must stay
// backward compatible with old consumers.
type Unknown struct {
	EventType string
	OrderID   string
	Raw       []byte
}

func (e *Unknown) Type() string { return e.EventType }
func (e *Unknown) Key() string  { return e.OrderID }

type envelope struct {
	EventType string `json:"event_type"`
	OrderID   string `json:"order_id"`
}

// Decode parses a message payload into one of the known event variants.
// An unrecognized event_type decodes into *Unknown rather than an error;
// only malformed JSON fails.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	var event Event
	switch env.EventType {
	case TypeOrderCreated:
		event = &OrderCreated{}
	case TypeOrderAccepted:
		event = &OrderAccepted{}
	case TypeOrderRejected:
		event = &OrderRejected{}
	case TypeOrderReady:
		event = &OrderReady{}
	case TypeOrderCancelled:
		event = &OrderCancelled{}
	case TypeCourierAssigned:
		event = &CourierAssigned{}
	case TypeDeliveryStatusChanged:
		event = &DeliveryStatusChanged{}
	case TypePaymentCompleted:
		event = &PaymentCompleted{}
	case TypePaymentFailed:
		event = &PaymentFailed{}
	default:
		return &Unknown{EventType: env.EventType, OrderID: env.OrderID, Raw: data}, nil
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", env.EventType, err)
	}

	return event, nil
}
