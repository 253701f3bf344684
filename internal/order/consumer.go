package order

import (
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/events"
)

// EventHandler feeds restaurant and delivery events into the order state
// machine. It satisfies events.Handler.
type EventHandler struct {
	service *Service
	logger  *logrus.Logger
}

func NewEventHandler(service *Service, logger *logrus.Logger) *EventHandler {
	return &EventHandler{service: service, logger: logger}
}

func (h *EventHandler) HandleEvent(event events.Event) error {
	switch e := event.(type) {
	case *events.OrderAccepted:
		return h.service.HandleOrderAccepted(e)
	case *events.OrderRejected:
		return h.service.HandleOrderRejected(e)
	case *events.OrderReady:
		return h.service.HandleOrderReady(e)
	case *events.DeliveryStatusChanged:
		return h.service.HandleDeliveryStatusChanged(e)
	default:
		// CourierAssigned and anything newer is informational here.
		h.logger.WithField("event_type", event.Type()).Debug("Event not handled by order service")
		return nil
	}
}
