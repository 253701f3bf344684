package delivery

import (
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/events"
)

// EventHandler reacts to kitchen events. It satisfies events.Handler.
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
	case *events.OrderReady:
		// Informational only: the courier app surfaces it, no state changes.
		h.logger.WithField("order_id", e.OrderID).Info("Order ready for pickup")
		return nil
	default:
		h.logger.WithField("event_type", event.Type()).Debug("Event not handled by delivery service")
		return nil
	}
}
