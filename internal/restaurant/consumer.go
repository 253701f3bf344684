package restaurant

import (
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/events"
)

// EventHandler projects order events into the kitchen's replica. It
// satisfies events.Handler.
type EventHandler struct {
	service *Service
	logger  *logrus.Logger
}

func NewEventHandler(service *Service, logger *logrus.Logger) *EventHandler {
	return &EventHandler{service: service, logger: logger}
}

func (h *EventHandler) HandleEvent(event events.Event) error {
	switch e := event.(type) {
	case *events.OrderCreated:
		return h.service.HandleOrderCreated(e)
	default:
		h.logger.WithField("event_type", event.Type()).Debug("Event not handled by restaurant service")
		return nil
	}
}
