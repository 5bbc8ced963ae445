package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/worker"
	"github.com/newsprism/backend/pkg/logger"
)

type EventSource interface {
	Subscribe() (<-chan worker.Event, func())
}

// EventsHandler streams run lifecycle events to websocket clients.
type EventsHandler struct {
	events EventSource
	logger *zap.Logger
}

func NewEventsHandler(events EventSource, log *zap.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		logger: logger.OrNop(log).Named("events_handler"),
	}
}

func (h *EventsHandler) HandleConnection(c *websocket.Conn) {
	h.logger.Info("WebSocket connection established")

	events, unsubscribe := h.events.Subscribe()
	defer func() {
		unsubscribe()
		c.Close()
		h.logger.Info("WebSocket connection closed")
	}()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				h.logger.Debug("Failed to write event", zap.Error(err))
				return
			}
		}
	}
}
