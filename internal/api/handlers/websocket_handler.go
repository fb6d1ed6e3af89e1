package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/events"
	"github.com/birth-rectifier/backend/pkg/logger"
)

// WebSocketHandler streams session state transitions and confidence updates
// to a connected client as they happen.
type WebSocketHandler struct {
	sessions SessionService
	bus      *events.Bus
}

func NewWebSocketHandler(sessions SessionService, bus *events.Bus) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		bus:      bus,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	sessionID := c.Params("id")
	logger.Info("WebSocket connection established", zap.String("session_id", sessionID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("session_id", sessionID))
	}()

	session, err := h.sessions.Get(context.Background(), sessionID)
	if err != nil {
		h.sendError(c, "session not found")
		return
	}

	snapshot := map[string]interface{}{
		"type":       "snapshot",
		"session_id": session.ID,
		"state":      session.State,
		"confidence": session.Confidence,
	}
	if err := c.WriteJSON(snapshot); err != nil {
		return
	}

	eventCh, cancel := h.bus.Subscribe(sessionID)
	defer cancel()

	// The read loop exists only to notice the peer going away.
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
		case evt := <-eventCh:
			if err := c.WriteJSON(evt); err != nil {
				logger.Debug("Failed to write session event", zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
