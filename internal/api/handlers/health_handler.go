package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/birth-rectifier/backend/internal/engine"
)

type EngineProbe interface {
	Health(ctx context.Context) (*engine.HealthStatus, error)
}

// HealthHandler reports service liveness plus the reachability of the
// astrology engine. The endpoint stays 200 when the engine is down: the
// service itself keeps serving cached sessions and synthesized results.
type HealthHandler struct {
	engine EngineProbe
}

func NewHealthHandler(engine EngineProbe) *HealthHandler {
	return &HealthHandler{engine: engine}
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	status := "healthy"
	engineStatus := "unreachable"

	if s, err := h.engine.Health(c.Context()); err == nil {
		engineStatus = s.Status
	} else {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "birth-rectifier",
		"engine":    engineStatus,
	})
}
