package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/errs"
	"github.com/birth-rectifier/backend/internal/questionnaire"
	"github.com/birth-rectifier/backend/internal/storage/models"
	"github.com/birth-rectifier/backend/pkg/circuitbreaker"
	"github.com/birth-rectifier/backend/pkg/logger"
)

type SessionService interface {
	Initialize(ctx context.Context, details models.BirthDetails) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	SubmitAnswer(ctx context.Context, sessionID, questionID, answer string) (*questionnaire.SubmitOutcome, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, sessionID string) (*models.RectificationResult, error)
}

type ResultStore interface {
	GetResult(sessionID string) (*models.RectificationResult, error)
}

type SessionHandler struct {
	sessions  SessionService
	finalizer Finalizer
	results   ResultStore
}

func NewSessionHandler(sessions SessionService, finalizer Finalizer, results ResultStore) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		finalizer: finalizer,
		results:   results,
	}
}

func (h *SessionHandler) StartSession(c *fiber.Ctx) error {
	var details models.BirthDetails
	if err := c.BodyParser(&details); err != nil {
		logger.Error("Failed to parse birth details", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	session, err := h.sessions.Initialize(c.Context(), details)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(sessionView(session))
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.sessions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(sessionView(session))
}

func (h *SessionHandler) SubmitAnswer(c *fiber.Ctx) error {
	var req struct {
		QuestionID string `json:"question_id"`
		Answer     string `json:"answer"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	outcome, err := h.sessions.SubmitAnswer(c.Context(), c.Params("id"), req.QuestionID, req.Answer)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id":    outcome.Session.ID,
		"state":         outcome.Session.State,
		"next_question": outcome.NextQuestion,
		"confidence":    outcome.Confidence,
		"complete":      outcome.Complete,
	})
}

func (h *SessionHandler) FinalizeSession(c *fiber.Ctx) error {
	result, err := h.finalizer.Finalize(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(result)
}

func (h *SessionHandler) GetResult(c *fiber.Ctx) error {
	result, err := h.results.GetResult(c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if result == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no rectification result for this session",
		})
	}

	return c.JSON(result)
}

func sessionView(s *models.Session) fiber.Map {
	return fiber.Map{
		"id":               s.ID,
		"state":            s.State,
		"confidence":       s.Confidence,
		"details":          s.Details,
		"current_question": s.CurrentQuestion,
		"answered":         len(s.History),
		"created_at":       s.CreatedAt,
		"updated_at":       s.UpdatedAt,
	}
}

// writeError maps the error taxonomy to HTTP statuses: validation problems
// are the caller's to fix, state conflicts mean retry-or-restart, network
// and engine failures are retryable upstream trouble.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errs.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found, start over from birth details",
		})
	case errs.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errs.IsState(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":     "rectification engine temporarily unavailable",
			"retryable": true,
		})
	case errs.IsNetwork(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     "could not reach the rectification engine",
			"retryable": true,
		})
	case errs.IsServer(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     err.Error(),
			"retryable": true,
		})
	default:
		logger.Error("Unhandled error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}
}
