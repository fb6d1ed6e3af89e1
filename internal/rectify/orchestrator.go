// Package rectify finalizes a completed questionnaire session: it submits
// the accumulated answers to the engine for rectification exactly once per
// session, and on engine failure synthesizes a clearly flagged demo result
// so the flow stays demonstrable.
package rectify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/engine"
	"github.com/birth-rectifier/backend/internal/errs"
	"github.com/birth-rectifier/backend/internal/events"
	"github.com/birth-rectifier/backend/internal/metrics"
	"github.com/birth-rectifier/backend/internal/runtime"
	"github.com/birth-rectifier/backend/internal/storage/models"
	"github.com/birth-rectifier/backend/pkg/logger"
)

const finalizeLockTTL = 2 * time.Minute

type Store interface {
	GetSession(id string) (*models.Session, error)
	SaveSession(s *models.Session) error
	GetResult(sessionID string) (*models.RectificationResult, error)
	SaveResult(r *models.RectificationResult) error
	InsertEvaluation(e *models.ResultEvaluation) error
}

// Locker arbitrates finalize races across callers. Optional; nil falls back
// to the persisted-result check alone.
type Locker interface {
	AcquireFinalize(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseFinalize(ctx context.Context, sessionID string) error
}

type Rectifier interface {
	Rectify(ctx context.Context, req engine.RectifyRequest) (*engine.RectifyResult, error)
}

// Interpreter enriches chart data with readable interpretations. Optional.
type Interpreter interface {
	Interpret(ctx context.Context, chart models.ChartData) ([]models.Interpretation, error)
}

type Orchestrator struct {
	store     Store
	locker    Locker
	rectifier Rectifier
	interp    Interpreter
	env       *runtime.Environment
	bus       *events.Bus

	// windowMin bounds the birth-time search handed to the engine, centered
	// on the approximate time.
	windowMin int
	// shiftMin is the fixed offset applied to the approximate time when a
	// result has to be synthesized locally.
	shiftMin int
}

func NewOrchestrator(store Store, locker Locker, rectifier Rectifier, interp Interpreter, env *runtime.Environment, bus *events.Bus, windowMin, shiftMin int) *Orchestrator {
	if windowMin <= 0 {
		windowMin = 120
	}
	if shiftMin <= 0 {
		shiftMin = 23
	}
	return &Orchestrator{
		store:     store,
		locker:    locker,
		rectifier: rectifier,
		interp:    interp,
		env:       env,
		bus:       bus,
		windowMin: windowMin,
		shiftMin:  shiftMin,
	}
}

// Finalize is idempotent: a repeat call for the same session returns the
// persisted result without touching the engine again.
func (o *Orchestrator) Finalize(ctx context.Context, sessionID string) (*models.RectificationResult, error) {
	existing, err := o.store.GetResult(sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	session, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errs.ErrSessionNotFound
	}
	if session.State != models.StateComplete {
		return nil, errs.State("finalize", sessionID, string(session.State))
	}

	if o.locker != nil {
		acquired, err := o.locker.AcquireFinalize(ctx, sessionID, finalizeLockTTL)
		if err != nil {
			logger.Warn("Finalize lock unavailable, relying on persisted-result check",
				zap.String("session_id", sessionID), zap.Error(err))
		} else if !acquired {
			// Another caller is finalizing. If its result already landed,
			// return it; otherwise tell this caller to retry.
			if racing, err := o.store.GetResult(sessionID); err == nil && racing != nil {
				return racing, nil
			}
			return nil, errs.State("finalize", sessionID, "finalizing")
		} else {
			defer o.locker.ReleaseFinalize(ctx, sessionID)
		}
	}

	result := o.computeResult(ctx, session)
	result.SessionID = sessionID
	result.CreatedAt = o.env.Now()

	if err := o.store.SaveResult(result); err != nil {
		return nil, err
	}

	session.State = models.StateTerminal
	session.UpdatedAt = o.env.Now()
	if err := o.store.SaveSession(session); err != nil {
		logger.Warn("Failed to mark session terminal", zap.String("session_id", sessionID), zap.Error(err))
	}

	o.evaluate(session, result)
	metrics.RectificationsTotal.WithLabelValues(string(result.Source)).Inc()

	if o.bus != nil {
		o.bus.Publish(events.Event{
			SessionID:  sessionID,
			Type:       events.TypeFinalized,
			State:      session.State,
			Confidence: result.ConfidenceScore,
			At:         result.CreatedAt,
		})
	}

	return result, nil
}

func (o *Orchestrator) computeResult(ctx context.Context, session *models.Session) *models.RectificationResult {
	if o.env.DemoMode {
		logger.Info("Demo mode: synthesizing rectification result",
			zap.String("session_id", session.ID))
		return o.synthesize(session)
	}

	answers := make([]engine.Answer, 0, len(session.History))
	for _, h := range session.History {
		answers = append(answers, engine.Answer{
			QuestionID: h.Question.ID,
			Answer:     h.Answer,
		})
	}

	req := engine.RectifyRequest{
		ChartID:        session.ChartID,
		Answers:        answers,
		BirthTimeRange: o.timeRange(session.Details.ApproximateTime),
	}

	res, err := o.rectifier.Rectify(ctx, req)
	if err != nil {
		logger.Warn("Engine rectification failed, synthesizing demo result",
			zap.String("session_id", session.ID), zap.Error(err))
		return o.synthesize(session)
	}

	result := &models.RectificationResult{
		RectifiedBirthTime: res.RectifiedTime,
		ConfidenceScore:    res.Confidence,
		Chart:              res.Chart,
		Interpretations:    res.Interpretations,
		Source:             models.SourceEngine,
	}

	if len(result.Interpretations) == 0 && o.interp != nil {
		interps, err := o.interp.Interpret(ctx, result.Chart)
		if err != nil {
			logger.Warn("Interpretation enrichment failed",
				zap.String("session_id", session.ID), zap.Error(err))
		} else {
			result.Interpretations = interps
		}
	}

	return result
}

// synthesize builds a stand-in result by shifting the approximate time by a
// fixed offset. Source is always flagged so it can never pass for a genuine
// rectification.
func (o *Orchestrator) synthesize(session *models.Session) *models.RectificationResult {
	base := session.Details.ApproximateTime
	if base == "" {
		base = "12:00"
	}

	t, err := time.Parse("15:04", base)
	if err != nil {
		t, _ = time.Parse("15:04", "12:00")
	}
	shifted := t.Add(time.Duration(o.shiftMin) * time.Minute)

	return &models.RectificationResult{
		RectifiedBirthTime: shifted.Format("15:04"),
		ConfidenceScore:    session.Confidence,
		Source:             models.SourceSynthesized,
	}
}

func (o *Orchestrator) timeRange(approx string) *engine.TimeRange {
	if approx == "" {
		return nil
	}
	t, err := time.Parse("15:04", approx)
	if err != nil {
		return nil
	}

	half := time.Duration(o.windowMin/2) * time.Minute
	return &engine.TimeRange{
		Start: t.Add(-half).Format("15:04"),
		End:   t.Add(half).Format("15:04"),
	}
}

// evaluate records a post-hoc sanity row: how far the rectified time moved
// from the approximate time and which confidence band it landed in.
func (o *Orchestrator) evaluate(session *models.Session, result *models.RectificationResult) {
	eval := &models.ResultEvaluation{
		SessionID:    session.ID,
		DeltaMinutes: deltaMinutes(session.Details.ApproximateTime, result.RectifiedBirthTime),
		Band:         confidenceBand(result.ConfidenceScore),
		Synthesized:  result.Source == models.SourceSynthesized,
	}

	if err := o.store.InsertEvaluation(eval); err != nil {
		logger.Warn("Failed to record result evaluation",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

func deltaMinutes(approx, rectified string) int {
	a, errA := time.Parse("15:04", approx)
	r, errR := time.Parse("15:04", rectified)
	if errA != nil || errR != nil {
		return 0
	}

	delta := int(r.Sub(a).Minutes())
	if delta < 0 {
		delta = -delta
	}
	// Times wrap at midnight; take the shorter way around.
	if delta > 720 {
		delta = 1440 - delta
	}
	return delta
}

func confidenceBand(score float64) string {
	switch {
	case score >= 90:
		return "very_high"
	case score >= 70:
		return "high"
	case score >= 40:
		return "moderate"
	default:
		return "low"
	}
}
