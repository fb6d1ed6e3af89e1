// Package questionnaire drives the birth-time rectification questionnaire:
// it validates birth details, opens a chart and questionnaire with the
// engine, and exchanges answers for follow-up questions and an updated
// confidence score until the analysis completes.
package questionnaire

import (
	"context"
	"sort"
	"sync"
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

const sessionCacheTTL = 30 * time.Minute

// Store is the durable session store.
type Store interface {
	SaveSession(s *models.Session) error
	GetSession(id string) (*models.Session, error)
}

// Cache is the optional hot-session cache; a nil Cache is skipped.
type Cache interface {
	SetSession(ctx context.Context, s *models.Session, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

// Engine is the subset of the astrology engine the questionnaire flow needs.
type Engine interface {
	ValidateBirthDetails(ctx context.Context, details models.BirthDetails) (*engine.ValidationResult, error)
	GenerateChart(ctx context.Context, req engine.ChartRequest) (*engine.Chart, error)
	GenerateQuestionnaire(ctx context.Context, chartID string) (*engine.Questionnaire, error)
	SubmitAnswers(ctx context.Context, questionnaireID string, answers []engine.Answer) (*engine.SubmitResult, error)
}

type Geocoder interface {
	Resolve(ctx context.Context, place string) (*models.Location, error)
}

type Service struct {
	store    Store
	cache    Cache
	engine   Engine
	geocoder Geocoder
	env      *runtime.Environment
	bus      *events.Bus

	// threshold is the confidence at which the questionnaire completes even
	// without an explicit analysis_complete flag. Both conditions stay
	// independent safety nets against engine/client drift; never collapse
	// them into one.
	threshold float64

	mu       sync.Mutex
	inflight map[string]struct{}
}

type SubmitOutcome struct {
	Session      *models.Session
	NextQuestion *models.Question
	Confidence   float64
	Complete     bool
}

func NewService(store Store, cache Cache, eng Engine, geocoder Geocoder, env *runtime.Environment, bus *events.Bus, threshold float64) *Service {
	if threshold <= 0 {
		threshold = 90
	}
	return &Service{
		store:     store,
		cache:     cache,
		engine:    eng,
		geocoder:  geocoder,
		env:       env,
		bus:       bus,
		threshold: threshold,
		inflight:  make(map[string]struct{}),
	}
}

// ValidateDetails rejects incomplete birth details before any network call.
func ValidateDetails(d *models.BirthDetails) error {
	if d.BirthDate == "" {
		return errs.Validation("birth_date", "birth date is required")
	}
	if _, err := time.Parse("2006-01-02", d.BirthDate); err != nil {
		return errs.Validation("birth_date", "must be an ISO date (YYYY-MM-DD)")
	}
	if d.BirthLocation == "" && (d.Latitude == nil || d.Longitude == nil) {
		return errs.Validation("birth_location", "birth location is required")
	}
	if d.ApproximateTime != "" {
		if _, err := time.Parse("15:04", d.ApproximateTime); err != nil {
			return errs.Validation("approximate_time", "must be HH:MM")
		}
	}
	if d.Gender == "" {
		d.Gender = models.GenderOther
	} else if !d.Gender.Valid() {
		return errs.Validation("gender", "must be one of male, female, non_binary, other")
	}
	return nil
}

// Initialize starts a new session from birth details: geocode if needed,
// generate the chart, fetch the first question. Nothing is persisted until
// the engine calls succeed, so a failed initialization leaves no session
// behind and the same details can simply be resubmitted.
func (s *Service) Initialize(ctx context.Context, details models.BirthDetails) (*models.Session, error) {
	if err := ValidateDetails(&details); err != nil {
		return nil, err
	}

	if details.Latitude == nil || details.Longitude == nil {
		loc, err := s.geocoder.Resolve(ctx, details.BirthLocation)
		if err != nil {
			return nil, err
		}
		details.Latitude = &loc.Latitude
		details.Longitude = &loc.Longitude
		if details.Timezone == "" {
			details.Timezone = loc.Timezone
		}
	}
	if details.Timezone == "" {
		details.Timezone = "UTC"
	}

	// The engine applies its own ephemeris-level checks (date range,
	// coordinate sanity) beyond the local field validation.
	verdict, err := s.engine.ValidateBirthDetails(ctx, details)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid {
		return nil, validationErrorFrom(verdict)
	}

	birthTime := details.ApproximateTime
	if birthTime == "" {
		birthTime = "12:00"
	}

	chart, err := s.engine.GenerateChart(ctx, engine.ChartRequest{
		BirthDate: details.BirthDate,
		BirthTime: birthTime,
		Latitude:  *details.Latitude,
		Longitude: *details.Longitude,
		Timezone:  details.Timezone,
	})
	if err != nil {
		return nil, err
	}

	questionnaire, err := s.engine.GenerateQuestionnaire(ctx, chart.ChartID)
	if err != nil {
		return nil, err
	}

	now := s.env.Now()
	session := &models.Session{
		ID:              s.env.NewID(),
		Details:         details,
		State:           models.StateAwaitingAnswer,
		Confidence:      questionnaire.Confidence,
		ChartID:         chart.ChartID,
		QuestionnaireID: questionnaire.QuestionnaireID,
		History:         []models.AnsweredQuestion{},
		Responses:       map[string]string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if len(questionnaire.Questions) > 0 {
		q := questionnaire.Questions[0]
		session.CurrentQuestion = &q
	} else {
		// Nothing to ask: the engine already has enough to rectify.
		session.State = models.StateComplete
	}

	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}

	metrics.SessionsStarted.Inc()
	s.publish(session, events.TypeStateChanged)

	logger.Info("Session initialized",
		zap.String("session_id", session.ID),
		zap.String("chart_id", session.ChartID),
		zap.Float64("confidence", session.Confidence),
	)
	return session, nil
}

// Get returns the session, preferring the hot cache.
func (s *Service) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetSession(ctx, sessionID); err == nil && cached != nil {
			return cached, nil
		}
	}

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errs.ErrSessionNotFound
	}
	return session, nil
}

// SubmitAnswer applies one answer to the session. A failed engine call
// leaves the persisted session untouched so the same answer can be
// resubmitted; a second submission while one is in flight is rejected.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, questionID, answer string) (*SubmitOutcome, error) {
	if !s.begin(sessionID) {
		return nil, errs.State("submit answer", sessionID, string(models.StateSubmitting))
	}
	defer s.end(sessionID)

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.State != models.StateAwaitingAnswer {
		return nil, errs.State("submit answer", sessionID, string(session.State))
	}
	if session.CurrentQuestion == nil {
		return nil, errs.State("submit answer", sessionID, string(session.State))
	}
	if questionID != session.CurrentQuestion.ID {
		return nil, errs.Validation("question_id", "answer does not match the current question")
	}
	if answer == "" {
		return nil, errs.Validation("answer", "answer is required")
	}

	payload := engine.Answer{QuestionID: questionID, Answer: answer}
	if session.CurrentQuestion.Type == models.QuestionText {
		payload.Keywords = ExtractKeywords(answer)
	}

	result, err := s.engine.SubmitAnswers(ctx, session.QuestionnaireID, []engine.Answer{payload})
	if err != nil {
		metrics.AnswersSubmitted.WithLabelValues("error").Inc()
		return nil, err
	}

	now := s.env.Now()
	session.History = append(session.History, models.AnsweredQuestion{
		Question:   *session.CurrentQuestion,
		Answer:     answer,
		AnsweredAt: now,
	})
	// Older stored sessions can carry a null responses column, which
	// unmarshals to a nil map.
	if session.Responses == nil {
		session.Responses = make(map[string]string)
	}
	session.Responses[questionID] = answer
	session.Confidence = result.Confidence
	session.UpdatedAt = now

	trigger, complete := s.completionTrigger(result)
	if complete {
		session.State = models.StateComplete
		session.CurrentQuestion = nil
	} else {
		session.State = models.StateAwaitingAnswer
		session.CurrentQuestion = result.NextQuestion
	}

	if err := s.persist(ctx, session); err != nil {
		return nil, err
	}

	metrics.AnswersSubmitted.WithLabelValues("ok").Inc()
	metrics.ConfidenceScore.Observe(result.Confidence)
	if complete {
		metrics.SessionsCompleted.WithLabelValues(trigger).Inc()
	}
	s.publish(session, events.TypeAnswerApplied)

	logger.Info("Answer applied",
		zap.String("session_id", sessionID),
		zap.String("question_id", questionID),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("complete", complete),
	)

	return &SubmitOutcome{
		Session:      session,
		NextQuestion: session.CurrentQuestion,
		Confidence:   session.Confidence,
		Complete:     complete,
	}, nil
}

// validationErrorFrom surfaces the first engine-reported field error,
// picking the lowest field name so the message is stable.
func validationErrorFrom(verdict *engine.ValidationResult) error {
	fields := make([]string, 0, len(verdict.Errors))
	for field := range verdict.Errors {
		fields = append(fields, field)
	}
	if len(fields) == 0 {
		return errs.Validation("", "birth details rejected by the engine")
	}
	sort.Strings(fields)
	return errs.Validation(fields[0], verdict.Errors[fields[0]])
}

// completionTrigger keeps the flag, the threshold, and questionnaire
// exhaustion as separate checks and reports which one fired.
func (s *Service) completionTrigger(result *engine.SubmitResult) (string, bool) {
	if result.AnalysisComplete {
		return "flag", true
	}
	if result.Confidence >= s.threshold {
		return "threshold", true
	}
	if result.NextQuestion == nil {
		return "exhausted", true
	}
	return "", false
}

func (s *Service) persist(ctx context.Context, session *models.Session) error {
	if err := s.store.SaveSession(session); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.SetSession(ctx, session, sessionCacheTTL); err != nil {
			logger.Warn("Failed to cache session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) publish(session *models.Session, eventType string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		SessionID:  session.ID,
		Type:       eventType,
		State:      session.State,
		Confidence: session.Confidence,
		At:         session.UpdatedAt,
	})
}

func (s *Service) begin(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return false
	}
	s.inflight[sessionID] = struct{}{}
	return true
}

func (s *Service) end(sessionID string) {
	s.mu.Lock()
	delete(s.inflight, sessionID)
	s.mu.Unlock()
}
