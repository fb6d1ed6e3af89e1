package rectify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/birth-rectifier/backend/internal/engine"
	"github.com/birth-rectifier/backend/internal/errs"
	"github.com/birth-rectifier/backend/internal/runtime"
	"github.com/birth-rectifier/backend/internal/storage/models"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	results  map[string]*models.RectificationResult
	evals    []models.ResultEvaluation
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*models.Session),
		results:  make(map[string]*models.RectificationResult),
	}
}

func (m *memStore) GetSession(id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) SaveSession(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) GetResult(sessionID string) (*models.RectificationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// SaveResult keeps the first write, matching the durable store's
// insert-or-ignore behavior.
func (m *memStore) SaveResult(r *models.RectificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.results[r.SessionID]; exists {
		return nil
	}
	cp := *r
	m.results[r.SessionID] = &cp
	return nil
}

func (m *memStore) InsertEvaluation(e *models.ResultEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evals = append(m.evals, *e)
	return nil
}

type fakeRectifier struct {
	mu    sync.Mutex
	calls int
	fn    func(engine.RectifyRequest) (*engine.RectifyResult, error)
}

func (f *fakeRectifier) Rectify(_ context.Context, req engine.RectifyRequest) (*engine.RectifyResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return &engine.RectifyResult{RectifiedTime: "12:40", Confidence: 93}, nil
}

func completeSession() *models.Session {
	return &models.Session{
		ID: "sess-1",
		Details: models.BirthDetails{
			Name:            "Test User",
			Gender:          models.GenderFemale,
			BirthDate:       "1990-01-01",
			ApproximateTime: "12:00",
			BirthLocation:   "Pune, India",
			Timezone:        "Asia/Kolkata",
		},
		State:           models.StateComplete,
		Confidence:      91,
		ChartID:         "chart-1",
		QuestionnaireID: "qn-1",
		History: []models.AnsweredQuestion{
			{Question: models.Question{ID: "q1", Type: models.QuestionYesNo, Text: "First?"}, Answer: "yes", AnsweredAt: fixedNow},
			{Question: models.Question{ID: "q2", Type: models.QuestionYesNo, Text: "Second?"}, Answer: "no", AnsweredAt: fixedNow},
		},
		Responses: map[string]string{"q1": "yes", "q2": "no"},
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
}

func newTestOrchestrator(store *memStore, rec *fakeRectifier, env *runtime.Environment) *Orchestrator {
	if env == nil {
		env = runtime.Fixed(fixedNow)
	}
	return NewOrchestrator(store, nil, rec, nil, env, nil, 120, 23)
}

func TestFinalizeProducesEngineResult(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveSession(completeSession()))

	var captured engine.RectifyRequest
	rec := &fakeRectifier{fn: func(req engine.RectifyRequest) (*engine.RectifyResult, error) {
		captured = req
		return &engine.RectifyResult{RectifiedTime: "12:40", Confidence: 93}, nil
	}}
	o := newTestOrchestrator(store, rec, nil)

	result, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "12:40", result.RectifiedBirthTime)
	require.Equal(t, 93.0, result.ConfidenceScore)
	require.Equal(t, models.SourceEngine, result.Source)

	require.Equal(t, "chart-1", captured.ChartID)
	require.Len(t, captured.Answers, 2)
	require.Equal(t, "q1", captured.Answers[0].QuestionID)
	require.Equal(t, "q2", captured.Answers[1].QuestionID)
	require.NotNil(t, captured.BirthTimeRange)
	require.Equal(t, "11:00", captured.BirthTimeRange.Start)
	require.Equal(t, "13:00", captured.BirthTimeRange.End)

	session, err := store.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, models.StateTerminal, session.State)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveSession(completeSession()))

	rec := &fakeRectifier{}
	o := newTestOrchestrator(store, rec, nil)

	first, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)

	second, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, rec.calls)
}

func TestFinalizeSynthesizesOnEngineFailure(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveSession(completeSession()))

	rec := &fakeRectifier{fn: func(engine.RectifyRequest) (*engine.RectifyResult, error) {
		return nil, errs.Network("POST /api/chart/rectify", errors.New("connection refused"))
	}}
	o := newTestOrchestrator(store, rec, nil)

	result, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, models.SourceSynthesized, result.Source)
	require.Equal(t, "12:23", result.RectifiedBirthTime)
	require.Equal(t, 91.0, result.ConfidenceScore)
}

func TestFinalizeSynthesizesWithoutApproximateTime(t *testing.T) {
	store := newMemStore()
	s := completeSession()
	s.Details.ApproximateTime = ""
	require.NoError(t, store.SaveSession(s))

	rec := &fakeRectifier{fn: func(engine.RectifyRequest) (*engine.RectifyResult, error) {
		return nil, errors.New("down")
	}}
	o := newTestOrchestrator(store, rec, nil)

	result, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "12:23", result.RectifiedBirthTime)
}

func TestFinalizeDemoModeSkipsEngine(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveSession(completeSession()))

	env := runtime.Fixed(fixedNow)
	env.DemoMode = true

	rec := &fakeRectifier{}
	o := newTestOrchestrator(store, rec, env)

	result, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, models.SourceSynthesized, result.Source)
	require.Zero(t, rec.calls)
}

func TestFinalizeRejectsIncompleteSession(t *testing.T) {
	store := newMemStore()
	s := completeSession()
	s.State = models.StateAwaitingAnswer
	require.NoError(t, store.SaveSession(s))

	o := newTestOrchestrator(store, &fakeRectifier{}, nil)

	_, err := o.Finalize(context.Background(), "sess-1")
	require.Error(t, err)
	require.True(t, errs.IsState(err))
}

func TestFinalizeUnknownSession(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &fakeRectifier{}, nil)

	_, err := o.Finalize(context.Background(), "no-such")
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestFinalizeRecordsEvaluation(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveSession(completeSession()))

	o := newTestOrchestrator(store, &fakeRectifier{}, nil)

	_, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, store.evals, 1)
	require.Equal(t, 40, store.evals[0].DeltaMinutes)
	require.Equal(t, "very_high", store.evals[0].Band)
	require.False(t, store.evals[0].Synthesized)
}

type fakeLocker struct {
	acquired bool
	held     bool
}

func (f *fakeLocker) AcquireFinalize(context.Context, string, time.Duration) (bool, error) {
	if f.held {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLocker) ReleaseFinalize(context.Context, string) error {
	f.acquired = false
	return nil
}

func TestFinalizeLockHeldByAnotherCaller(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveSession(completeSession()))

	locker := &fakeLocker{held: true}
	o := NewOrchestrator(store, locker, &fakeRectifier{}, nil, runtime.Fixed(fixedNow), nil, 120, 23)

	_, err := o.Finalize(context.Background(), "sess-1")
	require.Error(t, err)
	require.True(t, errs.IsState(err))

	// Once the racing caller's result lands, the blocked caller gets it.
	require.NoError(t, store.SaveResult(&models.RectificationResult{
		SessionID:          "sess-1",
		RectifiedBirthTime: "12:40",
		ConfidenceScore:    93,
		Source:             models.SourceEngine,
		CreatedAt:          fixedNow,
	}))

	result, err := o.Finalize(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "12:40", result.RectifiedBirthTime)
}

func TestDeltaMinutesWrapsAtMidnight(t *testing.T) {
	require.Equal(t, 30, deltaMinutes("23:50", "00:20"))
	require.Equal(t, 40, deltaMinutes("12:00", "12:40"))
	require.Equal(t, 0, deltaMinutes("", "12:40"))
}

func TestConfidenceBands(t *testing.T) {
	require.Equal(t, "very_high", confidenceBand(90))
	require.Equal(t, "high", confidenceBand(89.9))
	require.Equal(t, "moderate", confidenceBand(40))
	require.Equal(t, "low", confidenceBand(39.9))
}
