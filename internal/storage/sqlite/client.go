package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/storage/models"
	"github.com/birth-rectifier/backend/pkg/logger"
)

// Client is the session storage adapter. Reads return (nil, nil) both when a
// row is absent and when a stored JSON column no longer unmarshals: corrupted
// local state is treated as absence so the flow can restart instead of
// hard-failing.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		chart_id TEXT,
		questionnaire_id TEXT,
		details TEXT NOT NULL,
		current_question TEXT,
		history TEXT NOT NULL,
		responses TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS rectification_results (
		session_id TEXT PRIMARY KEY,
		rectified_time TEXT NOT NULL,
		confidence REAL NOT NULL,
		chart TEXT NOT NULL,
		interpretations TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS geocode_cache (
		place TEXT PRIMARY KEY,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		timezone TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS result_evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		delta_minutes INTEGER NOT NULL,
		band TEXT NOT NULL,
		synthesized INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_session ON result_evaluations(session_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) SaveSession(s *models.Session) error {
	detailsJSON, err := json.Marshal(s.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal birth details: %w", err)
	}
	historyJSON, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	responsesJSON, err := json.Marshal(s.Responses)
	if err != nil {
		return fmt.Errorf("failed to marshal responses: %w", err)
	}

	var questionJSON sql.NullString
	if s.CurrentQuestion != nil {
		b, err := json.Marshal(s.CurrentQuestion)
		if err != nil {
			return fmt.Errorf("failed to marshal current question: %w", err)
		}
		questionJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO sessions (id, state, confidence, chart_id, questionnaire_id,
			details, current_question, history, responses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			confidence = excluded.confidence,
			chart_id = excluded.chart_id,
			questionnaire_id = excluded.questionnaire_id,
			current_question = excluded.current_question,
			history = excluded.history,
			responses = excluded.responses,
			updated_at = excluded.updated_at
	`

	_, err = c.db.Exec(
		query,
		s.ID,
		string(s.State),
		s.Confidence,
		s.ChartID,
		s.QuestionnaireID,
		string(detailsJSON),
		questionJSON,
		string(historyJSON),
		string(responsesJSON),
		s.CreatedAt.Unix(),
		s.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	logger.Debug("Session saved",
		zap.String("session_id", s.ID),
		zap.String("state", string(s.State)),
		zap.Float64("confidence", s.Confidence),
	)
	return nil
}

func (c *Client) GetSession(id string) (*models.Session, error) {
	query := `
		SELECT id, state, confidence, chart_id, questionnaire_id,
			details, current_question, history, responses, created_at, updated_at
		FROM sessions WHERE id = ?
	`

	var (
		s                       models.Session
		state                   string
		detailsJSON             string
		questionJSON            sql.NullString
		historyJSON             string
		responsesJSON           string
		chartID, questionnaireID sql.NullString
		createdAt, updatedAt    int64
	)

	err := c.db.QueryRow(query, id).Scan(
		&s.ID,
		&state,
		&s.Confidence,
		&chartID,
		&questionnaireID,
		&detailsJSON,
		&questionJSON,
		&historyJSON,
		&responsesJSON,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.State = models.SessionState(state)
	s.ChartID = chartID.String
	s.QuestionnaireID = questionnaireID.String
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if err := json.Unmarshal([]byte(detailsJSON), &s.Details); err != nil {
		logger.Warn("Discarding session with unparsable birth details",
			zap.String("session_id", id), zap.Error(err))
		return nil, nil
	}
	if err := json.Unmarshal([]byte(historyJSON), &s.History); err != nil {
		logger.Warn("Discarding session with unparsable history",
			zap.String("session_id", id), zap.Error(err))
		return nil, nil
	}
	if err := json.Unmarshal([]byte(responsesJSON), &s.Responses); err != nil {
		logger.Warn("Discarding session with unparsable responses",
			zap.String("session_id", id), zap.Error(err))
		return nil, nil
	}
	if questionJSON.Valid {
		var q models.Question
		if err := json.Unmarshal([]byte(questionJSON.String), &q); err != nil {
			logger.Warn("Discarding session with unparsable current question",
				zap.String("session_id", id), zap.Error(err))
			return nil, nil
		}
		s.CurrentQuestion = &q
	}

	return &s, nil
}

func (c *Client) DeleteSession(id string) error {
	_, err := c.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (c *Client) SaveResult(r *models.RectificationResult) error {
	chartJSON, err := json.Marshal(r.Chart)
	if err != nil {
		return fmt.Errorf("failed to marshal chart: %w", err)
	}
	interpJSON, err := json.Marshal(r.Interpretations)
	if err != nil {
		return fmt.Errorf("failed to marshal interpretations: %w", err)
	}

	query := `
		INSERT INTO rectification_results (session_id, rectified_time, confidence,
			chart, interpretations, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`

	_, err = c.db.Exec(
		query,
		r.SessionID,
		r.RectifiedBirthTime,
		r.ConfidenceScore,
		string(chartJSON),
		string(interpJSON),
		string(r.Source),
		r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	logger.Info("Rectification result saved",
		zap.String("session_id", r.SessionID),
		zap.String("rectified_time", r.RectifiedBirthTime),
		zap.String("source", string(r.Source)),
	)
	return nil
}

func (c *Client) GetResult(sessionID string) (*models.RectificationResult, error) {
	query := `
		SELECT session_id, rectified_time, confidence, chart, interpretations, source, created_at
		FROM rectification_results WHERE session_id = ?
	`

	var (
		r                     models.RectificationResult
		chartJSON, interpJSON string
		source                string
		createdAt             int64
	)

	err := c.db.QueryRow(query, sessionID).Scan(
		&r.SessionID,
		&r.RectifiedBirthTime,
		&r.ConfidenceScore,
		&chartJSON,
		&interpJSON,
		&source,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	r.Source = models.ResultSource(source)
	r.CreatedAt = time.Unix(createdAt, 0).UTC()

	if err := json.Unmarshal([]byte(chartJSON), &r.Chart); err != nil {
		logger.Warn("Discarding result with unparsable chart",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}
	if err := json.Unmarshal([]byte(interpJSON), &r.Interpretations); err != nil {
		logger.Warn("Discarding result with unparsable interpretations",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}

	return &r, nil
}

func (c *Client) SaveGeocode(loc *models.Location) error {
	query := `
		INSERT INTO geocode_cache (place, latitude, longitude, timezone, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(place) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			timezone = excluded.timezone,
			source = excluded.source,
			created_at = excluded.created_at
	`

	_, err := c.db.Exec(query, loc.Place, loc.Latitude, loc.Longitude, loc.Timezone, string(loc.Source), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save geocode entry: %w", err)
	}
	return nil
}

func (c *Client) GetGeocode(place string) (*models.Location, error) {
	query := `SELECT place, latitude, longitude, timezone, source FROM geocode_cache WHERE place = ?`

	var loc models.Location
	var source string

	err := c.db.QueryRow(query, place).Scan(&loc.Place, &loc.Latitude, &loc.Longitude, &loc.Timezone, &source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geocode entry: %w", err)
	}

	loc.Source = models.LocationSource(source)
	return &loc, nil
}

func (c *Client) InsertEvaluation(e *models.ResultEvaluation) error {
	query := `
		INSERT INTO result_evaluations (session_id, delta_minutes, band, synthesized, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	synthesized := 0
	if e.Synthesized {
		synthesized = 1
	}

	_, err := c.db.Exec(query, e.SessionID, e.DeltaMinutes, e.Band, synthesized, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

func (c *Client) GetEvaluations(sessionID string) ([]models.ResultEvaluation, error) {
	query := `
		SELECT id, session_id, delta_minutes, band, synthesized, created_at
		FROM result_evaluations WHERE session_id = ? ORDER BY id
	`

	rows, err := c.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluations: %w", err)
	}
	defer rows.Close()

	var evals []models.ResultEvaluation
	for rows.Next() {
		var e models.ResultEvaluation
		var synthesized int
		var createdAt int64

		err := rows.Scan(&e.ID, &e.SessionID, &e.DeltaMinutes, &e.Band, &synthesized, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.Synthesized = synthesized != 0
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		evals = append(evals, e)
	}

	return evals, rows.Err()
}
