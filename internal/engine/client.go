// Package engine is the HTTP client for the external astrology engine that
// owns the actual rectification math: chart generation, questionnaire
// generation and scoring, final rectification, and geocoding.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/errs"
	"github.com/birth-rectifier/backend/internal/metrics"
	"github.com/birth-rectifier/backend/internal/storage/models"
	"github.com/birth-rectifier/backend/pkg/circuitbreaker"
	"github.com/birth-rectifier/backend/pkg/logger"
	"github.com/birth-rectifier/backend/pkg/retry"
)

type Client struct {
	baseURL     string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	timeout     time.Duration
}

type ChartRequest struct {
	BirthDate string                 `json:"birth_date"`
	BirthTime string                 `json:"birth_time"`
	Latitude  float64                `json:"latitude"`
	Longitude float64                `json:"longitude"`
	Timezone  string                 `json:"timezone"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type Chart struct {
	ChartID   string                  `json:"chart_id"`
	Ascendant models.Ascendant        `json:"ascendant"`
	Planets   []models.PlanetPosition `json:"planets"`
	Houses    []models.HouseCusp      `json:"houses"`
}

type Questionnaire struct {
	QuestionnaireID string            `json:"questionnaire_id"`
	Questions       []models.Question `json:"questions"`
	Confidence      float64           `json:"confidence"`
}

type Answer struct {
	QuestionID string   `json:"question_id"`
	Answer     string   `json:"answer"`
	Keywords   []string `json:"keywords,omitempty"`
}

type SubmitResult struct {
	NextQuestion     *models.Question  `json:"next_question"`
	Confidence       float64           `json:"confidence"`
	AnalysisComplete bool              `json:"analysis_complete"`
	Chart            *models.ChartData `json:"chart_data,omitempty"`
}

type TimeRange struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`
}

type RectifyRequest struct {
	ChartID        string     `json:"chart_id"`
	Answers        []Answer   `json:"answers"`
	BirthTimeRange *TimeRange `json:"birth_time_range,omitempty"`
}

type RectifyResult struct {
	RectifiedTime   string                  `json:"rectified_time"`
	Confidence      float64                 `json:"confidence"`
	Chart           models.ChartData        `json:"chart_data"`
	Interpretations []models.Interpretation `json:"interpretations"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors,omitempty"`
}

type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

func NewClient(baseURL string, timeoutSec int) *Client {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cb := circuitbreaker.New("engine", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Engine client initialized", zap.String("base_url", baseURL))

	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		cb:          cb,
		retryConfig: retryConfig,
		timeout:     timeout,
	}
}

func (c *Client) GenerateChart(ctx context.Context, req ChartRequest) (*Chart, error) {
	var chart Chart
	if err := c.post(ctx, "/api/chart/generate", req, &chart); err != nil {
		return nil, err
	}

	logger.Info("Chart generated", zap.String("chart_id", chart.ChartID))
	return &chart, nil
}

func (c *Client) GenerateQuestionnaire(ctx context.Context, chartID string) (*Questionnaire, error) {
	body := map[string]string{"chart_id": chartID}

	var q Questionnaire
	if err := c.post(ctx, "/api/questionnaire/generate", body, &q); err != nil {
		return nil, err
	}

	logger.Info("Questionnaire generated",
		zap.String("questionnaire_id", q.QuestionnaireID),
		zap.Int("questions", len(q.Questions)),
	)
	return &q, nil
}

func (c *Client) SubmitAnswers(ctx context.Context, questionnaireID string, answers []Answer) (*SubmitResult, error) {
	body := struct {
		QuestionnaireID string   `json:"questionnaire_id"`
		Answers         []Answer `json:"answers"`
	}{QuestionnaireID: questionnaireID, Answers: answers}

	var result SubmitResult
	if err := c.post(ctx, "/api/questionnaire/submit", body, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) Rectify(ctx context.Context, req RectifyRequest) (*RectifyResult, error) {
	var result RectifyResult
	if err := c.post(ctx, "/api/chart/rectify", req, &result); err != nil {
		return nil, err
	}

	logger.Info("Rectification computed",
		zap.String("chart_id", req.ChartID),
		zap.String("rectified_time", result.RectifiedTime),
		zap.Float64("confidence", result.Confidence),
	)
	return &result, nil
}

func (c *Client) ValidateBirthDetails(ctx context.Context, details models.BirthDetails) (*ValidationResult, error) {
	var result ValidationResult
	if err := c.post(ctx, "/api/chart/validate", details, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	err := c.get(ctx, "/health", nil, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (*models.Location, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lon))

	var loc models.Location
	err := c.get(ctx, "/api/geocode/reverse", params, &loc)
	if err != nil {
		return nil, err
	}

	loc.Source = models.LocationEngine
	return &loc, nil
}

// post issues a single POST attempt through the circuit breaker. POSTs are
// never auto-retried: a duplicate submission is a server-side side effect,
// and retries are user-initiated.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.cb.Execute(ctx, func() error {
		return c.do(ctx, http.MethodPost, path, nil, body, out)
	})
}

// get issues an idempotent GET with retry inside the circuit breaker.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return c.do(ctx, http.MethodGet, path, params, nil, out)
		})
	})
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	op := method + " " + path

	timer := prometheus.NewTimer(metrics.EngineRequestDuration.WithLabelValues(path))
	defer timer.ObserveDuration()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Network(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Network(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Server(op, resp.StatusCode, extractErrorMessage(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: failed to parse response: %w", op, err)
		}
	}

	return nil
}

func extractErrorMessage(body []byte) string {
	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &structured); err != nil {
		return ""
	}
	if structured.Error != "" {
		return structured.Error
	}
	if structured.Message != "" {
		return structured.Message
	}
	return structured.Detail
}
