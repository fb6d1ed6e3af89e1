package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/birth-rectifier/backend/internal/errs"
	"github.com/birth-rectifier/backend/internal/storage/models"
)

func TestGenerateChart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chart/generate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "1990-01-01", req.BirthDate)
		require.Equal(t, "12:00", req.BirthTime)
		require.Equal(t, "Asia/Kolkata", req.Timezone)

		json.NewEncoder(w).Encode(Chart{
			ChartID:   "chart-1",
			Ascendant: models.Ascendant{Sign: "Leo", Degree: 14.2},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)

	chart, err := c.GenerateChart(context.Background(), ChartRequest{
		BirthDate: "1990-01-01",
		BirthTime: "12:00",
		Latitude:  18.5204,
		Longitude: 73.8567,
		Timezone:  "Asia/Kolkata",
	})
	require.NoError(t, err)
	require.Equal(t, "chart-1", chart.ChartID)
	require.Equal(t, "Leo", chart.Ascendant.Sign)
}

func TestSubmitAnswers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/questionnaire/submit", r.URL.Path)

		var req struct {
			QuestionnaireID string   `json:"questionnaire_id"`
			Answers         []Answer `json:"answers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "qn-1", req.QuestionnaireID)
		require.Len(t, req.Answers, 1)
		require.Equal(t, "q1", req.Answers[0].QuestionID)

		json.NewEncoder(w).Encode(SubmitResult{
			NextQuestion: &models.Question{ID: "q2", Type: models.QuestionYesNo, Text: "Next?"},
			Confidence:   55,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)

	result, err := c.SubmitAnswers(context.Background(), "qn-1", []Answer{{QuestionID: "q1", Answer: "yes"}})
	require.NoError(t, err)
	require.Equal(t, 55.0, result.Confidence)
	require.False(t, result.AnalysisComplete)
	require.Equal(t, "q2", result.NextQuestion.ID)
}

func TestRectify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chart/rectify", r.URL.Path)

		var req RectifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "chart-1", req.ChartID)
		require.NotNil(t, req.BirthTimeRange)

		json.NewEncoder(w).Encode(RectifyResult{RectifiedTime: "12:40", Confidence: 93})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)

	result, err := c.Rectify(context.Background(), RectifyRequest{
		ChartID:        "chart-1",
		Answers:        []Answer{{QuestionID: "q1", Answer: "yes"}},
		BirthTimeRange: &TimeRange{Start: "11:00", End: "13:00"},
	})
	require.NoError(t, err)
	require.Equal(t, "12:40", result.RectifiedTime)
}

func TestValidateBirthDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chart/validate", r.URL.Path)

		var details models.BirthDetails
		require.NoError(t, json.NewDecoder(r.Body).Decode(&details))
		require.Equal(t, "1990-01-01", details.BirthDate)

		json.NewEncoder(w).Encode(ValidationResult{
			Valid:  false,
			Errors: map[string]string{"birth_date": "date predates ephemeris range"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)

	result, err := c.ValidateBirthDetails(context.Background(), models.BirthDetails{
		BirthDate:     "1990-01-01",
		BirthLocation: "Pune, India",
	})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "date predates ephemeris range", result.Errors["birth_date"])
}

func TestReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/geocode/reverse", r.URL.Path)
		require.Equal(t, "18.520400", r.URL.Query().Get("lat"))
		require.Equal(t, "73.856700", r.URL.Query().Get("lon"))

		json.NewEncoder(w).Encode(models.Location{
			Place:     "Pune, India",
			Latitude:  18.5204,
			Longitude: 73.8567,
			Timezone:  "Asia/Kolkata",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)

	loc, err := c.ReverseGeocode(context.Background(), 18.5204, 73.8567)
	require.NoError(t, err)
	require.Equal(t, "Pune, India", loc.Place)
	require.Equal(t, models.LocationEngine, loc.Source)
}

func TestServerErrorCarriesEngineMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "invalid birth date"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)

	_, err := c.GenerateChart(context.Background(), ChartRequest{})
	require.Error(t, err)

	var serr *errs.ServerError
	require.True(t, errors.As(err, &serr))
	require.Equal(t, http.StatusUnprocessableEntity, serr.Status)
	require.Equal(t, "invalid birth date", serr.Message)
}

func TestServerErrorMessageFallsBackThroughFields(t *testing.T) {
	require.Equal(t, "boom", extractErrorMessage([]byte(`{"error": "boom"}`)))
	require.Equal(t, "boom", extractErrorMessage([]byte(`{"message": "boom"}`)))
	require.Equal(t, "boom", extractErrorMessage([]byte(`{"detail": "boom"}`)))
	require.Equal(t, "", extractErrorMessage([]byte(`not json`)))
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, 1)

	_, err := c.GenerateChart(context.Background(), ChartRequest{})
	require.Error(t, err)
	require.True(t, errs.IsNetwork(err))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(HealthStatus{Status: "healthy", Service: "engine"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)

	status, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", status.Status)
}
