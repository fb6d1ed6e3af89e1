package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rectifier_sessions_started_total",
			Help: "Total questionnaire sessions initialized",
		},
	)

	AnswersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rectifier_answers_submitted_total",
			Help: "Total answer submissions by outcome",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rectifier_confidence_score",
			Help:    "Confidence scores reported after each answer",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	RectificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rectifier_rectifications_total",
			Help: "Finalized rectifications by result source",
		},
		[]string{"source"},
	)

	GeocodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rectifier_geocode_lookups_total",
			Help: "Geocode lookups by resolution source",
		},
		[]string{"source"},
	)

	EngineRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rectifier_engine_request_duration_seconds",
			Help:    "Latency of calls to the astrology engine",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	SessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rectifier_sessions_completed_total",
			Help: "Sessions that reached completion, by trigger (flag, threshold, exhausted)",
		},
		[]string{"trigger"},
	)
)

func Init() {
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(AnswersSubmitted)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(RectificationsTotal)
	prometheus.MustRegister(GeocodeLookups)
	prometheus.MustRegister(EngineRequestDuration)
	prometheus.MustRegister(SessionsCompleted)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
