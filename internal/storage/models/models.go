package models

import "time"

type Gender string

const (
	GenderMale      Gender = "male"
	GenderFemale    Gender = "female"
	GenderNonBinary Gender = "non_binary"
	GenderOther     Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderNonBinary, GenderOther:
		return true
	}
	return false
}

// BirthDetails is immutable once a questionnaire session has been started
// from it. Coordinates stay nil until the location has been geocoded.
type BirthDetails struct {
	Name            string   `json:"name"`
	Gender          Gender   `json:"gender"`
	BirthDate       string   `json:"birth_date"`                 // YYYY-MM-DD
	ApproximateTime string   `json:"approximate_time,omitempty"` // HH:MM
	BirthLocation   string   `json:"birth_location"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	Timezone        string   `json:"timezone,omitempty"` // IANA name, defaults to UTC
}

type SessionState string

const (
	StateUninitialized  SessionState = "uninitialized"
	StateInitializing   SessionState = "initializing"
	StateAwaitingAnswer SessionState = "awaiting_answer"
	StateSubmitting     SessionState = "submitting"
	StateComplete       SessionState = "complete"
	StateTerminal       SessionState = "terminal"
)

type QuestionType string

const (
	QuestionYesNo          QuestionType = "yes_no"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionDate           QuestionType = "date"
	QuestionText           QuestionType = "text"
)

type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID          string           `json:"id"`
	Type        QuestionType     `json:"type"`
	Text        string           `json:"text"`
	Description string           `json:"description,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
}

// AnsweredQuestion pairs a question with the answer the user gave it.
// History order is insertion order, which is chronological.
type AnsweredQuestion struct {
	Question   Question  `json:"question"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answered_at"`
}

type Session struct {
	ID              string             `json:"id"`
	Details         BirthDetails       `json:"details"`
	State           SessionState       `json:"state"`
	Confidence      float64            `json:"confidence"` // 0-100, whatever the engine last reported
	ChartID         string             `json:"chart_id"`
	QuestionnaireID string             `json:"questionnaire_id"`
	CurrentQuestion *Question          `json:"current_question,omitempty"`
	History         []AnsweredQuestion `json:"history"`
	Responses       map[string]string  `json:"responses"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type PlanetPosition struct {
	Name       string  `json:"name"`
	Sign       string  `json:"sign"`
	Degree     float64 `json:"degree"`
	House      int     `json:"house,omitempty"`
	Retrograde bool    `json:"retrograde,omitempty"`
}

type HouseCusp struct {
	Number int     `json:"number"`
	Sign   string  `json:"sign"`
	Degree float64 `json:"degree"`
}

type Ascendant struct {
	Sign   string  `json:"sign"`
	Degree float64 `json:"degree"`
}

type ChartData struct {
	Ascendant Ascendant        `json:"ascendant"`
	Planets   []PlanetPosition `json:"planets"`
	Houses    []HouseCusp      `json:"houses"`
}

type Interpretation struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ResultSource distinguishes a genuine engine-computed rectification from a
// locally synthesized stand-in produced after an engine failure.
type ResultSource string

const (
	SourceEngine      ResultSource = "engine"
	SourceSynthesized ResultSource = "synthesized"
)

type RectificationResult struct {
	SessionID          string           `json:"session_id"`
	RectifiedBirthTime string           `json:"rectified_birth_time"` // HH:MM
	ConfidenceScore    float64          `json:"confidence_score"`
	Chart              ChartData        `json:"chart"`
	Interpretations    []Interpretation `json:"interpretations"`
	Source             ResultSource     `json:"source"`
	CreatedAt          time.Time        `json:"created_at"`
}

// LocationSource records how a geocode result was obtained.
type LocationSource string

const (
	LocationEngine   LocationSource = "engine"
	LocationFallback LocationSource = "fallback"
	LocationCache    LocationSource = "cache"
)

type Location struct {
	Place     string         `json:"place"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Timezone  string         `json:"timezone"`
	Source    LocationSource `json:"source"`
}

// ResultEvaluation is a post-hoc sanity record for a finalized rectification:
// how far the rectified time moved from the user's approximate time, and
// which confidence band the result landed in.
type ResultEvaluation struct {
	ID           int       `json:"id"`
	SessionID    string    `json:"session_id"`
	DeltaMinutes int       `json:"delta_minutes"`
	Band         string    `json:"band"`
	Synthesized  bool      `json:"synthesized"`
	CreatedAt    time.Time `json:"created_at"`
}
