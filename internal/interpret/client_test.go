package interpret

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/birth-rectifier/backend/internal/storage/models"
)

func TestParseInterpretations(t *testing.T) {
	interps, err := parseInterpretations(`[{"title": "Sun in Capricorn", "text": "Disciplined."}]`)
	require.NoError(t, err)
	require.Len(t, interps, 1)
	require.Equal(t, "Sun in Capricorn", interps[0].Title)
}

func TestParseInterpretationsStripsCodeFence(t *testing.T) {
	content := "```json\n[{\"title\": \"Moon in Pisces\", \"text\": \"Sensitive.\"}]\n```"

	interps, err := parseInterpretations(content)
	require.NoError(t, err)
	require.Len(t, interps, 1)
	require.Equal(t, "Moon in Pisces", interps[0].Title)
}

func TestParseInterpretationsRejectsProse(t *testing.T) {
	_, err := parseInterpretations("Here are your interpretations: ...")
	require.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(models.ChartData{
		Ascendant: models.Ascendant{Sign: "Leo", Degree: 14.2},
		Planets: []models.PlanetPosition{
			{Name: "Sun", Sign: "Capricorn", Degree: 10.5, House: 6},
			{Name: "Mercury", Sign: "Sagittarius", Degree: 28.0, Retrograde: true},
		},
	})

	require.Contains(t, prompt, "Ascendant: Leo at 14.2 degrees")
	require.Contains(t, prompt, "Sun in Capricorn at 10.5 degrees, house 6")
	require.Contains(t, prompt, "Mercury in Sagittarius at 28.0 degrees, retrograde")
}
