package questionnaire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractKeywordsKeepsContentWords(t *testing.T) {
	keywords := ExtractKeywords("I broke my leg in a serious car accident")

	require.Contains(t, keywords, "leg")
	require.Contains(t, keywords, "car")
	require.Contains(t, keywords, "accident")
	require.NotContains(t, keywords, "in")
	require.NotContains(t, keywords, "a")
}

func TestExtractKeywordsLowercasesAndDedupes(t *testing.T) {
	keywords := ExtractKeywords("Accident after accident")

	count := 0
	for _, k := range keywords {
		if k == "accident" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestExtractKeywordsEmptyInput(t *testing.T) {
	require.Empty(t, ExtractKeywords(""))
}

func TestIsContentTag(t *testing.T) {
	require.True(t, isContentTag("NN"))
	require.True(t, isContentTag("NNS"))
	require.True(t, isContentTag("VBD"))
	require.True(t, isContentTag("JJ"))
	require.False(t, isContentTag("IN"))
	require.False(t, isContentTag("DT"))
}
