package questionnaire

import (
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/birth-rectifier/backend/pkg/logger"

	"go.uber.org/zap"
)

// ExtractKeywords pulls the content words out of a free-text life-event
// answer (nouns, verbs, adjectives) so the engine gets a normalized keyword
// set alongside the raw text. Extraction failures degrade to no keywords.
func ExtractKeywords(answer string) []string {
	doc, err := prose.NewDocument(answer)
	if err != nil {
		logger.Warn("Keyword extraction failed", zap.Error(err))
		return nil
	}

	seen := make(map[string]struct{})
	var keywords []string

	for _, tok := range doc.Tokens() {
		if !isContentTag(tok.Tag) {
			continue
		}
		word := strings.ToLower(strings.TrimSpace(tok.Text))
		if len(word) < 3 {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
	}

	return keywords
}

func isContentTag(tag string) bool {
	return strings.HasPrefix(tag, "NN") ||
		strings.HasPrefix(tag, "VB") ||
		strings.HasPrefix(tag, "JJ")
}
