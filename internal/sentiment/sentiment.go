// Package sentiment scores the tone of provider answers toward a target
// domain. The classifier is deliberately a deterministic lexicon count,
// not a model: identical inputs always produce identical records, which
// the scoring pipeline and tests rely on.
package sentiment

import (
	"regexp"
	"strings"
	"sync"

	"github.com/citewatch/citewatch/internal/models"
)

// Default lexicons. Overridable at init and hot-reloadable from a lexicon
// file; these baselines are what the tests pin.
var (
	defaultPositive = []string{"best", "excellent", "top", "recommended", "leading", "outstanding", "superior"}
	defaultNegative = []string{"worst", "poor", "avoid", "bad", "terrible", "disappointing"}
)

// Sentence boundaries are punctuation runs followed by whitespace or
// end of text. A bare `[.!?]+` would also split inside the target
// domain ("acme.com") and no sentence would ever mention it.
var sentenceSplitRe = regexp.MustCompile(`[.!?]+(?:\s+|$)`)

// Lexicon is one sentiment word list pair.
type Lexicon struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
}

// Analyzer classifies answer text against a target domain. Safe for
// concurrent use; SetLexicon swaps word sets atomically.
type Analyzer struct {
	mu       sync.RWMutex
	positive map[string]bool
	negative map[string]bool
}

// NewAnalyzer returns an analyzer with the default English lexicons.
func NewAnalyzer() *Analyzer {
	a := &Analyzer{}
	a.SetLexicon(Lexicon{Positive: defaultPositive, Negative: defaultNegative})
	return a
}

// SetLexicon replaces both word sets. Empty lists fall back to the
// defaults so a partial lexicon file cannot silence one polarity.
func (a *Analyzer) SetLexicon(lex Lexicon) {
	positive := lex.Positive
	if len(positive) == 0 {
		positive = defaultPositive
	}
	negative := lex.Negative
	if len(negative) == 0 {
		negative = defaultNegative
	}

	pos := make(map[string]bool, len(positive))
	for _, w := range positive {
		pos[strings.ToLower(strings.TrimSpace(w))] = true
	}
	neg := make(map[string]bool, len(negative))
	for _, w := range negative {
		neg[strings.ToLower(strings.TrimSpace(w))] = true
	}

	a.mu.Lock()
	a.positive = pos
	a.negative = neg
	a.mu.Unlock()
}

// Analyze classifies the sentences of text that mention the target
// domain host. No mentioning sentence means neutral; otherwise the
// polarity with strictly more lexicon hits wins and ties stay neutral.
func (a *Analyzer) Analyze(text, primaryDomain string) models.Sentiment {
	target := strings.ToLower(strings.TrimSpace(primaryDomain))
	if text == "" || target == "" {
		return models.SentimentNeutral
	}

	var mentioning []string
	for _, sentence := range sentenceSplitRe.Split(text, -1) {
		if strings.Contains(strings.ToLower(sentence), target) {
			mentioning = append(mentioning, sentence)
		}
	}
	if len(mentioning) == 0 {
		return models.SentimentNeutral
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	positive, negative := 0, 0
	for _, sentence := range mentioning {
		for _, word := range strings.Fields(strings.ToLower(sentence)) {
			word = strings.Trim(word, `,;:"'()[]`)
			if a.positive[word] {
				positive++
			}
			if a.negative[word] {
				negative++
			}
		}
	}

	switch {
	case positive > negative:
		return models.SentimentPositive
	case negative > positive:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

// Confidence derives a [0,1] confidence from the shape of the response:
// more sources, faster answers and longer text all raise it.
func Confidence(citationCount int, responseTimeMs int64, responseLength int) float64 {
	score := 0.5
	if citationCount >= 5 {
		score += 0.2
	} else if citationCount >= 3 {
		score += 0.1
	}
	if responseTimeMs < 3000 {
		score += 0.1
	}
	if responseLength > 500 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

const (
	summaryLimit    = 500
	summaryMinRatio = 0.7
)

// Summarize truncates text to at most 500 characters, preferring the
// last sentence boundary at or past 70% of the limit. Without such a
// boundary it hard-cuts and appends an ellipsis.
func Summarize(text string) string {
	if len(text) <= summaryLimit {
		return text
	}

	window := text[:summaryLimit]
	minEnd := int(float64(summaryLimit) * summaryMinRatio)

	boundary := -1
	for _, loc := range sentenceSplitRe.FindAllStringIndex(window, -1) {
		if loc[1] >= minEnd {
			boundary = loc[1]
		}
	}
	if boundary > 0 {
		return strings.TrimSpace(window[:boundary])
	}
	return window + "..."
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
