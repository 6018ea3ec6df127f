package session

import "strings"

// Readiness is the classification of a candidate reply to the readiness prompt.
type Readiness int

const (
	// ReadinessAmbiguous means no keyword matched; the reply is passed through
	// for the generator to judge.
	ReadinessAmbiguous Readiness = iota
	// ReadinessAffirmative means the candidate confirmed they are ready.
	ReadinessAffirmative
	// ReadinessNegative means the candidate asked to wait.
	ReadinessNegative
)

// ReadinessClassifier decides whether a candidate reply confirms readiness.
// Keyword lists are a per-language configuration detail, so the classifier is
// pluggable rather than baked into the state machine.
type ReadinessClassifier interface {
	Classify(text string) Readiness
}

// KeywordClassifier classifies by substring keyword lists. Negative cues win:
// a reply like "да, но подождите минуту" is not an affirmation.
type KeywordClassifier struct {
	affirmative []string
	negative    []string
}

var _ ReadinessClassifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier builds a classifier with the default Russian and
// English keyword lists.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		affirmative: []string{
			"да", "готов", "готова", "конечно", "давайте", "начинаем", "начнем", "поехали",
			"yes", "ready", "sure", "let's go", "lets go", "start",
		},
		negative: []string{
			"нет", "не готов", "не готова", "подожд", "подожди", "минут", "позже", "секунд",
			"no", "not ready", "wait", "hold on", "later",
		},
	}
}

// Classify applies the keyword lists to a lowercased reply.
func (c *KeywordClassifier) Classify(text string) Readiness {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return ReadinessAmbiguous
	}
	for _, kw := range c.negative {
		if strings.Contains(lower, kw) {
			return ReadinessNegative
		}
	}
	for _, kw := range c.affirmative {
		if strings.Contains(lower, kw) {
			return ReadinessAffirmative
		}
	}
	return ReadinessAmbiguous
}

// looksLikeReadinessPrompt reports whether an assistant message reads as the
// opening readiness check. Used on resume to re-arm the readiness gate from
// the persisted transcript alone.
func looksLikeReadinessPrompt(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "готов") && !strings.Contains(lower, "ready") {
		return false
	}
	return strings.Contains(lower, "?")
}
