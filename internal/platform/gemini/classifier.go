package gemini

import (
	"strings"

	"github.com/engageai/engage-api/internal/domain"
)

// Keyword lists for the fallback classifier, checked in order of
// precedence. Closing signals win over general positivity so a customer
// saying "yes, let's do it" reads as ready to close, not merely engaged.
var (
	closingKeywords = []string{
		"sign me up", "let's do it", "lets do it", "i'll take it",
		"deal", "where do i sign", "ready to buy",
	}
	negativeKeywords = []string{
		"not interested", "no thanks", "stop", "unsubscribe",
		"leave me alone", "don't contact", "go away",
	}
	positiveKeywords = []string{
		"yes", "interested", "tell me more", "sounds good", "great",
		"how much", "price", "buy", "purchase", "more info",
	}
)

// ClassifyMessage assigns an engagement outcome from keyword heuristics.
// It is the degraded-mode path when the model response cannot be parsed,
// so it errs toward neutral.
func ClassifyMessage(message string) domain.Outcome {
	text := strings.ToLower(message)
	if strings.TrimSpace(text) == "" {
		return domain.OutcomeNeutral
	}

	for _, kw := range closingKeywords {
		if strings.Contains(text, kw) {
			return domain.OutcomeReadyToClose
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(text, kw) {
			return domain.OutcomeDisengaged
		}
	}
	for _, kw := range positiveKeywords {
		if strings.Contains(text, kw) {
			return domain.OutcomeEngaged
		}
	}

	return domain.OutcomeNeutral
}
