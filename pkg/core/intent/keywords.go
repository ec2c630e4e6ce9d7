package intent

import (
	"strings"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
)

// KeywordSets maps each routable agent to its ordered trigger terms. The
// set is versioned so routing changes can be audited alongside the
// decisions they produce.
type KeywordSets struct {
	Version string
	Domains map[callstate.Agent][]string
}

// DefaultKeywords is the production keyword table.
var DefaultKeywords = KeywordSets{
	Version: "2024-11-v1",
	Domains: map[callstate.Agent][]string{
		callstate.AgentSupport: {
			"support", "help", "problem", "issue", "complaint", "wrong", "missing",
			"cold", "late", "refund", "cancel", "bad", "upset",
		},
		callstate.AgentTracking: {
			"track", "where", "status", "eta", "arriving", "delivery", "driver",
			"location", "when", "time",
		},
		callstate.AgentFeedback: {
			"rate", "rating", "review", "feedback", "star", "stars", "experience",
			"satisfied", "happy", "unhappy",
		},
	},
}

// NegativeResponses are the exact normalized utterances treated as "no".
var NegativeResponses = []string{"no", "nope", "no thanks", "nah", "no."}

// Match returns the first term of agent's set contained in text. text must
// already be lowercased.
func (k KeywordSets) Match(agent callstate.Agent, text string) (string, bool) {
	for _, term := range k.Domains[agent] {
		if term != "" && strings.Contains(text, term) {
			return term, true
		}
	}
	return "", false
}

// Normalize lowercases and trims an utterance for matching.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsNegative reports whether text is one of the fixed "no" variants.
func IsNegative(text string) bool {
	norm := Normalize(text)
	for _, v := range NegativeResponses {
		if norm == v {
			return true
		}
	}
	return false
}
