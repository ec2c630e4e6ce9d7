// Package intent decides which specialized agent handles each caller
// utterance.
//
// Routing is a pure function of the utterance text and the current call
// session. Rules are evaluated in a fixed priority order and the first match
// wins:
//
//  1. negative-response override
//  2. active order flow continuation
//  3. support keywords
//  4. tracking keywords (only with an order on file)
//  5. feedback keywords
//  6. bare rating in the feedback or support phase
//  7. post-order default to tracking
//  8. fallback to the order agent
//
// The order matters: an order being collected must not be hijacked by an
// incidental keyword, and complaints outrank tracking. The fallback makes
// Route total, so there is no "ambiguous" error; low certainty is reported
// as ConfidenceLow.
package intent

import (
	"fmt"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Intent labels produced by the router.
const (
	IntentEndConversation  = "end_conversation"
	IntentContinueOrdering = "continue_ordering"
	IntentHandleComplaint  = "handle_complaint"
	IntentCheckStatus      = "check_order_status"
	IntentCollectRating    = "collect_rating"
	IntentProcessRating    = "process_rating"
	IntentProvideUpdate    = "provide_update"
	IntentStartNewOrder    = "start_new_order"
)

// Decision is the router's immutable output for one utterance.
type Decision struct {
	Agent      callstate.Agent
	Intent     string
	Confidence Confidence
	Reason     string

	// Rule is the 1-based priority rule that matched.
	Rule int
	// Keyword is the trigger term for keyword rules.
	Keyword string
}

// Router applies a keyword table to the fixed rule order.
type Router struct {
	Keywords KeywordSets
}

// NewRouter returns a router over keywords, or DefaultKeywords when the
// table is empty.
func NewRouter(keywords KeywordSets) Router {
	if len(keywords.Domains) == 0 {
		keywords = DefaultKeywords
	}
	return Router{Keywords: keywords}
}

var defaultRouter = NewRouter(DefaultKeywords)

// Route classifies text with the default keyword table.
func Route(text string, s callstate.CallSession) Decision {
	return defaultRouter.Route(text, s)
}

func (r Router) Route(text string, s callstate.CallSession) Decision {
	norm := Normalize(text)
	phase := s.Phase
	if phase == "" {
		phase = callstate.PhaseMenu
	}
	hasOrder := s.HasOrder()
	postOrder := phase == callstate.PhaseConfirmed || phase == callstate.PhaseTracking

	if IsNegative(norm) {
		if postOrder && hasOrder {
			return Decision{
				Agent:      callstate.AgentOrder,
				Intent:     IntentEndConversation,
				Confidence: ConfidenceHigh,
				Reason:     "Customer declined further assistance - ending call",
				Rule:       1,
			}
		}
		if phase == callstate.PhaseMenu || phase == callstate.PhaseOrdering {
			return Decision{
				Agent:      callstate.AgentOrder,
				Intent:     IntentContinueOrdering,
				Confidence: ConfidenceHigh,
				Reason:     "Customer said no during ordering - offering menu",
				Rule:       1,
			}
		}
	}

	if phase.InOrderFlow() {
		return Decision{
			Agent:      callstate.AgentOrder,
			Intent:     IntentContinueOrdering,
			Confidence: ConfidenceHigh,
			Reason:     fmt.Sprintf("Currently in %s state - continuing order flow", phase),
			Rule:       2,
		}
	}

	if kw, ok := r.Keywords.Match(callstate.AgentSupport, norm); ok {
		return Decision{
			Agent:      callstate.AgentSupport,
			Intent:     IntentHandleComplaint,
			Confidence: ConfidenceHigh,
			Reason:     "Support/complaint keywords detected",
			Rule:       3,
			Keyword:    kw,
		}
	}

	if hasOrder {
		if kw, ok := r.Keywords.Match(callstate.AgentTracking, norm); ok {
			return Decision{
				Agent:      callstate.AgentTracking,
				Intent:     IntentCheckStatus,
				Confidence: ConfidenceHigh,
				Reason:     "Order exists + tracking keywords detected",
				Rule:       4,
				Keyword:    kw,
			}
		}
	}

	if kw, ok := r.Keywords.Match(callstate.AgentFeedback, norm); ok {
		return Decision{
			Agent:      callstate.AgentFeedback,
			Intent:     IntentCollectRating,
			Confidence: ConfidenceHigh,
			Reason:     "Feedback/rating keywords detected",
			Rule:       5,
			Keyword:    kw,
		}
	}

	if phase == callstate.PhaseFeedback || phase == callstate.PhaseSupport {
		if _, ok := ParseRating(norm); ok {
			return Decision{
				Agent:      callstate.AgentFeedback,
				Intent:     IntentProcessRating,
				Confidence: ConfidenceHigh,
				Reason:     "Rating number detected in feedback/support context",
				Rule:       6,
			}
		}
	}

	if postOrder && hasOrder {
		return Decision{
			Agent:      callstate.AgentTracking,
			Intent:     IntentProvideUpdate,
			Confidence: ConfidenceMedium,
			Reason:     "Post-order state - defaulting to tracking",
			Rule:       7,
		}
	}

	return Decision{
		Agent:      callstate.AgentOrder,
		Intent:     IntentStartNewOrder,
		Confidence: ConfidenceLow,
		Reason:     "No clear routing - defaulting to Order Agent",
		Rule:       8,
	}
}
