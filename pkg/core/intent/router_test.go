package intent

import (
	"strings"
	"testing"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
)

func session(phase callstate.Phase, orderID string) callstate.CallSession {
	return callstate.CallSession{CallID: "call-1", Phase: phase, OrderID: orderID}
}

func TestRoute_RulePriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		text       string
		sess       callstate.CallSession
		agent      callstate.Agent
		intent     string
		confidence Confidence
		rule       int
	}{
		{"no after order ends call", "No", session(callstate.PhaseConfirmed, "ORD1"), callstate.AgentOrder, IntentEndConversation, ConfidenceHigh, 1},
		{"nope while tracking ends call", " nope ", session(callstate.PhaseTracking, "ORD1"), callstate.AgentOrder, IntentEndConversation, ConfidenceHigh, 1},
		{"no while ordering offers menu", "no thanks", session(callstate.PhaseOrdering, ""), callstate.AgentOrder, IntentContinueOrdering, ConfidenceHigh, 1},
		{"support keyword suppressed mid flow", "this is a problem, I want a refund", session(callstate.PhaseAddress, ""), callstate.AgentOrder, IntentContinueOrdering, ConfidenceHigh, 2},
		{"tracking keyword suppressed mid flow", "where is the driver", session(callstate.PhasePayment, "ORD1"), callstate.AgentOrder, IntentContinueOrdering, ConfidenceHigh, 2},
		{"complaint outranks tracking", "the driver was late", session(callstate.PhaseTracking, "ORD1"), callstate.AgentSupport, IntentHandleComplaint, ConfidenceHigh, 3},
		{"tracking needs order", "where is my driver", session(callstate.PhaseConfirmed, "ORD1"), callstate.AgentTracking, IntentCheckStatus, ConfidenceHigh, 4},
		{"feedback keyword", "I want to leave a review", session(callstate.PhaseTracking, ""), callstate.AgentFeedback, IntentCollectRating, ConfidenceHigh, 5},
		{"bare rating in feedback", "4", session(callstate.PhaseFeedback, "ORD1"), callstate.AgentFeedback, IntentProcessRating, ConfidenceHigh, 6},
		{"bare number word in support", "maybe three", session(callstate.PhaseSupport, "ORD1"), callstate.AgentFeedback, IntentProcessRating, ConfidenceHigh, 6},
		{"post order default", "okay thanks", session(callstate.PhaseConfirmed, "ORD1"), callstate.AgentTracking, IntentProvideUpdate, ConfidenceMedium, 7},
		{"fallback", "hello there", session(callstate.PhaseComplete, ""), callstate.AgentOrder, IntentStartNewOrder, ConfidenceLow, 8},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Route(tc.text, tc.sess)
			if got.Agent != tc.agent || got.Intent != tc.intent || got.Confidence != tc.confidence || got.Rule != tc.rule {
				t.Fatalf("Route(%q)=%+v, want agent=%s intent=%s confidence=%s rule=%d",
					tc.text, got, tc.agent, tc.intent, tc.confidence, tc.rule)
			}
			if got.Reason == "" {
				t.Fatalf("Route(%q) reason is empty", tc.text)
			}
		})
	}
}

func TestRoute_ActiveFlowNeverPreemptedByKeywords(t *testing.T) {
	t.Parallel()

	var texts []string
	for _, terms := range DefaultKeywords.Domains {
		texts = append(texts, terms...)
	}
	texts = append(texts, "I want to cancel", "rate you 5 stars", "where is my order", "1", "help me")

	for _, phase := range []callstate.Phase{callstate.PhaseMenu, callstate.PhaseOrdering, callstate.PhaseAddress, callstate.PhasePayment} {
		for _, orderID := range []string{"", "ORD1A2B3C4D"} {
			for _, text := range texts {
				got := Route(text, session(phase, orderID))
				if got.Agent != callstate.AgentOrder {
					t.Fatalf("phase=%s order=%q text=%q routed to %s, want order", phase, orderID, text, got.Agent)
				}
			}
		}
	}
}

func TestRoute_NegativeOutsideOrderPhases(t *testing.T) {
	t.Parallel()

	// "no" in confirmed without an order is not an end-of-call signal.
	got := Route("no", session(callstate.PhaseConfirmed, ""))
	if got.Rule == 1 {
		t.Fatalf("Route(no) without order matched rule 1: %+v", got)
	}
	// "no" in address falls through to the active flow rule.
	got = Route("no", session(callstate.PhaseAddress, ""))
	if got.Rule != 2 {
		t.Fatalf("Route(no) in address rule=%d, want 2", got.Rule)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	t.Parallel()

	sessions := []callstate.CallSession{
		session(callstate.PhaseTracking, "ORD1"),
		session(callstate.PhaseFeedback, ""),
		session(callstate.PhaseMenu, ""),
		session(callstate.PhaseComplete, "ORD1"),
	}
	texts := []string{"food was cold", "2", "where is my order", "no", "pizza please", ""}
	for _, s := range sessions {
		for _, text := range texts {
			first := Route(text, s)
			for i := 0; i < 5; i++ {
				if again := Route(text, s); again != first {
					t.Fatalf("Route(%q, %s) not deterministic: %+v vs %+v", text, s.Phase, first, again)
				}
			}
		}
	}
}

func TestRoute_ScenarioB_ColdFoodWhileTracking(t *testing.T) {
	t.Parallel()
	got := Route("food was cold", session(callstate.PhaseTracking, "ORD12345678"))
	if got.Agent != callstate.AgentSupport || got.Keyword != "cold" {
		t.Fatalf("got=%+v, want support via cold", got)
	}
}

func TestRoute_ScenarioD_WhereIsMyOrderWithoutOrder(t *testing.T) {
	t.Parallel()
	got := Route("where is my order", session(callstate.PhaseTracking, ""))
	if got.Agent != callstate.AgentOrder || got.Intent != IntentStartNewOrder || got.Confidence != ConfidenceLow {
		t.Fatalf("got=%+v, want order/start_new_order/low", got)
	}
}

func TestRouter_CustomKeywordTable(t *testing.T) {
	t.Parallel()

	r := NewRouter(KeywordSets{
		Version: "test",
		Domains: map[callstate.Agent][]string{
			callstate.AgentSupport: {"manager"},
		},
	})
	got := r.Route("let me speak to a manager", session(callstate.PhaseTracking, ""))
	if got.Agent != callstate.AgentSupport || got.Keyword != "manager" {
		t.Fatalf("got=%+v, want support via manager", got)
	}
	// The default table does not know the term.
	if Route("let me speak to a manager", session(callstate.PhaseTracking, "")).Agent == callstate.AgentSupport {
		t.Fatalf("default table unexpectedly matched manager")
	}
}

func TestRoute_ReasonNamesPhase(t *testing.T) {
	t.Parallel()
	got := Route("pizza", session(callstate.PhaseOrdering, ""))
	if !strings.Contains(got.Reason, "ordering") {
		t.Fatalf("reason=%q, want phase mentioned", got.Reason)
	}
}

func TestParseRating(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want int
		ok   bool
	}{
		{"2", 2, true},
		{"I'd give it FOUR stars", 4, true},
		{"4/5", 4, true},
		{"five", 5, true},
		{"4stars", 4, true},
		{"5star", 5, true},
		{"rated it 3-star", 3, true},
		{"done", 0, false},
		{"someone helped", 0, false},
		{"6", 0, false},
		{"10 out of 10", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseRating(tc.text)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRating(%q)=(%d, %v), want (%d, %v)", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}
