package dialog

import (
	"fmt"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
)

const (
	// ApologyText is spoken when a turn fails but the call continues.
	ApologyText = "Sorry, I'm having a little trouble right now. Could you say that again?"
	// FatalApologyText is spoken before hanging up on an unrecoverable error.
	FatalApologyText = "Sorry, we're having technical difficulties. Please call again in a few minutes. Goodbye."
	// ContextLostNotice prefixes the reply when an expired session had to be
	// recreated mid-call.
	ContextLostNotice = "Sorry, I lost track of our conversation, so let's start again."

	goodbyeText       = "Thank you for ordering with us! Goodbye!"
	completedText     = "Thank you for calling. Goodbye!"
	noActiveOrderText = "I don't see an active order. Would you like to place a new order?"
	ratingPromptText  = "Please rate us from 1 to 5 stars."
	supportPromptText = "What can I help you with? You can report issues, request refunds, or cancel your order."
	addressPromptText = "Please tell me your delivery address."
	paymentPromptText = "For payment, say 'cash on delivery' or 'online payment'."
	postOrderHint     = "Say 'track order' for updates or 'support' for help."
)

// Greeting returns the opening line for a new or resumed call.
func (m *Machine) Greeting(s callstate.CallSession) string {
	menu := m.menuOrDefault()
	switch s.Phase {
	case callstate.PhaseOrdering:
		return fmt.Sprintf("Welcome back! You have %d items for %d rupees so far. Anything else? Say 'done' when finished.", len(s.Items), s.Total())
	case callstate.PhaseAddress:
		return "Welcome back! " + addressPromptText
	case callstate.PhasePayment:
		return "Welcome back! " + paymentPromptText
	case callstate.PhaseConfirmed, callstate.PhaseTracking:
		if s.HasOrder() {
			return fmt.Sprintf("Welcome back! Your order %s is on its way. %s", s.OrderID, postOrderHint)
		}
		return "Welcome back! " + noActiveOrderText
	case callstate.PhaseSupport:
		return "Welcome back! " + supportPromptText
	case callstate.PhaseFeedback:
		return "Welcome back! " + ratingPromptText
	case callstate.PhaseComplete:
		return completedText
	default:
		return fmt.Sprintf("Welcome! I can take your food order, track a delivery, or help with a problem. We have %s. What would you like?", menu.shortNames())
	}
}

// Reprompt returns the line spoken when the caller has been silent for the
// inactivity window. It is empty for a completed call.
func (m *Machine) Reprompt(s callstate.CallSession) string {
	switch s.Phase {
	case callstate.PhaseAddress:
		return "Are you still there? " + addressPromptText
	case callstate.PhasePayment:
		return "Are you still there? " + paymentPromptText
	case callstate.PhaseConfirmed, callstate.PhaseTracking:
		return "Are you still there? " + postOrderHint
	case callstate.PhaseSupport:
		return "Are you still there? Tell me what went wrong with your order."
	case callstate.PhaseFeedback:
		return "Are you still there? " + ratingPromptText
	case callstate.PhaseComplete:
		return ""
	default:
		return "Are you still there? Tell me what you'd like to order, or say 'menu' to hear the options."
	}
}

// EndsCall reports whether a call in this phase should hang up after the
// greeting.
func EndsCall(s callstate.CallSession) bool {
	return s.Phase == callstate.PhaseComplete
}
