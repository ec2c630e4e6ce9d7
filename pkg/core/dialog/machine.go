// Package dialog is the per-call conversation state machine.
//
// A call moves through the phases menu, ordering, address, payment,
// confirmed, tracking, support, feedback and complete. Each routed
// utterance is applied through an explicit transition table keyed by
// (phase, agent); the selected step mutates the session and returns a
// Directive describing what to say and which business action, if any, to
// run. Transition runs inside callstate.Store.Apply and must stay pure;
// actions are carried out afterwards by Resolve, outside the store lock.
package dialog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/intent"
)

var (
	// ErrInvalidTransition marks an utterance the current phase cannot
	// accept. It is never spoken; the directive re-prompts instead.
	ErrInvalidTransition = errors.New("dialog: invalid transition")
	// ErrCallComplete is reported for any utterance after the call reached
	// the terminal phase.
	ErrCallComplete = fmt.Errorf("%w: call complete", ErrInvalidTransition)
)

// Action names the business operation a directive asks for.
type Action string

const (
	ActionNone             Action = ""
	ActionCreateOrder      Action = "create_order"
	ActionGetTracking      Action = "get_tracking"
	ActionProcessComplaint Action = "process_complaint"
	ActionCollectFeedback  Action = "collect_feedback"
)

// ComplaintCategory selects the compensation wording for a complaint.
type ComplaintCategory string

const (
	ComplaintQuality ComplaintCategory = "cold_or_late"
	ComplaintWrong   ComplaintCategory = "wrong_or_missing"
	ComplaintRefund  ComplaintCategory = "refund_or_cancel"
)

// Directive is the state machine's instruction for one turn.
type Directive struct {
	Phase  callstate.Phase
	Action Action

	// Text is spoken as is when Action is ActionNone. For actions it is the
	// lead-in the action result is folded into.
	Text     string
	FollowUp string
	Hangup   bool

	Category ComplaintCategory
	Rating   int
	Discount int

	// Rejected is set when the utterance could not be applied in the
	// current phase.
	Rejected error
}

type step func(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive)

type tableKey struct {
	phase callstate.Phase
	agent callstate.Agent
}

// Machine owns the transition table. It holds no per-call state and is safe
// for concurrent use.
type Machine struct {
	menu  Menu
	table map[tableKey]step
}

var allPhases = []callstate.Phase{
	callstate.PhaseMenu,
	callstate.PhaseOrdering,
	callstate.PhaseAddress,
	callstate.PhasePayment,
	callstate.PhaseConfirmed,
	callstate.PhaseTracking,
	callstate.PhaseSupport,
	callstate.PhaseFeedback,
	callstate.PhaseComplete,
}

var allAgents = []callstate.Agent{
	callstate.AgentOrder,
	callstate.AgentTracking,
	callstate.AgentSupport,
	callstate.AgentFeedback,
}

func NewMachine(menu Menu) *Machine {
	if len(menu.Items) == 0 {
		menu = DefaultMenu
	}
	m := &Machine{menu: menu}
	m.table = map[tableKey]step{
		{callstate.PhaseMenu, callstate.AgentOrder}:      m.orderSelect,
		{callstate.PhaseOrdering, callstate.AgentOrder}:  m.orderSelect,
		{callstate.PhaseAddress, callstate.AgentOrder}:   m.orderAddress,
		{callstate.PhasePayment, callstate.AgentOrder}:   m.orderPayment,
		{callstate.PhaseConfirmed, callstate.AgentOrder}: m.orderAfterCheckout,
		{callstate.PhaseTracking, callstate.AgentOrder}:  m.orderAfterCheckout,
		{callstate.PhaseSupport, callstate.AgentOrder}:   m.orderAfterCheckout,
		{callstate.PhaseFeedback, callstate.AgentOrder}:  m.orderAfterCheckout,
	}
	for _, phase := range allPhases {
		if phase == callstate.PhaseComplete {
			continue
		}
		m.table[tableKey{phase, callstate.AgentTracking}] = m.track
		m.table[tableKey{phase, callstate.AgentSupport}] = m.support
		m.table[tableKey{phase, callstate.AgentFeedback}] = m.feedback
	}
	for _, agent := range allAgents {
		m.table[tableKey{callstate.PhaseComplete, agent}] = m.completed
	}
	return m
}

func (m *Machine) menuOrDefault() Menu {
	if m == nil || len(m.menu.Items) == 0 {
		return DefaultMenu
	}
	return m.menu
}

// Transitions lists every (phase, agent) pair the table handles.
func (m *Machine) Transitions() [][2]string {
	out := make([][2]string, 0, len(m.table))
	for k := range m.table {
		out = append(out, [2]string{string(k.phase), string(k.agent)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Transition applies a routing decision for text to s and returns the
// resulting directive. It logs an audit entry when the phase changes or a
// different agent handled the turn. A completed call is left untouched.
func (m *Machine) Transition(s *callstate.CallSession, d intent.Decision, text string, at time.Time) Directive {
	if s == nil {
		return Directive{Text: ApologyText, Rejected: ErrInvalidTransition}
	}
	phase := s.Phase
	if !phase.Valid() {
		phase = callstate.PhaseMenu
		s.Phase = phase
	}

	fn, ok := m.table[tableKey{phase, d.Agent}]
	if !ok {
		// Unknown agents fall back to the order agent for the phase.
		fn = m.table[tableKey{phase, callstate.AgentOrder}]
		d.Agent = callstate.AgentOrder
	}
	next, dir := fn(s, d, text)
	dir.Phase = next
	if phase == callstate.PhaseComplete {
		return dir
	}

	reason := d.Reason
	if dir.Rejected != nil {
		reason = fmt.Sprintf("%s (%v)", reason, dir.Rejected)
	}
	s.RecordTransition(next, d.Agent, reason, at)
	return dir
}

// orderSelect handles menu browsing and item selection.
func (m *Machine) orderSelect(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	norm := intent.Normalize(text)
	menu := m.menuOrDefault()

	if intent.IsNegative(norm) {
		return s.Phase, Directive{Text: "Would you like me to list our menu? Say yes to hear the items."}
	}
	if isAffirmative(norm) {
		return s.Phase, Directive{Text: "Here's our menu: " + menu.Listing() + ". What would you like?"}
	}

	added := menu.Detect(norm)
	for _, item := range added {
		s.Items = append(s.Items, item.LineItem())
	}
	finished := containsAny(norm, completionPhrases)

	if finished {
		if len(s.Items) == 0 {
			return s.Phase, Directive{
				Text:     "You haven't ordered anything yet. Would you like me to list the menu?",
				Rejected: ErrInvalidTransition,
			}
		}
		return callstate.PhaseAddress, Directive{
			Text: fmt.Sprintf("Perfect! %d items, total %d rupees. %s", len(s.Items), s.Total(), addressPromptText),
		}
	}
	if len(added) > 0 {
		parts := make([]string, 0, len(added))
		for _, item := range added {
			parts = append(parts, fmt.Sprintf("%s (%d rupees)", item.Short, item.Price))
		}
		return callstate.PhaseOrdering, Directive{
			Text: "Added " + strings.Join(parts, ", ") + ". Anything else? Say 'done' when finished.",
		}
	}
	if containsAny(norm, menuRequests) {
		return s.Phase, Directive{Text: "Here's our menu: " + menu.Listing() + ". What would you like to order?"}
	}
	return s.Phase, Directive{
		Text: fmt.Sprintf("I can help you order %s. Would you like me to list the full menu with prices?", menu.shortNames()),
	}
}

func (m *Machine) orderAddress(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	addr := strings.TrimSpace(text)
	if len(strings.Fields(addr)) < 3 {
		return s.Phase, Directive{Text: "Please provide a complete address with street, area, and city."}
	}
	s.Address = addr
	return callstate.PhasePayment, Directive{Text: "Perfect! I've noted your address. " + paymentPromptText}
}

func (m *Machine) orderPayment(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	norm := intent.Normalize(text)
	var method callstate.PaymentMethod
	switch {
	case containsAny(norm, []string{"cash", "cod"}):
		method = callstate.PaymentCash
	case containsAny(norm, []string{"online", "card", "upi"}):
		method = callstate.PaymentOnline
	default:
		return s.Phase, Directive{Text: "Please say cash on delivery or online payment."}
	}

	if len(s.Items) == 0 {
		return callstate.PhaseMenu, Directive{
			Text:     "Your order is empty. Here's our menu: " + m.menuOrDefault().Listing() + ". What would you like to order?",
			Rejected: ErrInvalidTransition,
		}
	}
	s.Payment = method
	return callstate.PhaseConfirmed, Directive{Action: ActionCreateOrder}
}

// orderAfterCheckout handles the order agent once the order flow is over:
// saying goodbye, or starting over.
func (m *Machine) orderAfterCheckout(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	norm := intent.Normalize(text)

	if d.Intent == intent.IntentEndConversation {
		return callstate.PhaseComplete, Directive{Text: goodbyeText, Hangup: true}
	}
	if isAffirmative(norm) {
		switch s.Phase {
		case callstate.PhaseFeedback:
			return s.Phase, Directive{Text: ratingPromptText}
		case callstate.PhaseSupport:
			return s.Phase, Directive{Text: supportPromptText}
		}
	}

	listing := m.menuOrDefault().Listing()
	if !s.HasOrder() {
		return callstate.PhaseMenu, Directive{Text: noActiveOrderText + " We have " + listing + "."}
	}
	s.Items = nil
	s.Address = ""
	s.Payment = callstate.PaymentNone
	return callstate.PhaseMenu, Directive{Text: "Sure, let's start a new order. We have " + listing + ". What would you like?"}
}

func (m *Machine) track(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	if !s.HasOrder() {
		return callstate.PhaseTracking, Directive{Text: noActiveOrderText}
	}
	return callstate.PhaseTracking, Directive{Action: ActionGetTracking}
}

type complaintWording struct {
	category ComplaintCategory
	terms    []string
	text     string
	followUp string
}

var complaintWordings = []complaintWording{
	{
		category: ComplaintQuality,
		terms:    []string{"cold", "late"},
		text:     "I apologize for that. I'm processing a 50% refund for you immediately.",
		followUp: "Would you like to rate your experience?",
	},
	{
		category: ComplaintWrong,
		terms:    []string{"wrong", "missing"},
		text:     "I'm very sorry. We'll send the correct order right away at no charge.",
		followUp: "Can I get your feedback on this experience?",
	},
	{
		category: ComplaintRefund,
		terms:    []string{"refund", "cancel"},
		text:     "I've processed your refund. You'll receive it in 5-7 business days.",
		followUp: "Would you like to share feedback?",
	},
}

func (m *Machine) support(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	norm := intent.Normalize(text)
	for _, w := range complaintWordings {
		if containsAny(norm, w.terms) {
			return callstate.PhaseFeedback, Directive{
				Action:   ActionProcessComplaint,
				Category: w.category,
				Text:     w.text,
				FollowUp: w.followUp,
			}
		}
	}
	return callstate.PhaseSupport, Directive{Text: supportPromptText}
}

func (m *Machine) feedback(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	rating, ok := intent.ParseRating(text)
	if !ok {
		return callstate.PhaseFeedback, Directive{Text: ratingPromptText}
	}
	return callstate.PhaseComplete, Directive{
		Action:   ActionCollectFeedback,
		Rating:   rating,
		Discount: DiscountFor(rating),
		Hangup:   true,
	}
}

func (m *Machine) completed(s *callstate.CallSession, d intent.Decision, text string) (callstate.Phase, Directive) {
	return callstate.PhaseComplete, Directive{Text: completedText, Hangup: true, Rejected: ErrCallComplete}
}

// DiscountFor maps a 1–5 rating to its discount percentage.
func DiscountFor(rating int) int {
	switch {
	case rating >= 4:
		return 10
	case rating == 3:
		return 15
	default:
		return 20
	}
}

var (
	affirmatives      = []string{"yes", "yeah", "yep", "sure", "okay", "ok"}
	menuRequests      = []string{"menu", "list", "what do you have", "show me", "tell me items"}
	completionPhrases = []string{"that's all", "thats all", "done", "finish", "complete"}
)

func isAffirmative(norm string) bool {
	norm = strings.TrimRight(norm, ".!")
	for _, a := range affirmatives {
		if norm == a {
			return true
		}
	}
	return false
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
