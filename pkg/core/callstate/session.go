package callstate

import (
	"time"
)

// Phase is the current step of a call's order/conversation workflow.
type Phase string

const (
	PhaseMenu      Phase = "menu"
	PhaseOrdering  Phase = "ordering"
	PhaseAddress   Phase = "address"
	PhasePayment   Phase = "payment"
	PhaseConfirmed Phase = "confirmed"
	PhaseTracking  Phase = "tracking"
	PhaseSupport   Phase = "support"
	PhaseFeedback  Phase = "feedback"
	PhaseComplete  Phase = "complete"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseMenu, PhaseOrdering, PhaseAddress, PhasePayment, PhaseConfirmed,
		PhaseTracking, PhaseSupport, PhaseFeedback, PhaseComplete:
		return true
	default:
		return false
	}
}

// InOrderFlow reports whether the phase belongs to active order collection.
func (p Phase) InOrderFlow() bool {
	switch p {
	case PhaseMenu, PhaseOrdering, PhaseAddress, PhasePayment:
		return true
	default:
		return false
	}
}

// Agent names a specialized conversational agent.
type Agent string

const (
	AgentOrder    Agent = "order"
	AgentTracking Agent = "tracking"
	AgentSupport  Agent = "support"
	AgentFeedback Agent = "feedback"
)

type PaymentMethod string

const (
	PaymentNone   PaymentMethod = ""
	PaymentCash   PaymentMethod = "cash_on_delivery"
	PaymentOnline PaymentMethod = "online"
)

// Label is the spoken form of the payment method.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentCash:
		return "Cash on Delivery"
	case PaymentOnline:
		return "Online Payment"
	default:
		return ""
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type LineItem struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Transition is one entry in the agent-transition audit log.
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Agent  Agent     `json:"agent"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// CallSession is the per-call conversation record. It is the single source
// of truth for the conversation phase and is only mutated through
// Store.Apply.
type CallSession struct {
	CallID  string        `json:"call_id"`
	Phase   Phase         `json:"phase"`
	Agent   Agent         `json:"agent,omitempty"`
	Items   []LineItem    `json:"items,omitempty"`
	Address string        `json:"address,omitempty"`
	Payment PaymentMethod `json:"payment,omitempty"`
	OrderID string        `json:"order_id,omitempty"`

	Messages    []Message    `json:"messages,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`

	// ContextLost is set when the session was recreated after expiring
	// mid-call.
	ContextLost bool `json:"context_lost,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// NewCallSession returns a fresh session in the initial phase.
func NewCallSession(callID string, now time.Time) CallSession {
	return CallSession{
		CallID:       callID,
		Phase:        PhaseMenu,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a deep copy so mutations never alias stored slices.
func (s CallSession) Clone() CallSession {
	out := s
	if s.Items != nil {
		out.Items = append([]LineItem(nil), s.Items...)
	}
	if s.Messages != nil {
		out.Messages = append([]Message(nil), s.Messages...)
	}
	if s.Transitions != nil {
		out.Transitions = append([]Transition(nil), s.Transitions...)
	}
	return out
}

// Total is the sum of the order draft's line-item prices.
func (s CallSession) Total() int {
	total := 0
	for _, item := range s.Items {
		total += item.Price
	}
	return total
}

func (s CallSession) HasOrder() bool {
	return s.OrderID != ""
}

func (s *CallSession) AppendMessage(role Role, text string, at time.Time) {
	if s == nil {
		return
	}
	s.Messages = append(s.Messages, Message{Role: role, Text: text, At: at})
}

// RecordTransition appends an audit entry when the phase changes or a
// different agent handled the turn, then moves the session to the new phase.
func (s *CallSession) RecordTransition(to Phase, agent Agent, reason string, at time.Time) {
	if s == nil {
		return
	}
	if to != s.Phase || agent != s.Agent {
		s.Transitions = append(s.Transitions, Transition{
			From:   s.Phase,
			To:     to,
			Agent:  agent,
			Reason: reason,
			At:     at,
		})
	}
	s.Phase = to
	s.Agent = agent
}
