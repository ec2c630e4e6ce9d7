package fulfillment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/dialog"
)

// Ticket is a filed complaint.
type Ticket struct {
	ID           string
	CallID       string
	OrderID      string
	Category     dialog.ComplaintCategory
	Compensation string
	Text         string
	OpenedAt     time.Time
}

// Feedback is a recorded post-delivery rating.
type Feedback struct {
	OrderID    string
	Rating     int
	PromoCode  string
	RecordedAt time.Time
}

type MemoryOption func(*Memory)

// WithMemoryClock overrides the clock used for ids, statuses and codes.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithETA sets the delivery estimate quoted for new orders.
func WithETA(eta time.Duration) MemoryOption {
	return func(m *Memory) {
		if eta > 0 {
			m.eta = eta
		}
	}
}

// Memory keeps orders, tickets and feedback in process memory. It backs
// single-node deployments and tests.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]Order
	tickets  map[string]Ticket
	feedback []Feedback

	now func() time.Time
	eta time.Duration
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		orders:  make(map[string]Order),
		tickets: make(map[string]Ticket),
		now:     time.Now,
		eta:     DefaultETA,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) CreateOrder(ctx context.Context, req dialog.OrderRequest) (dialog.OrderReceipt, error) {
	if err := ctx.Err(); err != nil {
		return dialog.OrderReceipt{}, err
	}
	if err := validateOrder(req); err != nil {
		return dialog.OrderReceipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := newOrderID()
	for _, taken := m.orders[id]; taken; _, taken = m.orders[id] {
		id = newOrderID()
	}
	o := Order{
		ID:       id,
		CallID:   req.CallID,
		Items:    append([]callstate.LineItem(nil), req.Items...),
		Address:  req.Address,
		Payment:  req.Payment,
		Total:    orderTotal(req.Items),
		PlacedAt: m.now(),
		ETA:      m.eta,
	}
	m.orders[id] = o
	return dialog.OrderReceipt{OrderID: o.ID, Total: o.Total, ETA: o.ETA}, nil
}

func (m *Memory) Tracking(ctx context.Context, orderID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o, ok := m.Order(orderID)
	if !ok {
		return "", ErrOrderNotFound
	}
	return o.Narrative(m.now()), nil
}

func (m *Memory) ProcessComplaint(ctx context.Context, c dialog.Complaint) (dialog.ComplaintReceipt, error) {
	if err := ctx.Err(); err != nil {
		return dialog.ComplaintReceipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now()
	id := newTicketID(at)
	// Ticket ids have one-second resolution.
	for n := 1; ; n++ {
		if _, taken := m.tickets[id]; !taken {
			break
		}
		id = newTicketID(at.Add(time.Duration(n) * time.Second))
	}
	m.tickets[id] = Ticket{
		ID:           id,
		CallID:       c.CallID,
		OrderID:      c.OrderID,
		Category:     c.Category,
		Compensation: compensation(c.Category),
		Text:         strings.TrimSpace(c.Text),
		OpenedAt:     at,
	}
	return dialog.ComplaintReceipt{TicketID: id}, nil
}

func (m *Memory) CollectFeedback(ctx context.Context, orderID string, rating int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rating < 1 || rating > 5 {
		return "", ErrInvalidRating
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.now()
	code := promoCode(rating, at)
	m.feedback = append(m.feedback, Feedback{OrderID: orderID, Rating: rating, PromoCode: code, RecordedAt: at})
	return code, nil
}

// Order returns a copy of the stored order.
func (m *Memory) Order(id string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if ok {
		o.Items = append([]callstate.LineItem(nil), o.Items...)
	}
	return o, ok
}

func (m *Memory) Ticket(id string) (Ticket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	return t, ok
}

func (m *Memory) Feedback() []Feedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Feedback(nil), m.feedback...)
}
