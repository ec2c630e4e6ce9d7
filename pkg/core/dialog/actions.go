package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
)

var errNoActions = errors.New("dialog: no action collaborator configured")

// OrderRequest is what the order agent hands to fulfillment at checkout.
type OrderRequest struct {
	CallID  string
	Items   []callstate.LineItem
	Address string
	Payment callstate.PaymentMethod
}

type OrderReceipt struct {
	OrderID string
	Total   int
	// ETA is the expected delivery time. Zero means unknown.
	ETA time.Duration
}

type Complaint struct {
	CallID   string
	OrderID  string
	Category ComplaintCategory
	Text     string
}

type ComplaintReceipt struct {
	TicketID string
}

// Actions is the business-logic collaborator behind the agents: order
// creation, delivery tracking, complaint handling and feedback.
type Actions interface {
	CreateOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error)
	Tracking(ctx context.Context, orderID string) (string, error)
	ProcessComplaint(ctx context.Context, c Complaint) (ComplaintReceipt, error)
	CollectFeedback(ctx context.Context, orderID string, rating int) (string, error)
}

// Outcome is a resolved directive: the final spoken text plus the session
// changes that depend on the action's result.
type Outcome struct {
	Text   string
	Hangup bool
	// Patch records action results on the session. It is nil when there is
	// nothing to record.
	Patch callstate.Mutation
	// Err is the collaborator failure, already folded into Text.
	Err error
}

// Resolve carries out the directive's action against actions and folds the
// result into the reply. s is the session as committed by Transition.
func (m *Machine) Resolve(ctx context.Context, actions Actions, s callstate.CallSession, d Directive, at time.Time) Outcome {
	if d.Action != ActionNone && actions == nil {
		return m.resolveFailure(s, d, errNoActions, at)
	}

	switch d.Action {
	case ActionCreateOrder:
		receipt, err := actions.CreateOrder(ctx, OrderRequest{
			CallID:  s.CallID,
			Items:   append([]callstate.LineItem(nil), s.Items...),
			Address: s.Address,
			Payment: s.Payment,
		})
		if err != nil {
			return m.resolveFailure(s, d, fmt.Errorf("create order: %w", err), at)
		}
		if receipt.Total == 0 {
			receipt.Total = s.Total()
		}
		orderID := receipt.OrderID
		return Outcome{
			Text: confirmationText(receipt, s.Payment),
			Patch: func(cs *callstate.CallSession) error {
				cs.OrderID = orderID
				return nil
			},
		}

	case ActionGetTracking:
		narrative, err := actions.Tracking(ctx, s.OrderID)
		if err != nil {
			return m.resolveFailure(s, d, fmt.Errorf("tracking %s: %w", s.OrderID, err), at)
		}
		return Outcome{Text: joinSentences(narrative, "Would you like to speak with support or provide feedback?")}

	case ActionProcessComplaint:
		receipt, err := actions.ProcessComplaint(ctx, Complaint{
			CallID:   s.CallID,
			OrderID:  s.OrderID,
			Category: d.Category,
			Text:     lastUserText(s),
		})
		if err != nil {
			return m.resolveFailure(s, d, fmt.Errorf("process complaint: %w", err), at)
		}
		ref := ""
		if receipt.TicketID != "" {
			ref = fmt.Sprintf("Your reference number is %s.", receipt.TicketID)
		}
		return Outcome{Text: joinSentences(d.Text, ref, d.FollowUp)}

	case ActionCollectFeedback:
		code, err := actions.CollectFeedback(ctx, s.OrderID, d.Rating)
		if err != nil || code == "" {
			// The tier's default code is still honored at checkout.
			code = fmt.Sprintf("SAVE%d", d.Discount)
		}
		return Outcome{Text: feedbackText(d.Rating, d.Discount, code), Hangup: d.Hangup, Err: err}

	default:
		return Outcome{Text: d.Text, Hangup: d.Hangup}
	}
}

func (m *Machine) resolveFailure(s callstate.CallSession, d Directive, err error, at time.Time) Outcome {
	switch d.Action {
	case ActionCreateOrder:
		return Outcome{
			Text: "Sorry, I couldn't place your order just now. " + paymentPromptText,
			Err:  err,
			Patch: func(cs *callstate.CallSession) error {
				cs.Payment = callstate.PaymentNone
				cs.RecordTransition(callstate.PhasePayment, callstate.AgentOrder, "order creation failed", at)
				return nil
			},
		}
	case ActionGetTracking:
		return Outcome{
			Text: fmt.Sprintf("I couldn't reach the delivery system just now, but your order %s is on its way. Please ask again in a minute.", s.OrderID),
			Err:  err,
		}
	case ActionProcessComplaint:
		return Outcome{
			Text: "I'm sorry, I couldn't log your complaint just now. Could you tell me the problem again?",
			Err:  err,
			Patch: func(cs *callstate.CallSession) error {
				cs.RecordTransition(callstate.PhaseSupport, callstate.AgentSupport, "complaint not recorded", at)
				return nil
			},
		}
	case ActionCollectFeedback:
		code := fmt.Sprintf("SAVE%d", d.Discount)
		return Outcome{Text: feedbackText(d.Rating, d.Discount, code), Hangup: d.Hangup, Err: err}
	default:
		return Outcome{Text: ApologyText, Err: err}
	}
}

func confirmationText(r OrderReceipt, method callstate.PaymentMethod) string {
	eta := "Delivery in 30 to 45 minutes."
	if r.ETA > 0 {
		eta = fmt.Sprintf("Delivery in %d minutes.", int(r.ETA.Round(time.Minute)/time.Minute))
	}
	payment := ""
	if method == callstate.PaymentOnline {
		payment = "Payment link sent."
	}
	return joinSentences(
		fmt.Sprintf("Perfect! Order %s confirmed for %d rupees.", r.OrderID, r.Total),
		payment,
		eta,
		postOrderHint,
	)
}

func feedbackText(rating, discount int, code string) string {
	switch {
	case rating >= 4:
		return fmt.Sprintf("Thank you for the great rating! As a token of appreciation, here's %d%% off your next order. Code: %s. Goodbye!", discount, code)
	case rating == 3:
		return fmt.Sprintf("Thank you for your feedback. We'll work on improving. Here's %d%% off your next order. Code: %s. Goodbye!", discount, code)
	default:
		return fmt.Sprintf("We're very sorry about your experience. Our support team will call you within 1 hour. Here's %d%% off your next order. Code: %s. Goodbye!", discount, code)
	}
}

func lastUserText(s callstate.CallSession) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == callstate.RoleUser {
			return s.Messages[i].Text
		}
	}
	return ""
}

func joinSentences(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
