// Package fulfillment is the business backend behind the call agents: it
// places orders, reports delivery progress, files complaint tickets and
// records post-delivery feedback. Both backends satisfy dialog.Actions.
package fulfillment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/dialog"
)

var (
	// ErrOrderNotFound is returned for tracking or feedback on an unknown order.
	ErrOrderNotFound = errors.New("fulfillment: order not found")
	// ErrEmptyOrder is returned when an order is placed without items.
	ErrEmptyOrder = errors.New("fulfillment: order has no items")
	// ErrInvalidRating is returned for ratings outside 1..5.
	ErrInvalidRating = errors.New("fulfillment: rating must be between 1 and 5")
)

// DefaultETA is the delivery estimate quoted for new orders.
const DefaultETA = 35 * time.Minute

// preparingFor is how long an order stays in the kitchen before a driver
// picks it up.
const preparingFor = 10 * time.Minute

type Status string

const (
	StatusPlaced    Status = "placed"
	StatusPreparing Status = "preparing"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
)

// Order is a placed order as the backend stores it.
type Order struct {
	ID       string
	CallID   string
	Items    []callstate.LineItem
	Address  string
	Payment  callstate.PaymentMethod
	Total    int
	PlacedAt time.Time
	ETA      time.Duration
}

// StatusAt derives the delivery status from elapsed time.
func (o Order) StatusAt(now time.Time) Status {
	elapsed := now.Sub(o.PlacedAt)
	switch {
	case elapsed < time.Minute:
		return StatusPlaced
	case elapsed < preparingFor:
		return StatusPreparing
	case elapsed < o.ETA:
		return StatusInTransit
	default:
		return StatusDelivered
	}
}

// Narrative is the spoken tracking update for the order at now.
func (o Order) Narrative(now time.Time) string {
	remaining := o.ETA - now.Sub(o.PlacedAt)
	mins := int(remaining.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	switch o.StatusAt(now) {
	case StatusPlaced:
		return fmt.Sprintf("Your order %s has been placed and the restaurant is confirming it. It should arrive in about %d minutes.", o.ID, mins)
	case StatusPreparing:
		return fmt.Sprintf("Your order %s is being prepared. It should arrive in about %d minutes.", o.ID, mins)
	case StatusInTransit:
		return fmt.Sprintf("Your order %s is on the way with our driver and should arrive in about %d minutes.", o.ID, mins)
	default:
		return fmt.Sprintf("Your order %s has been delivered.", o.ID)
	}
}

func newOrderID() string {
	return "ORD" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func newTicketID(at time.Time) string {
	return "TKT" + at.UTC().Format("20060102150405")
}

// promoCode is the discount code issued for a feedback rating.
func promoCode(rating int, at time.Time) string {
	return fmt.Sprintf("SAVE%d%s", dialog.DiscountFor(rating), at.UTC().Format("0102"))
}

func validateOrder(req dialog.OrderRequest) error {
	if len(req.Items) == 0 {
		return ErrEmptyOrder
	}
	return nil
}

func orderTotal(items []callstate.LineItem) int {
	total := 0
	for _, it := range items {
		total += it.Price
	}
	return total
}

// compensation describes what a complaint ticket promises the caller.
func compensation(c dialog.ComplaintCategory) string {
	switch c {
	case dialog.ComplaintQuality:
		return "discount"
	case dialog.ComplaintWrong:
		return "replacement"
	case dialog.ComplaintRefund:
		return "refund"
	default:
		return "callback"
	}
}

var _ dialog.Actions = (*Memory)(nil)
var _ dialog.Actions = (*Postgres)(nil)
