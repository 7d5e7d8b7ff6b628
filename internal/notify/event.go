// Package notify delivers order events to members. Delivery is best-effort:
// a Sink error is logged by the caller and never undoes the ledger change
// that produced the event.
package notify

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// Event types.
const (
	EventOrderFilled    = "order.filled"
	EventOrderFailed    = "order.failed"
	EventOrderCancelled = "order.cancelled"
)

// Events lists every event type a member can subscribe to, in the order
// they are reported in error messages.
var Events = []string{EventOrderFilled, EventOrderFailed, EventOrderCancelled}

// KnownEvent reports whether name is one of Events.
func KnownEvent(name string) bool {
	return slices.Contains(Events, name)
}

// FillEvent is the payload pushed to a member's private channel.
type FillEvent struct {
	Event          string          `json:"event"`
	OrderID        string          `json:"order_id"`
	MemberID       string          `json:"member_id"`
	Market         string          `json:"market"`
	Side           string          `json:"side"`
	Price          decimal.Decimal `json:"price"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Size           decimal.Decimal `json:"size"`
	Status         string          `json:"status"`
	RequestedAt    time.Time       `json:"requested_at"`
	MatchedAt      *time.Time      `json:"matched_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// NewEvent builds the event for an order that just reached a terminal
// state.
func NewEvent(event string, o domain.Order) FillEvent {
	return FillEvent{
		Event:          event,
		OrderID:        o.ID,
		MemberID:       o.MemberID,
		Market:         o.Market,
		Side:           string(o.Side),
		Price:          o.Price,
		ExecutionPrice: o.ExecutionPrice,
		Size:           o.Size,
		Status:         string(o.Status),
		RequestedAt:    o.RequestedAt,
		MatchedAt:      o.MatchedAt,
		CancelledAt:    o.CancelledAt,
	}
}

// ChannelFor returns the private channel key of a member.
func ChannelFor(memberID string) string {
	return "myOrder:" + memberID
}

// Sink receives events addressed to a channel. At-most-once.
type Sink interface {
	Publish(ctx context.Context, channel string, ev FillEvent) error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, channel string, ev FillEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, channel, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, FillEvent) error { return nil }
