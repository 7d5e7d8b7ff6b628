package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether an order buys or sells the market's asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusWaiting   OrderStatus = "WAITING"
	OrderStatusSuccess   OrderStatus = "SUCCESS"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusWaiting, OrderStatusSuccess, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusWaiting
}

// Order is a single limit request waiting for the market to reach its price.
type Order struct {
	ID             string          `json:"id"`
	MemberID       string          `json:"member_id"`
	Market         string          `json:"market"`
	Side           OrderSide       `json:"side"`
	Price          decimal.Decimal `json:"price"` // limit price
	Size           decimal.Decimal `json:"size"`
	Status         OrderStatus     `json:"status"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	RequestedAt    time.Time       `json:"requested_at"`
	MatchedAt      *time.Time      `json:"matched_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// Notional returns the escrow sized at the limit price.
func (o *Order) Notional() decimal.Decimal {
	return Notional(o.Price, o.Size)
}

// Eligible reports whether the order may fill at the quoted price: a BUY
// when the price is at or below its limit, a SELL when at or above.
func (o *Order) Eligible(price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	switch o.Side {
	case OrderSideBuy:
		return price.LessThanOrEqual(o.Price)
	case OrderSideSell:
		return price.GreaterThanOrEqual(o.Price)
	}
	return false
}

// Fill marks the order SUCCESS at the given execution price.
func (o *Order) Fill(price decimal.Decimal, at time.Time) error {
	if err := o.transition(OrderStatusSuccess); err != nil {
		return err
	}
	o.ExecutionPrice = price
	o.MatchedAt = &at
	return nil
}

// Fail marks the order FAILED.
func (o *Order) Fail() error {
	return o.transition(OrderStatusFailed)
}

// Cancel marks the order CANCELLED.
func (o *Order) Cancel(at time.Time) error {
	if err := o.transition(OrderStatusCancelled); err != nil {
		return err
	}
	o.CancelledAt = &at
	return nil
}

func (o *Order) transition(to OrderStatus) error {
	if o.Status != OrderStatusWaiting || to == OrderStatusWaiting {
		return ErrInvalidState
	}
	o.Status = to
	return nil
}
