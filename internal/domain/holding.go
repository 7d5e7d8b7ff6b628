package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding represents a member's position in a single market.
type Holding struct {
	MemberID  string          `json:"member_id"`
	Market    string          `json:"market"`
	Size      decimal.Decimal `json:"size"`   // spendable quantity
	Locked    decimal.Decimal `json:"locked"` // escrowed for open SELL orders
	AvgPrice  decimal.Decimal `json:"avg_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Escrow moves size from Size to Locked.
func (h *Holding) Escrow(size decimal.Decimal) error {
	if h.Size.LessThan(size) {
		return ErrInsufficientHoldings
	}
	h.Size = h.Size.Sub(size)
	h.Locked = h.Locked.Add(size)
	return nil
}

// Release moves size from Locked back to Size.
func (h *Holding) Release(size decimal.Decimal) error {
	if h.Locked.LessThan(size) {
		return ErrLockedUnderflow
	}
	h.Locked = h.Locked.Sub(size)
	h.Size = h.Size.Add(size)
	return nil
}

// Consume removes size from Locked; the asset has left the member.
func (h *Holding) Consume(size decimal.Decimal) error {
	if h.Locked.LessThan(size) {
		return ErrLockedUnderflow
	}
	h.Locked = h.Locked.Sub(size)
	return nil
}

// Acquire adds size bought at price and folds it into the running
// volume-weighted average price. Only spendable Size counts toward the
// average.
func (h *Holding) Acquire(size, price decimal.Decimal) {
	if h.Size.IsZero() {
		h.Size = size
		h.AvgPrice = price
		return
	}
	newSize := h.Size.Add(size)
	cost := h.AvgPrice.Mul(h.Size).Add(price.Mul(size))
	h.AvgPrice = cost.Div(newSize)
	h.Size = newSize
}
