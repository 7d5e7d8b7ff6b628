package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a member's cash. Balance is spendable; Locked is escrowed
// for open BUY orders. Both are never negative.
type Wallet struct {
	MemberID  string          `json:"member_id"`
	Balance   decimal.Decimal `json:"balance"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns Balance + Locked.
func (w *Wallet) Total() decimal.Decimal {
	return w.Balance.Add(w.Locked)
}

// Escrow moves amount from Balance to Locked.
func (w *Wallet) Escrow(amount decimal.Decimal) error {
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	return nil
}

// Release moves amount from Locked back to Balance.
func (w *Wallet) Release(amount decimal.Decimal) error {
	if w.Locked.LessThan(amount) {
		return ErrLockedUnderflow
	}
	w.Locked = w.Locked.Sub(amount)
	w.Balance = w.Balance.Add(amount)
	return nil
}

// Consume removes amount from Locked without returning it to Balance.
func (w *Wallet) Consume(amount decimal.Decimal) error {
	if w.Locked.LessThan(amount) {
		return ErrLockedUnderflow
	}
	w.Locked = w.Locked.Sub(amount)
	return nil
}

// Credit adds amount to Balance.
func (w *Wallet) Credit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
}
