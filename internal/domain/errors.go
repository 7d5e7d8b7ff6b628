package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every concrete sentinel below wraps exactly one of these so
// callers can branch on the kind with errors.Is.
var (
	ErrNotFound          = errors.New("not_found")
	ErrInvalidState      = errors.New("invalid_state")
	ErrSettlementFailure = errors.New("settlement_failure")
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrMemberAlreadyExists  = errors.New("member_already_exists")
	ErrMemberNotFound       = kindError("member_not_found", ErrNotFound)
	ErrWalletNotFound       = kindError("wallet_not_found", ErrNotFound)
	ErrHoldingNotFound      = kindError("holding_not_found", ErrNotFound)
	ErrOrderNotFound        = kindError("order_not_found", ErrNotFound)
	ErrWebhookNotFound      = kindError("webhook_not_found", ErrNotFound)
	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrInsufficientHoldings = errors.New("insufficient_holdings")
	ErrOrderNotCancellable  = kindError("only waiting orders can be cancelled", ErrInvalidState)
	ErrLockedUnderflow      = errors.New("locked_underflow")
	ErrPriceNotEligible     = errors.New("price_not_eligible")
)

type kindErr struct {
	msg  string
	kind error
}

func kindError(msg string, kind error) error {
	return &kindErr{msg: msg, kind: kind}
}

func (e *kindErr) Error() string { return e.msg }
func (e *kindErr) Unwrap() error { return e.kind }

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SettlementFailure reports an inconsistency found while settling an order.
// The order has been moved to FAILED. RefundFailed is set when the escrow
// could not be returned either; that case needs an operator.
type SettlementFailure struct {
	OrderID      string
	Cause        error
	RefundFailed bool
}

func (e *SettlementFailure) Error() string {
	if e.RefundFailed {
		return fmt.Sprintf("settlement of order %s failed and escrow was not refunded: %v", e.OrderID, e.Cause)
	}
	return fmt.Sprintf("settlement of order %s failed: %v", e.OrderID, e.Cause)
}

func (e *SettlementFailure) Unwrap() []error {
	return []error{ErrSettlementFailure, e.Cause}
}
