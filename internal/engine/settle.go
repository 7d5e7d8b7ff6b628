package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// Outcome is what a settlement attempt did to the order.
type Outcome int

const (
	// OutcomeNone: nothing was committed. Returned together with an error;
	// the order is still WAITING and may be retried.
	OutcomeNone Outcome = iota
	// OutcomeStale: the order had already left WAITING.
	OutcomeStale
	OutcomeFilled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStale:
		return "stale"
	case OutcomeFilled:
		return "filled"
	case OutcomeFailed:
		return "failed"
	}
	return "none"
}

// Settler executes fills. Settling the same order any number of times, or
// concurrently with a cancellation, moves it out of WAITING at most once.
type Settler struct {
	store     *store.Store
	sink      notify.Sink
	incidents IncidentReporter
	logger    *slog.Logger
	now       func() time.Time
}

// NewSettler creates a Settler. A nil sink drops events; a nil incidents
// reporter logs them through logger.
func NewSettler(st *store.Store, sink notify.Sink, incidents IncidentReporter, logger *slog.Logger) *Settler {
	if incidents == nil {
		incidents = LogIncidentReporter{Logger: logger}
	}
	return &Settler{
		store:     st,
		sink:      sink,
		incidents: incidents,
		logger:    logger,
		now:       time.Now,
	}
}

// Settle fills the order at price.
//
// If the ledger rows cannot take the fill (a missing row, a negative
// result) the order becomes FAILED, its escrow is refunded in the same
// commit, and a *domain.SettlementFailure is returned with OutcomeFailed.
// A commit error leaves the order WAITING and returns OutcomeNone.
func (s *Settler) Settle(ctx context.Context, orderID string, price decimal.Decimal) (Outcome, error) {
	outcome, order, failure, err := s.settleLocked(orderID, price)
	if err != nil {
		return outcome, err
	}

	switch outcome {
	case OutcomeFilled:
		s.logger.InfoContext(ctx, "order filled",
			slog.String("order_id", order.ID),
			slog.String("member_id", order.MemberID),
			slog.String("market", order.Market),
			slog.String("side", string(order.Side)),
			slog.String("execution_price", order.ExecutionPrice.String()),
			slog.String("size", order.Size.String()),
		)
		publish(ctx, s.sink, s.logger, notify.EventOrderFilled, order)
		return outcome, nil

	case OutcomeFailed:
		s.logger.ErrorContext(ctx, "settlement failed",
			slog.String("order_id", order.ID),
			slog.String("member_id", order.MemberID),
			slog.String("cause", failure.Cause.Error()),
			slog.Bool("refund_failed", failure.RefundFailed),
		)
		if failure.RefundFailed {
			s.incidents.ReportIncident(ctx, failure)
		}
		publish(ctx, s.sink, s.logger, notify.EventOrderFailed, order)
		return outcome, failure
	}
	return outcome, nil
}

// settleLocked does the work of Settle under the order, wallet and holding
// locks. Events are published by the caller once the locks are released.
func (s *Settler) settleLocked(orderID string, price decimal.Decimal) (Outcome, domain.Order, *domain.SettlementFailure, error) {
	unlockOrder := s.store.Lock(store.OrderKey(orderID))
	defer unlockOrder()

	order, err := s.store.Order(orderID)
	if err != nil {
		return OutcomeNone, domain.Order{}, nil, err
	}
	if order.Status != domain.OrderStatusWaiting {
		return OutcomeStale, order, nil, nil
	}
	if !order.Eligible(price) {
		return OutcomeNone, order, nil, fmt.Errorf("order %s %s limit %s at %s: %w",
			order.ID, order.Side, order.Price, price, domain.ErrPriceNotEligible)
	}

	unlockRows := s.store.Lock(rowKeys(order)...)
	defer unlockRows()

	now := s.now()
	changes, cause := s.fillRows(order, price, now)
	if cause == nil {
		err := s.store.Commit(changes)
		if err == nil {
			return OutcomeFilled, changes.Orders[0], nil, nil
		}
		if !errors.Is(err, store.ErrRowInvariant) {
			return OutcomeNone, order, nil, fmt.Errorf("commit fill of order %s: %w", order.ID, err)
		}
		cause = err
	}

	failed, failure, err := s.failLocked(order, cause, now)
	if err != nil {
		return OutcomeNone, order, nil, err
	}
	return OutcomeFailed, failed, failure, nil
}

// fillRows returns the ledger rows after filling order at price. Order is
// always the first entry of the returned Orders.
func (s *Settler) fillRows(order domain.Order, price decimal.Decimal, now time.Time) (store.Changes, error) {
	wallet, err := s.store.Wallet(order.MemberID)
	if err != nil {
		return store.Changes{}, err
	}
	holding, err := s.store.Holding(order.MemberID, order.Market)

	switch order.Side {
	case domain.OrderSideBuy:
		if errors.Is(err, domain.ErrHoldingNotFound) {
			holding = domain.Holding{MemberID: order.MemberID, Market: order.Market}
		} else if err != nil {
			return store.Changes{}, err
		}
		escrowed := order.Notional()
		refund := escrowed.Sub(domain.Notional(price, order.Size))
		if err := wallet.Consume(escrowed); err != nil {
			return store.Changes{}, fmt.Errorf("consume %s escrow: %w", escrowed, err)
		}
		wallet.Credit(refund)
		holding.Acquire(order.Size, price)

	case domain.OrderSideSell:
		if err != nil {
			return store.Changes{}, err
		}
		if err := holding.Consume(order.Size); err != nil {
			return store.Changes{}, fmt.Errorf("consume %s %s: %w", order.Size, order.Market, err)
		}
		wallet.Credit(domain.Notional(price, order.Size))

	default:
		return store.Changes{}, fmt.Errorf("side %q: %w", order.Side, domain.ErrInvalidState)
	}

	if err := order.Fill(price, now); err != nil {
		return store.Changes{}, err
	}
	wallet.UpdatedAt = now
	holding.UpdatedAt = now
	return store.Changes{
		Orders:   []domain.Order{order},
		Wallets:  []domain.Wallet{wallet},
		Holdings: []domain.Holding{holding},
	}, nil
}

// failLocked commits order as FAILED together with its escrow refund. When
// the refund cannot be built or committed the order is committed FAILED on
// its own, so it is never retried and never refunded twice.
func (s *Settler) failLocked(order domain.Order, cause error, now time.Time) (domain.Order, *domain.SettlementFailure, error) {
	failure := &domain.SettlementFailure{OrderID: order.ID, Cause: cause}
	if err := order.Fail(); err != nil {
		return order, nil, err
	}

	refund, err := releaseEscrow(s.store, order, now)
	if err == nil {
		refund.Orders = append(refund.Orders, order)
		err = s.store.Commit(refund)
		if err == nil {
			return order, failure, nil
		}
		if !errors.Is(err, store.ErrRowInvariant) {
			return order, nil, fmt.Errorf("commit failed order %s: %w", order.ID, err)
		}
	}

	failure.RefundFailed = true
	failure.Cause = errors.Join(cause, err)
	if err := s.store.Commit(store.Changes{Orders: []domain.Order{order}}); err != nil {
		return order, nil, fmt.Errorf("commit failed order %s: %w", order.ID, err)
	}
	return order, failure, nil
}
