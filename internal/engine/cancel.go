package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// Canceller cancels WAITING orders and returns their escrow. It takes the
// same order lock as the Settler, so a racing fill and cancel resolve to
// exactly one of them.
type Canceller struct {
	store  *store.Store
	sink   notify.Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewCanceller creates a Canceller. A nil sink drops events.
func NewCanceller(st *store.Store, sink notify.Sink, logger *slog.Logger) *Canceller {
	return &Canceller{store: st, sink: sink, logger: logger, now: time.Now}
}

// Cancel moves the member's order to CANCELLED and refunds its escrow.
// Orders of other members are reported as not found.
func (c *Canceller) Cancel(ctx context.Context, memberID, orderID string) (*domain.Order, error) {
	order, err := c.cancelLocked(memberID, orderID)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", order.ID),
		slog.String("member_id", order.MemberID),
		slog.String("market", order.Market),
	)
	publish(ctx, c.sink, c.logger, notify.EventOrderCancelled, order)
	return &order, nil
}

func (c *Canceller) cancelLocked(memberID, orderID string) (domain.Order, error) {
	unlockOrder := c.store.Lock(store.OrderKey(orderID))
	defer unlockOrder()

	order, err := c.store.Order(orderID)
	if err != nil || order.MemberID != memberID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusWaiting {
		return domain.Order{}, domain.ErrOrderNotCancellable
	}

	unlockRows := c.store.Lock(rowKeys(order)...)
	defer unlockRows()

	now := c.now()
	if err := order.Cancel(now); err != nil {
		return domain.Order{}, err
	}
	changes, err := releaseEscrow(c.store, order, now)
	if err != nil {
		return domain.Order{}, fmt.Errorf("refund order %s: %w", order.ID, err)
	}
	changes.Orders = append(changes.Orders, order)
	if err := c.store.Commit(changes); err != nil {
		return domain.Order{}, fmt.Errorf("commit cancel of order %s: %w", order.ID, err)
	}
	return order, nil
}
