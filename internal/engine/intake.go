package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/store"
)

var marketPattern = regexp.MustCompile(`^[A-Z]{2,10}-[A-Z0-9]{1,10}$`)

// ValidMarket reports whether market is a well-formed market code such as
// KRW-BTC.
func ValidMarket(market string) bool {
	return marketPattern.MatchString(market)
}

// SubmitRequest is a new limit order as the member asked for it.
type SubmitRequest struct {
	MemberID string
	Market   string
	Side     domain.OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
}

// Intake accepts new orders. It escrows the order's funds and records the
// WAITING order in a single commit.
type Intake struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewIntake creates an Intake over st.
func NewIntake(st *store.Store, logger *slog.Logger) *Intake {
	return &Intake{store: st, logger: logger, now: time.Now}
}

// Submit validates req, escrows price*size cash (BUY) or size units of the
// asset (SELL) and creates the order in WAITING state.
func (in *Intake) Submit(ctx context.Context, req SubmitRequest) (*domain.Order, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	if !in.store.HasWallet(req.MemberID) {
		return nil, domain.ErrWalletNotFound
	}

	now := in.now()
	order := domain.Order{
		ID:          uuid.NewString(),
		MemberID:    req.MemberID,
		Market:      req.Market,
		Side:        req.Side,
		Price:       req.Price,
		Size:        req.Size,
		Status:      domain.OrderStatusWaiting,
		RequestedAt: now,
	}

	var err error
	if req.Side == domain.OrderSideBuy {
		err = in.escrowCash(order, now)
	} else {
		err = in.escrowAsset(order, now)
	}
	if err != nil {
		return nil, err
	}

	in.logger.DebugContext(ctx, "order accepted",
		slog.String("order_id", order.ID),
		slog.String("member_id", order.MemberID),
		slog.String("market", order.Market),
		slog.String("side", string(order.Side)),
		slog.String("price", order.Price.String()),
		slog.String("size", order.Size.String()),
	)
	return &order, nil
}

func (in *Intake) escrowCash(order domain.Order, now time.Time) error {
	unlock := in.store.Lock(store.WalletKey(order.MemberID))
	defer unlock()

	wallet, err := in.store.Wallet(order.MemberID)
	if err != nil {
		return err
	}
	if err := wallet.Escrow(order.Notional()); err != nil {
		return err
	}
	wallet.UpdatedAt = now

	if err := in.store.Commit(store.Changes{
		Wallets: []domain.Wallet{wallet},
		Orders:  []domain.Order{order},
	}); err != nil {
		return fmt.Errorf("commit order %s: %w", order.ID, err)
	}
	return nil
}

func (in *Intake) escrowAsset(order domain.Order, now time.Time) error {
	unlock := in.store.Lock(store.HoldingKey(order.MemberID, order.Market))
	defer unlock()

	holding, err := in.store.Holding(order.MemberID, order.Market)
	if err != nil {
		return err
	}
	if err := holding.Escrow(order.Size); err != nil {
		return err
	}
	holding.UpdatedAt = now

	if err := in.store.Commit(store.Changes{
		Holdings: []domain.Holding{holding},
		Orders:   []domain.Order{order},
	}); err != nil {
		return fmt.Errorf("commit order %s: %w", order.ID, err)
	}
	return nil
}

func validateSubmit(req SubmitRequest) error {
	if req.Market == "" {
		return &domain.ValidationError{Message: "market is required"}
	}
	if !ValidMarket(req.Market) {
		return &domain.ValidationError{Message: fmt.Sprintf("market %q is not a valid market code", req.Market)}
	}
	if !req.Side.Valid() {
		return &domain.ValidationError{Message: "side must be BUY or SELL"}
	}
	if err := domain.CheckAmount("price", req.Price); err != nil {
		return err
	}
	if err := domain.CheckAmount("size", req.Size); err != nil {
		return err
	}
	if !req.Price.IsPositive() {
		return &domain.ValidationError{Message: "price must be greater than zero"}
	}
	if !req.Size.IsPositive() {
		return &domain.ValidationError{Message: "size must be greater than zero"}
	}
	return nil
}
