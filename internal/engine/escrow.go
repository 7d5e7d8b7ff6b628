package engine

import (
	"fmt"
	"time"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// releaseEscrow builds the rows that hand an order's escrow back to its
// member: cash at the limit price for a BUY, the asset size for a SELL.
// The caller must hold the order's wallet and holding locks.
func releaseEscrow(st *store.Store, order domain.Order, now time.Time) (store.Changes, error) {
	switch order.Side {
	case domain.OrderSideBuy:
		wallet, err := st.Wallet(order.MemberID)
		if err != nil {
			return store.Changes{}, err
		}
		if err := wallet.Release(order.Notional()); err != nil {
			return store.Changes{}, fmt.Errorf("release %s from wallet of %s: %w", order.Notional(), order.MemberID, err)
		}
		wallet.UpdatedAt = now
		return store.Changes{Wallets: []domain.Wallet{wallet}}, nil

	case domain.OrderSideSell:
		holding, err := st.Holding(order.MemberID, order.Market)
		if err != nil {
			return store.Changes{}, err
		}
		if err := holding.Release(order.Size); err != nil {
			return store.Changes{}, fmt.Errorf("release %s %s of %s: %w", order.Size, order.Market, order.MemberID, err)
		}
		holding.UpdatedAt = now
		return store.Changes{Holdings: []domain.Holding{holding}}, nil
	}
	return store.Changes{}, fmt.Errorf("order %s has side %q: %w", order.ID, order.Side, domain.ErrInvalidState)
}

// rowKeys returns the wallet and holding lock keys an order may touch,
// in lock order.
func rowKeys(order domain.Order) []string {
	return []string{
		store.WalletKey(order.MemberID),
		store.HoldingKey(order.MemberID, order.Market),
	}
}
