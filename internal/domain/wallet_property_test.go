package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Escrow and Release never change Balance+Locked and never drive either
// side negative, whatever sequence of amounts is applied.
func TestProperty_WalletEscrowConservesTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := rapid.Int64Range(0, 1_000_000_000).Draw(t, "start")
		w := &Wallet{MemberID: "m", Balance: decimal.NewFromInt(start)}
		total := w.Total()

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			amount := decimal.NewFromInt(rapid.Int64Range(0, 500_000_000).Draw(t, "amount"))
			if rapid.Bool().Draw(t, "escrow") {
				_ = w.Escrow(amount)
			} else {
				_ = w.Release(amount)
			}
			if w.Balance.IsNegative() || w.Locked.IsNegative() {
				t.Fatalf("negative wallet: balance=%s locked=%s", w.Balance, w.Locked)
			}
			if !w.Total().Equal(total) {
				t.Fatalf("total changed from %s to %s", total, w.Total())
			}
		}
	})
}
