package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// flakyJournal fails every Write while down is set.
type flakyJournal struct {
	mu   sync.Mutex
	down bool
}

func (j *flakyJournal) setDown(down bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.down = down
}

func (j *flakyJournal) Write(store.Changes) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.down {
		return errors.New("disk unavailable")
	}
	return nil
}

func (j *flakyJournal) Replay(func(store.Changes) error) error { return nil }

func TestSettler_Settle_BuyRefundsFavourableDifference(t *testing.T) {
	env := newTestEnv()
	env.fund(t, "alice", "1000000")
	o := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")

	outcome, err := env.settler.Settle(context.Background(), o.ID, dec("90000"))
	if err != nil {
		t.Fatalf("Settle() unexpected error: %v", err)
	}
	if outcome != OutcomeFilled {
		t.Fatalf("outcome = %s, want filled", outcome)
	}

	w := env.wallet(t, "alice")
	assertDecimal(t, "balance", w.Balance, "550000")
	assertDecimal(t, "locked", w.Locked, "0")

	h := env.holding(t, "alice", "KRW-BTC")
	assertDecimal(t, "holding size", h.Size, "5")
	assertDecimal(t, "avg price", h.AvgPrice, "90000")

	filled := env.order(t, o.ID)
	if filled.Status != domain.OrderStatusSuccess {
		t.Errorf("Status = %s, want SUCCESS", filled.Status)
	}
	if filled.MatchedAt == nil {
		t.Error("expected MatchedAt to be set")
	}
	assertDecimal(t, "execution price", filled.ExecutionPrice, "90000")
	if env.store.WaitingCount() != 0 {
		t.Errorf("WaitingCount() = %d, want 0", env.store.WaitingCount())
	}

	events := env.sink.get()
	if len(events) != 1 || events[0].Event != notify.EventOrderFilled || events[0].OrderID != o.ID {
		t.Fatalf("events = %+v, want one order.filled", events)
	}
}

func TestSettler_Settle_SellCreditsProceeds(t *testing.T) {
	env := newTestEnv()
	env.fund(t, "bob", "10")
	env.hold(t, "bob", "KRW-ETH", "2")
	o := env.submit(t, "bob", "KRW-ETH", domain.OrderSideSell, "3000000", "1.5")

	outcome, err := env.settler.Settle(context.Background(), o.ID, dec("3100000"))
	if err != nil || outcome != OutcomeFilled {
		t.Fatalf("Settle() = %s, %v", outcome, err)
	}

	w := env.wallet(t, "bob")
	assertDecimal(t, "balance", w.Balance, "4650010")
	h := env.holding(t, "bob", "KRW-ETH")
	assertDecimal(t, "size", h.Size, "0.5")
	assertDecimal(t, "locked", h.Locked, "0")
}

func TestSettler_Settle_AveragePriceIsWeighted(t *testing.T) {
	env := newTestEnv()
	env.fund(t, "alice", "2000000")
	first := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")
	second := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "120000", "5")

	if _, err := env.settler.Settle(context.Background(), first.ID, dec("90000")); err != nil {
		t.Fatalf("Settle(first): %v", err)
	}
	if _, err := env.settler.Settle(context.Background(), second.ID, dec("110000")); err != nil {
		t.Fatalf("Settle(second): %v", err)
	}

	h := env.holding(t, "alice", "KRW-BTC")
	assertDecimal(t, "size", h.Size, "10")
	assertDecimal(t, "avg price", h.AvgPrice, "100000")

	w := env.wallet(t, "alice")
	// 2,000,000 - 450,000 - 550,000
	assertDecimal(t, "balance", w.Balance, "1000000")
	assertDecimal(t, "locked", w.Locked, "0")
}

func TestSettler_Settle_IsIdempotent(t *testing.T) {
	env := newTestEnv()
	env.fund(t, "alice", "1000000")
	o := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")

	if _, err := env.settler.Settle(context.Background(), o.ID, dec("90000")); err != nil {
		t.Fatalf("first Settle(): %v", err)
	}
	before := env.wallet(t, "alice")

	for i := 0; i < 3; i++ {
		outcome, err := env.settler.Settle(context.Background(), o.ID, dec("80000"))
		if err != nil {
			t.Fatalf("repeat Settle(): %v", err)
		}
		if outcome != OutcomeStale {
			t.Fatalf("repeat outcome = %s, want stale", outcome)
		}
	}

	after := env.wallet(t, "alice")
	assertDecimal(t, "balance", after.Balance, before.Balance.String())
	h := env.holding(t, "alice", "KRW-BTC")
	assertDecimal(t, "holding size", h.Size, "5")
	assertDecimal(t, "execution price", env.order(t, o.ID).ExecutionPrice, "90000")
	if n := len(env.sink.get()); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestSettler_Settle_ConcurrentCallsFillOnce(t *testing.T) {
	env := newTestEnv()
	env.fund(t, "alice", "1000000")
	o := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")

	const workers = 8
	outcomes := make([]Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], _ = env.settler.Settle(context.Background(), o.ID, dec("90000"))
		}()
	}
	wg.Wait()

	filled := 0
	for _, oc := range outcomes {
		if oc == OutcomeFilled {
			filled++
		}
	}
	if filled != 1 {
		t.Fatalf("filled %d times, want 1", filled)
	}
	w := env.wallet(t, "alice")
	assertDecimal(t, "balance", w.Balance, "550000")
	assertDecimal(t, "holding size", env.holding(t, "alice", "KRW-BTC").Size, "5")
}

func TestSettler_Settle_RejectsIneligiblePrice(t *testing.T) {
	env := newTestEnv()
	env.fund(t, "alice", "1000000")
	env.hold(t, "alice", "KRW-ETH", "1")
	buy := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")
	sell := env.submit(t, "alice", "KRW-ETH", domain.OrderSideSell, "3000000", "1")

	tests := []struct {
		name    string
		orderID string
		price   string
	}{
		{"buy above limit", buy.ID, "100001"},
		{"sell below limit", sell.ID, "2999999"},
		{"zero price", buy.ID, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := env.settler.Settle(context.Background(), tt.orderID, dec(tt.price))
			if !errors.Is(err, domain.ErrPriceNotEligible) {
				t.Fatalf("expected ErrPriceNotEligible, got %v", err)
			}
			if outcome != OutcomeNone {
				t.Errorf("outcome = %s, want none", outcome)
			}
			if s := env.order(t, tt.orderID).Status; s != domain.OrderStatusWaiting {
				t.Errorf("Status = %s, want WAITING", s)
			}
		})
	}
}

func TestSettler_Settle_UnknownOrder(t *testing.T) {
	env := newTestEnv()
	_, err := env.settler.Settle(context.Background(), "nope", dec("1"))
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestSettler_Settle_FailureRefundsEscrow(t *testing.T) {
	env := newTestEnv()
	// A SELL order whose member has no wallet to receive the proceeds.
	order := domain.Order{
		ID: "o1", MemberID: "carol", Market: "KRW-ETH", Side: domain.OrderSideSell,
		Price: dec("100"), Size: dec("2"), Status: domain.OrderStatusWaiting,
	}
	holding := domain.Holding{MemberID: "carol", Market: "KRW-ETH", Size: dec("1"), Locked: dec("2")}
	if err := env.store.Commit(store.Changes{Holdings: []domain.Holding{holding}, Orders: []domain.Order{order}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outcome, err := env.settler.Settle(context.Background(), "o1", dec("120"))
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", outcome)
	}
	var sf *domain.SettlementFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected *SettlementFailure, got %v", err)
	}
	if sf.RefundFailed {
		t.Error("expected refund to succeed")
	}
	if !errors.Is(err, domain.ErrSettlementFailure) || !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("error chain missing kind or cause: %v", err)
	}

	if s := env.order(t, "o1").Status; s != domain.OrderStatusFailed {
		t.Errorf("Status = %s, want FAILED", s)
	}
	h := env.holding(t, "carol", "KRW-ETH")
	assertDecimal(t, "size", h.Size, "3")
	assertDecimal(t, "locked", h.Locked, "0")
	if env.incidents.count() != 0 {
		t.Errorf("expected no incidents, got %d", env.incidents.count())
	}
	events := env.sink.get()
	if len(events) != 1 || events[0].Event != notify.EventOrderFailed {
		t.Fatalf("events = %+v, want one order.failed", events)
	}

	// FAILED is terminal: the next attempt does nothing.
	outcome, err = env.settler.Settle(context.Background(), "o1", dec("120"))
	if err != nil || outcome != OutcomeStale {
		t.Fatalf("retry = %s, %v; want stale", outcome, err)
	}
}

func TestSettler_Settle_RefundFailureReportsIncident(t *testing.T) {
	env := newTestEnv()
	env.fund(t, "alice", "1000000")
	o := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")

	// Corrupt the wallet so that neither the fill nor the refund fits.
	w := env.wallet(t, "alice")
	w.Locked = dec("100")
	if err := env.store.Commit(store.Changes{Wallets: []domain.Wallet{w}}); err != nil {
		t.Fatalf("corrupt wallet: %v", err)
	}

	outcome, err := env.settler.Settle(context.Background(), o.ID, dec("90000"))
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", outcome)
	}
	var sf *domain.SettlementFailure
	if !errors.As(err, &sf) || !sf.RefundFailed {
		t.Fatalf("expected SettlementFailure with RefundFailed, got %v", err)
	}
	if !errors.Is(err, domain.ErrLockedUnderflow) {
		t.Errorf("expected cause ErrLockedUnderflow, got %v", err)
	}
	if env.incidents.count() != 1 {
		t.Errorf("incidents = %d, want 1", env.incidents.count())
	}
	if s := env.order(t, o.ID).Status; s != domain.OrderStatusFailed {
		t.Errorf("Status = %s, want FAILED", s)
	}
	after := env.wallet(t, "alice")
	assertDecimal(t, "balance", after.Balance, "500000")
	assertDecimal(t, "locked", after.Locked, "100")
}

func TestSettler_Settle_CommitErrorLeavesOrderWaiting(t *testing.T) {
	j := &flakyJournal{}
	st, err := store.Open(j)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	env := newTestEnvWithStore(st)
	env.fund(t, "alice", "1000000")
	o := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")

	j.setDown(true)
	outcome, err := env.settler.Settle(context.Background(), o.ID, dec("90000"))
	if err == nil || outcome != OutcomeNone {
		t.Fatalf("Settle() = %s, %v; want none with error", outcome, err)
	}
	if s := env.order(t, o.ID).Status; s != domain.OrderStatusWaiting {
		t.Fatalf("Status = %s, want WAITING", s)
	}
	assertDecimal(t, "locked", env.wallet(t, "alice").Locked, "500000")
	if n := len(env.sink.get()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}

	j.setDown(false)
	outcome, err = env.settler.Settle(context.Background(), o.ID, dec("90000"))
	if err != nil || outcome != OutcomeFilled {
		t.Fatalf("retry = %s, %v; want filled", outcome, err)
	}
}

func TestSettler_Settle_PublishErrorDoesNotRollBack(t *testing.T) {
	env := newTestEnv()
	env.sink.err = errors.New("broker down")
	env.fund(t, "alice", "1000000")
	o := env.submit(t, "alice", "KRW-BTC", domain.OrderSideBuy, "100000", "5")

	outcome, err := env.settler.Settle(context.Background(), o.ID, dec("90000"))
	if err != nil || outcome != OutcomeFilled {
		t.Fatalf("Settle() = %s, %v", outcome, err)
	}
	if s := env.order(t, o.ID).Status; s != domain.OrderStatusSuccess {
		t.Errorf("Status = %s, want SUCCESS", s)
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeNone:   "none",
		OutcomeStale:  "stale",
		OutcomeFilled: "filled",
		OutcomeFailed: "failed",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
