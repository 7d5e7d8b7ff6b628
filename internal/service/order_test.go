package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/notify"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// testOrderEnv holds all dependencies for order service tests.
type testOrderEnv struct {
	svc       *OrderService
	memberSvc *MemberService
	settler   *engine.Settler
	store     *store.Store
}

func newTestOrderEnv(t *testing.T) *testOrderEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New()
	env := &testOrderEnv{
		svc:       NewOrderService(st, engine.NewIntake(st, logger), engine.NewCanceller(st, notify.Discard{}, logger)),
		memberSvc: NewMemberService(st),
		settler:   engine.NewSettler(st, notify.Discard{}, nil, logger),
		store:     st,
	}
	_, err := env.memberSvc.Register(context.Background(), RegisterMemberRequest{
		MemberID:       "alice",
		InitialBalance: dec("1000000"),
		InitialHoldings: []HoldingInput{
			{Market: "KRW-ETH", Size: dec("2"), AvgPrice: dec("2500000")},
		},
	})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	return env
}

func isValidationError(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve)
}

func (e *testOrderEnv) buy(t *testing.T, price, size string) *domain.Order {
	t.Helper()
	// Orders are listed by requested_at; keep consecutive submissions apart.
	time.Sleep(2 * time.Millisecond)
	o, err := e.svc.SubmitOrder(context.Background(), "alice", SubmitOrderRequest{
		Market: "KRW-BTC", Side: domain.OrderSideBuy, Price: dec(price), Size: dec(size),
	})
	if err != nil {
		t.Fatalf("SubmitOrder(): %v", err)
	}
	return o
}

func TestSubmitOrder_Success(t *testing.T) {
	env := newTestOrderEnv(t)

	o := env.buy(t, "100000", "5")
	if o.Status != domain.OrderStatusWaiting {
		t.Errorf("got status %s, want WAITING", o.Status)
	}
	w, _ := env.memberSvc.GetWallet("alice")
	if !w.Balance.Equal(dec("500000")) || !w.Locked.Equal(dec("500000")) {
		t.Errorf("got wallet %+v", w)
	}
}

func TestSubmitOrder_Errors(t *testing.T) {
	env := newTestOrderEnv(t)

	tests := []struct {
		name     string
		memberID string
		req      SubmitOrderRequest
		check    func(error) bool
	}{
		{
			name:     "invalid member id",
			memberID: "bad id",
			req:      SubmitOrderRequest{Market: "KRW-BTC", Side: domain.OrderSideBuy, Price: dec("1"), Size: dec("1")},
			check:    isValidationError,
		},
		{
			name:     "unknown member",
			memberID: "ghost",
			req:      SubmitOrderRequest{Market: "KRW-BTC", Side: domain.OrderSideBuy, Price: dec("1"), Size: dec("1")},
			check:    func(err error) bool { return errors.Is(err, domain.ErrNotFound) },
		},
		{
			name:     "insufficient funds",
			memberID: "alice",
			req:      SubmitOrderRequest{Market: "KRW-BTC", Side: domain.OrderSideBuy, Price: dec("1000001"), Size: dec("1")},
			check:    func(err error) bool { return errors.Is(err, domain.ErrInsufficientFunds) },
		},
		{
			name:     "insufficient holdings",
			memberID: "alice",
			req:      SubmitOrderRequest{Market: "KRW-ETH", Side: domain.OrderSideSell, Price: dec("1"), Size: dec("3")},
			check:    func(err error) bool { return errors.Is(err, domain.ErrInsufficientHoldings) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.SubmitOrder(context.Background(), tt.memberID, tt.req)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestOrderEnv(t)
	o := env.buy(t, "100000", "5")

	cancelled, err := env.svc.CancelOrder(context.Background(), "alice", o.ID)
	if err != nil {
		t.Fatalf("CancelOrder(): %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("got status %s, want CANCELLED", cancelled.Status)
	}
	if _, err := env.svc.CancelOrder(context.Background(), "alice", o.ID); !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Errorf("second cancel: expected ErrOrderNotCancellable, got %v", err)
	}
}

func TestGetOrder(t *testing.T) {
	env := newTestOrderEnv(t)
	o := env.buy(t, "100000", "1")

	got, err := env.svc.GetOrder("alice", o.ID)
	if err != nil || got.ID != o.ID {
		t.Fatalf("GetOrder() = %+v, %v", got, err)
	}
	if _, err := env.svc.GetOrder("bob", o.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("other member: expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrders(t *testing.T) {
	env := newTestOrderEnv(t)
	first := env.buy(t, "100000", "1")
	second := env.buy(t, "90000", "1")
	third := env.buy(t, "80000", "1")
	if _, err := env.svc.CancelOrder(context.Background(), "alice", second.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.settler.Settle(context.Background(), first.ID, dec("95000")); err != nil {
		t.Fatalf("settle: %v", err)
	}

	all, total, err := env.svc.ListOrders("alice", nil, 1, 20)
	if err != nil {
		t.Fatalf("ListOrders(): %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("got %d orders (total %d), want 3", len(all), total)
	}
	for i, id := range []string{first.ID, second.ID, third.ID} {
		if all[i].ID != id {
			t.Errorf("order %d = %s, want %s", i, all[i].ID, id)
		}
	}

	waiting := domain.OrderStatusWaiting
	filtered, total, err := env.svc.ListOrders("alice", &waiting, 1, 20)
	if err != nil || total != 1 || filtered[0].ID != third.ID {
		t.Errorf("WAITING filter = %+v, %d, %v", filtered, total, err)
	}

	page2, total, err := env.svc.ListOrders("alice", nil, 2, 2)
	if err != nil || total != 3 || len(page2) != 1 || page2[0].ID != third.ID {
		t.Errorf("page 2 = %+v, %d, %v", page2, total, err)
	}

	empty, _, err := env.svc.ListOrders("alice", nil, 5, 2)
	if err != nil || len(empty) != 0 {
		t.Errorf("page past end = %+v, %v", empty, err)
	}
}

func TestListOrders_Errors(t *testing.T) {
	env := newTestOrderEnv(t)
	bogus := domain.OrderStatus("PENDING")

	tests := []struct {
		name     string
		memberID string
		status   *domain.OrderStatus
		page     int
		limit    int
	}{
		{"invalid status", "alice", &bogus, 1, 20},
		{"page zero", "alice", nil, 0, 20},
		{"limit zero", "alice", nil, 1, 0},
		{"limit too large", "alice", nil, 1, 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.svc.ListOrders(tt.memberID, tt.status, tt.page, tt.limit)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestListHoldings(t *testing.T) {
	env := newTestOrderEnv(t)
	o := env.buy(t, "100000", "2")
	if _, err := env.settler.Settle(context.Background(), o.ID, dec("100000")); err != nil {
		t.Fatalf("settle: %v", err)
	}

	holdings, err := env.svc.ListHoldings("alice")
	if err != nil {
		t.Fatalf("ListHoldings(): %v", err)
	}
	if len(holdings) != 2 || holdings[0].Market != "KRW-BTC" || holdings[1].Market != "KRW-ETH" {
		t.Fatalf("got holdings %+v, want KRW-BTC then KRW-ETH", holdings)
	}
	if !holdings[0].Size.Equal(dec("2")) {
		t.Errorf("KRW-BTC size = %s, want 2", holdings[0].Size)
	}

}

func TestListings_UnknownMemberIsEmpty(t *testing.T) {
	env := newTestOrderEnv(t)

	orders, total, err := env.svc.ListOrders("ghost", nil, 1, 20)
	if err != nil {
		t.Fatalf("ListOrders(ghost): %v", err)
	}
	if orders == nil || len(orders) != 0 || total != 0 {
		t.Fatalf("ListOrders(ghost) = %v, %d; want empty, 0", orders, total)
	}

	holdings, err := env.svc.ListHoldings("ghost")
	if err != nil {
		t.Fatalf("ListHoldings(ghost): %v", err)
	}
	if holdings == nil || len(holdings) != 0 {
		t.Fatalf("ListHoldings(ghost) = %v, want empty", holdings)
	}
}
