package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// ErrRowInvariant is returned by Commit when a change would leave a row in
// a state the ledger never allows: a negative amount, or a rewrite of a
// terminal order.
var ErrRowInvariant = errors.New("row_invariant_violation")

// Changes is a set of row writes committed as one atomic unit.
type Changes struct {
	Wallets  []domain.Wallet
	Holdings []domain.Holding
	Orders   []domain.Order
}

// Empty reports whether the change set writes nothing.
func (c Changes) Empty() bool {
	return len(c.Wallets) == 0 && len(c.Holdings) == 0 && len(c.Orders) == 0
}

// Journal makes committed changes durable. Write must apply the whole change
// set or none of it.
type Journal interface {
	Write(ch Changes) error
	Replay(fn func(Changes) error) error
}

// Store is the ledger: wallets, holdings and orders, with per-row locks.
//
// Reads return copies. Writers lock the rows they touch with Lock, read,
// mutate the copies and hand them back through Commit. Commit itself only
// guards the in-memory maps; exclusivity between writers comes from the
// row locks.
type Store struct {
	locks   *RowLocks
	journal Journal

	mu           sync.RWMutex
	wallets      map[string]domain.Wallet
	holdings     map[string]map[string]domain.Holding // member_id → market → holding
	orders       map[string]domain.Order
	memberOrders map[string][]string // member_id → order ids (append-only)
	waiting      *waitingIndex
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		locks:        NewRowLocks(),
		wallets:      make(map[string]domain.Wallet),
		holdings:     make(map[string]map[string]domain.Holding),
		orders:       make(map[string]domain.Order),
		memberOrders: make(map[string][]string),
		waiting:      newWaitingIndex(),
	}
}

// Open creates a Store backed by j and loads every row j has recorded.
func Open(j Journal) (*Store, error) {
	s := New()
	err := j.Replay(func(ch Changes) error {
		s.apply(ch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	s.journal = j
	return s, nil
}

// Lock acquires exclusive row locks for keys, in order. See RowLocks.Lock.
func (s *Store) Lock(keys ...string) (unlock func()) {
	return s.locks.Lock(keys...)
}

// Wallet returns a copy of the member's wallet.
func (s *Store) Wallet(memberID string) (domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[memberID]
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return w, nil
}

// HasWallet reports whether the member has a wallet.
func (s *Store) HasWallet(memberID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.wallets[memberID]
	return ok
}

// Holding returns a copy of the member's holding in market.
func (s *Store) Holding(memberID, market string) (domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[memberID][market]
	if !ok {
		return domain.Holding{}, domain.ErrHoldingNotFound
	}
	return h, nil
}

// Holdings returns the member's holdings sorted by market. Returns an empty
// slice if the member holds nothing.
func (s *Store) Holdings(memberID string) []domain.Holding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := s.holdings[memberID]
	result := make([]domain.Holding, 0, len(markets))
	for _, h := range markets {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Market < result[j].Market })
	return result
}

// Order returns a copy of the order.
func (s *Store) Order(orderID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

// OrdersByMember returns the member's orders by requested_at ascending.
// If status is non-nil, only orders with that status are included.
func (s *Store) OrdersByMember(memberID string, status *domain.OrderStatus) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.memberOrders[memberID]
	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o := s.orders[id]
		if status != nil && o.Status != *status {
			continue
		}
		result = append(result, o)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return waitingLess(
			waitingEntry{RequestedAt: result[i].RequestedAt, OrderID: result[i].ID},
			waitingEntry{RequestedAt: result[j].RequestedAt, OrderID: result[j].ID},
		)
	})
	return result
}

// WaitingOrders returns every WAITING order, oldest request first.
func (s *Store) WaitingOrders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.waiting.ids()
	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.orders[id])
	}
	return result
}

// WaitingCount returns the number of WAITING orders.
func (s *Store) WaitingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting.len()
}

// Commit validates ch, writes it to the journal and applies it in memory.
// Either every row in ch becomes visible or none does. The caller must hold
// the row locks of everything it writes.
func (s *Store) Commit(ch Changes) error {
	if ch.Empty() {
		return nil
	}
	if err := s.validate(ch); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.Write(ch); err != nil {
			return fmt.Errorf("journal write: %w", err)
		}
	}
	s.apply(ch)
	return nil
}

func (s *Store) validate(ch Changes) error {
	for _, w := range ch.Wallets {
		if w.MemberID == "" || w.Balance.IsNegative() || w.Locked.IsNegative() {
			return fmt.Errorf("wallet %q balance=%s locked=%s: %w", w.MemberID, w.Balance, w.Locked, ErrRowInvariant)
		}
	}
	for _, h := range ch.Holdings {
		if h.MemberID == "" || h.Market == "" || h.Size.IsNegative() || h.Locked.IsNegative() {
			return fmt.Errorf("holding %q/%q size=%s locked=%s: %w", h.MemberID, h.Market, h.Size, h.Locked, ErrRowInvariant)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range ch.Orders {
		if o.ID == "" || !o.Status.Valid() {
			return fmt.Errorf("order %q status=%q: %w", o.ID, o.Status, ErrRowInvariant)
		}
		if old, ok := s.orders[o.ID]; ok && old.Status.Terminal() {
			return fmt.Errorf("order %s is already %s: %w", o.ID, old.Status, ErrRowInvariant)
		}
	}
	return nil
}

func (s *Store) apply(ch Changes) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range ch.Wallets {
		s.wallets[w.MemberID] = w
	}
	for _, h := range ch.Holdings {
		markets, ok := s.holdings[h.MemberID]
		if !ok {
			markets = make(map[string]domain.Holding)
			s.holdings[h.MemberID] = markets
		}
		markets[h.Market] = h
	}
	for _, o := range ch.Orders {
		old, existed := s.orders[o.ID]
		if existed && old.Status == domain.OrderStatusWaiting {
			s.waiting.remove(old.ID, old.RequestedAt)
		}
		if !existed {
			s.memberOrders[o.MemberID] = append(s.memberOrders[o.MemberID], o.ID)
		}
		s.orders[o.ID] = o
		if o.Status == domain.OrderStatusWaiting {
			s.waiting.insert(o.ID, o.RequestedAt)
		}
	}
}
