package store

import (
	"time"

	"github.com/google/btree"
)

// waitingEntry is a WAITING order's position in the sweep queue.
type waitingEntry struct {
	RequestedAt time.Time
	OrderID     string
}

// waitingLess orders by requested_at ascending, then order_id ascending, so
// Ascend visits the oldest request first.
func waitingLess(a, b waitingEntry) bool {
	if !a.RequestedAt.Equal(b.RequestedAt) {
		return a.RequestedAt.Before(b.RequestedAt)
	}
	return a.OrderID < b.OrderID
}

// waitingIndex keeps the ids of WAITING orders in sweep order. It is not
// safe for concurrent use; Store guards it with its own mutex.
type waitingIndex struct {
	tree *btree.BTreeG[waitingEntry]
}

func newWaitingIndex() *waitingIndex {
	const degree = 32
	return &waitingIndex{tree: btree.NewG[waitingEntry](degree, waitingLess)}
}

func (w *waitingIndex) insert(orderID string, requestedAt time.Time) {
	w.tree.ReplaceOrInsert(waitingEntry{RequestedAt: requestedAt, OrderID: orderID})
}

func (w *waitingIndex) remove(orderID string, requestedAt time.Time) {
	w.tree.Delete(waitingEntry{RequestedAt: requestedAt, OrderID: orderID})
}

func (w *waitingIndex) ids() []string {
	ids := make([]string, 0, w.tree.Len())
	w.tree.Ascend(func(e waitingEntry) bool {
		ids = append(ids, e.OrderID)
		return true
	})
	return ids
}

func (w *waitingIndex) len() int {
	return w.tree.Len()
}
