package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// PebbleJournal persists ledger rows in a pebble database. Each Commit is
// one synced batch, so a committed change survives a process restart.
//
// keys: w/<member_id>, h/<member_id>/<market>, o/<order_id>
type PebbleJournal struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database at dir.
func OpenPebble(dir string) (*PebbleJournal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &PebbleJournal{db: db}, nil
}

// Close flushes and closes the database.
func (j *PebbleJournal) Close() error { return j.db.Close() }

// Write stores every row of ch in a single synced batch.
func (j *PebbleJournal) Write(ch Changes) error {
	b := j.db.NewBatch()
	defer b.Close()

	for _, w := range ch.Wallets {
		if err := setJSON(b, WalletKey(w.MemberID), w); err != nil {
			return err
		}
	}
	for _, h := range ch.Holdings {
		if err := setJSON(b, HoldingKey(h.MemberID, h.Market), h); err != nil {
			return err
		}
	}
	for _, o := range ch.Orders {
		if err := setJSON(b, OrderKey(o.ID), o); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func setJSON(b *pebble.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := b.Set([]byte(key), data, nil); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Replay calls fn once per stored row: wallets first, then holdings, then
// orders.
func (j *PebbleJournal) Replay(fn func(Changes) error) error {
	if err := scanPrefix(j.db, walletPrefix, func(val []byte) error {
		var w domain.Wallet
		if err := json.Unmarshal(val, &w); err != nil {
			return fmt.Errorf("unmarshal wallet: %w", err)
		}
		return fn(Changes{Wallets: []domain.Wallet{w}})
	}); err != nil {
		return err
	}

	if err := scanPrefix(j.db, holdingPrefix, func(val []byte) error {
		var h domain.Holding
		if err := json.Unmarshal(val, &h); err != nil {
			return fmt.Errorf("unmarshal holding: %w", err)
		}
		return fn(Changes{Holdings: []domain.Holding{h}})
	}); err != nil {
		return err
	}

	return scanPrefix(j.db, orderPrefix, func(val []byte) error {
		var o domain.Order
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("unmarshal order: %w", err)
		}
		return fn(Changes{Orders: []domain.Order{o}})
	})
}

func scanPrefix(db *pebble.DB, prefix string, fn func(val []byte) error) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
