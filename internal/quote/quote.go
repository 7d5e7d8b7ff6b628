// Package quote provides the best ask/bid snapshot the sweeper fills
// against. The market-data pipeline that feeds it lives outside this module;
// it pushes quotes into a Cache.
package quote

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable means no usable quote exists for the market right now.
var ErrUnavailable = errors.New("quote_unavailable")

// Quote is the top of book for one market.
type Quote struct {
	Market string
	Ask    decimal.Decimal // best ask; zero when the ask side is empty
	Bid    decimal.Decimal // best bid; zero when the bid side is empty
	At     time.Time
}

// Source returns the current best quote for a market. Any error is treated
// by callers as "unavailable".
type Source interface {
	BestQuote(ctx context.Context, market string) (Quote, error)
}

// WithTimeout bounds every lookup on src to d. A lookup that does not
// return in time yields ErrUnavailable, even if src ignores its context.
func WithTimeout(src Source, d time.Duration) Source {
	if d <= 0 {
		return src
	}
	return &timeoutSource{src: src, timeout: d}
}

type timeoutSource struct {
	src     Source
	timeout time.Duration
}

type lookupResult struct {
	q   Quote
	err error
}

func (t *timeoutSource) BestQuote(ctx context.Context, market string) (Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ch := make(chan lookupResult, 1)
	go func() {
		q, err := t.src.BestQuote(ctx, market)
		ch <- lookupResult{q: q, err: err}
	}()

	select {
	case r := <-ch:
		return r.q, r.err
	case <-ctx.Done():
		return Quote{}, ErrUnavailable
	}
}
