package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/efreitasn/escrowexchange/internal/domain"
)

// Cache is an in-memory Source holding the latest quote per market.
type Cache struct {
	maxAge time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	quotes   map[string]Quote
	onUpdate []func(Quote)
}

// NewCache creates an empty Cache. Quotes older than maxAge are reported as
// unavailable; maxAge <= 0 disables the check.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		maxAge: maxAge,
		now:    time.Now,
		quotes: make(map[string]Quote),
	}
}

// OnUpdate registers fn to be called after every accepted Set.
func (c *Cache) OnUpdate(fn func(Quote)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = append(c.onUpdate, fn)
}

// Set stores q as the latest quote for q.Market. A zero At is stamped with
// the current time.
func (c *Cache) Set(q Quote) error {
	if q.Market == "" {
		return fmt.Errorf("market is required")
	}
	if err := domain.CheckAmount("ask", q.Ask); err != nil {
		return err
	}
	if err := domain.CheckAmount("bid", q.Bid); err != nil {
		return err
	}
	if q.Ask.IsNegative() || q.Bid.IsNegative() {
		return fmt.Errorf("ask and bid must not be negative")
	}
	if !q.Ask.IsPositive() && !q.Bid.IsPositive() {
		return fmt.Errorf("at least one of ask and bid must be positive")
	}
	if q.At.IsZero() {
		q.At = c.now()
	}

	c.mu.Lock()
	c.quotes[q.Market] = q
	hooks := c.onUpdate
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(q)
	}
	return nil
}

// BestQuote implements Source.
func (c *Cache) BestQuote(ctx context.Context, market string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, ErrUnavailable
	}

	c.mu.RLock()
	q, ok := c.quotes[market]
	c.mu.RUnlock()

	if !ok {
		return Quote{}, ErrUnavailable
	}
	if c.maxAge > 0 && c.now().Sub(q.At) > c.maxAge {
		return Quote{}, ErrUnavailable
	}
	return q, nil
}
