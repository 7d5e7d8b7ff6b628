package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/quote"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// SweepReport counts what one sweep did with each WAITING order it saw.
type SweepReport struct {
	Scanned     int
	Filled      int
	Failed      int
	Unavailable int // no quote for the market this pass
	NotEligible int
	Stale       int // left WAITING between the scan and the lock
	Errors      int
}

func (r *SweepReport) add(o SweepReport) {
	r.Filled += o.Filled
	r.Failed += o.Failed
	r.Unavailable += o.Unavailable
	r.NotEligible += o.NotEligible
	r.Stale += o.Stale
	r.Errors += o.Errors
}

// Sweeper periodically checks every WAITING order against the current
// quote of its market and settles the ones whose limit is reached.
type Sweeper struct {
	interval    time.Duration
	concurrency int
	store       *store.Store
	quotes      quote.Source
	settler     *Settler
	logger      *slog.Logger
	trigger     chan struct{}
	done        chan struct{}
}

// NewSweeper creates a Sweeper. quoteTimeout bounds each quote lookup;
// concurrency bounds how many markets are swept at once.
func NewSweeper(
	interval time.Duration,
	concurrency int,
	quoteTimeout time.Duration,
	st *store.Store,
	quotes quote.Source,
	settler *Settler,
	logger *slog.Logger,
) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sweeper{
		interval:    interval,
		concurrency: concurrency,
		store:       st,
		quotes:      quote.WithTimeout(quotes, quoteTimeout),
		settler:     settler,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that sweeps on every tick and on
// every Trigger. It stops when ctx is cancelled; Done is closed once the
// in-flight sweep has returned. Start must be called at most once.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.trigger:
				s.Sweep(ctx)
			}
		}
	}()
}

// Done is closed when the goroutine started by Start exits.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

// Trigger asks for a sweep as soon as the current one finishes. Calls made
// while a request is already pending are coalesced. Never blocks.
func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Sweep runs one pass over the WAITING orders, oldest request first within
// each market. Markets are swept in parallel. A failure on one order is
// logged and counted and does not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	start := time.Now()
	orders := s.store.WaitingOrders()
	report := SweepReport{Scanned: len(orders)}
	if len(orders) == 0 {
		return report
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, batch := range byMarket(orders) {
		g.Go(func() error {
			r := s.sweepMarket(ctx, batch)
			mu.Lock()
			report.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.DebugContext(ctx, "sweep finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("filled", report.Filled),
		slog.Int("failed", report.Failed),
		slog.Int("unavailable", report.Unavailable),
		slog.Int("errors", report.Errors),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report
}

// byMarket splits orders by market, keeping their relative order.
func byMarket(orders []domain.Order) [][]domain.Order {
	index := make(map[string]int)
	var batches [][]domain.Order
	for _, o := range orders {
		i, ok := index[o.Market]
		if !ok {
			i = len(batches)
			index[o.Market] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], o)
	}
	return batches
}

func (s *Sweeper) sweepMarket(ctx context.Context, orders []domain.Order) SweepReport {
	var r SweepReport
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		s.sweepOrder(ctx, order, &r)
	}
	return r
}

func (s *Sweeper) sweepOrder(ctx context.Context, order domain.Order, r *SweepReport) {
	q, err := s.quotes.BestQuote(ctx, order.Market)
	if err != nil {
		if !errors.Is(err, quote.ErrUnavailable) {
			s.logger.WarnContext(ctx, "quote lookup failed",
				slog.String("market", order.Market),
				slog.String("error", err.Error()),
			)
		}
		r.Unavailable++
		return
	}

	price, ok := fillPrice(order, q)
	if !ok {
		r.NotEligible++
		return
	}

	outcome, err := s.settler.Settle(ctx, order.ID, price)
	switch outcome {
	case OutcomeFilled:
		r.Filled++
	case OutcomeFailed:
		r.Failed++
	case OutcomeStale:
		r.Stale++
	default:
		r.Errors++
		s.logger.WarnContext(ctx, "settlement not applied, will retry",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// fillPrice returns the price order would execute at under q: the ask for
// a BUY, the bid for a SELL. ok is false when that price does not reach
// the order's limit.
func fillPrice(order domain.Order, q quote.Quote) (price decimal.Decimal, ok bool) {
	price = q.Ask
	if order.Side == domain.OrderSideSell {
		price = q.Bid
	}
	return price, order.Eligible(price)
}
