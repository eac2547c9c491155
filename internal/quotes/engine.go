package quotes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine polls the Fetcher for one (direction, pair) key and
// multicasts every quote to all subscribers. One engine instance
// serves one active transaction; StartPolling for a second key while
// the first is live is an error.
type Engine struct {
	logger   *zap.Logger
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	running   bool
	stopped   bool
	direction OrderDirection
	pair      OrderPair
	amount    decimal.Decimal
	latest    *PricedQuote
	subs      map[int]chan PricedQuote
	nextSub   int
	firstDone chan struct{}
	stopChan  chan struct{}
	doneChan  chan struct{}

	fetchTotal  prometheus.Counter
	fetchErrors prometheus.Counter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFetchTimeout bounds each individual fetch.
func WithFetchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithMetrics registers fetch counters on the given registerer.
func WithMetrics(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		e.fetchTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txengine",
			Subsystem: "quotes",
			Name:      "fetch_total",
			Help:      "Number of quote fetches attempted.",
		})
		e.fetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txengine",
			Subsystem: "quotes",
			Name:      "fetch_errors_total",
			Help:      "Number of quote fetches that failed.",
		})
		reg.MustRegister(e.fetchTotal, e.fetchErrors)
	}
}

// NewEngine creates a quote engine polling at the given interval.
func NewEngine(logger *zap.Logger, fetcher Fetcher, interval time.Duration, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:   logger,
		fetcher:  fetcher,
		interval: interval,
		timeout:  10 * time.Second,
		subs:     make(map[int]chan PricedQuote),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartPolling begins fetching quotes for the key and returns a
// subscriber channel. The first fetch happens immediately; subsequent
// fetches run on the poll interval. Calling StartPolling again with
// the same key adds a subscriber to the shared poll; a different key
// while polling is live is an error.
func (e *Engine) StartPolling(ctx context.Context, direction OrderDirection, pair OrderPair) (<-chan PricedQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		if e.direction != direction || e.pair != pair {
			return nil, fmt.Errorf("quote engine already polling %s %s", e.direction, e.pair)
		}
		return e.addSubscriberLocked(), nil
	}

	// A stopped engine re-arms: each StartPolling after a Stop begins
	// a fresh poll with a clean snapshot.
	e.stopped = false
	e.latest = nil
	e.running = true
	e.direction = direction
	e.pair = pair
	e.firstDone = make(chan struct{})
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})
	ch := e.addSubscriberLocked()

	go e.poll(ctx)

	return ch, nil
}

// Subscribe adds a listener to the active poll.
func (e *Engine) Subscribe() (<-chan PricedQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil, fmt.Errorf("quote engine is not polling")
	}
	return e.addSubscriberLocked(), nil
}

func (e *Engine) addSubscriberLocked() chan PricedQuote {
	ch := make(chan PricedQuote, 1)
	e.subs[e.nextSub] = ch
	e.nextSub++
	if e.latest != nil {
		ch <- *e.latest
	}
	return ch
}

// UpdateAmount records the latest user-entered amount. It does not
// force a fetch; the next scheduled tick prices against it.
func (e *Engine) UpdateAmount(amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.amount = amount
}

// Latest returns the most recent quote, waiting for the first fetch if
// none has landed yet. This is the take-one snapshot used when
// building confirmations.
func (e *Engine) Latest(ctx context.Context) (PricedQuote, error) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return PricedQuote{}, fmt.Errorf("quote engine is not polling")
	}
	if e.latest != nil {
		q := *e.latest
		e.mu.Unlock()
		return q, nil
	}
	firstDone := e.firstDone
	stopChan := e.stopChan
	e.mu.Unlock()

	select {
	case <-firstDone:
	case <-stopChan:
		return PricedQuote{}, fmt.Errorf("quote engine stopped before first quote")
	case <-ctx.Done():
		return PricedQuote{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return PricedQuote{}, fmt.Errorf("no quote available")
	}
	return *e.latest, nil
}

// Stop cancels the poll and closes all subscriber channels.
// Idempotent; the current poll emits no further values, and a later
// StartPolling re-arms the engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	var done chan struct{}
	if e.running {
		close(e.stopChan)
		done = e.doneChan
	}
	e.mu.Unlock()

	if done != nil {
		<-done
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}

func (e *Engine) poll(ctx context.Context) {
	defer close(e.doneChan)

	e.fetchOnce(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fetchOnce(ctx)
		}
	}
}

func (e *Engine) fetchOnce(ctx context.Context) {
	e.mu.Lock()
	direction, pair, amount := e.direction, e.pair, e.amount
	e.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.fetchTotal != nil {
		e.fetchTotal.Inc()
	}
	quote, err := e.fetcher.FetchQuote(fetchCtx, direction, pair, amount)
	if err != nil {
		// Polling self-heals; a failed fetch is retried on the next
		// tick and never terminates the stream.
		if e.fetchErrors != nil {
			e.fetchErrors.Inc()
		}
		e.logger.Warn("quote fetch failed",
			zap.String("pair", pair.String()),
			zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	first := e.latest == nil
	e.latest = &quote
	for _, ch := range e.subs {
		select {
		case ch <- quote:
		default:
			// Slow subscriber keeps only the newest quote.
			select {
			case <-ch:
			default:
			}
			ch <- quote
		}
	}
	if first {
		close(e.firstDone)
	}
}
