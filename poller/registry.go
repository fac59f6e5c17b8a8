// Package poller implements the Poller Registry (§4.7): a process-wide
// concurrent map of background tasks that wait for a mint quote to be paid
// and then drive its completion.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
)

const (
	// TickInterval is the §4.7 poll schedule default, used when Options
	// leaves Interval unset.
	TickInterval = 10 * time.Second

	// Budget is the §4.7 total time budget default, used when Options
	// leaves Timeout unset.
	Budget = 3 * time.Minute

	// DefaultMaxWorkers caps concurrent pollers when Options leaves
	// MaxWorkers unset.
	DefaultMaxWorkers = 1024

	// MaxConsecutiveErrors aborts a poller once this many ticks in a row
	// fail to reach the oracle (§4.7).
	MaxConsecutiveErrors = 3

	reasonTimeout = "Polling timeout"
)

// Options configures a Registry's schedule and concurrency, sourced from
// config.PollerConfig (§6.4). A zero value for any field falls back to the
// package default.
type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	MaxWorkers int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = TickInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = Budget
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	return o
}

// TickFunc is invoked once per tick for a registered poller. It must check
// the mint quote's state and, if paid, drive completion through to the
// ledger. done reports whether the poller should stop (either because
// completion succeeded or because it failed terminally); err distinguishes
// a transport-level check failure (done == false) from a completion
// failure (done == true).
type TickFunc func(ctx context.Context, key ecash.PollerKey, amount uint64) (done bool, err error)

type pollerState struct {
	key       ecash.PollerKey
	entryID   string
	amount    uint64
	startedAt time.Time
	cancel    context.CancelFunc
}

// Status is a point-in-time snapshot of one active poller (§4.7
// "observability").
type Status struct {
	Key     ecash.PollerKey
	Elapsed time.Duration
}

// Registry is the shared, lock-protected map of active pollers.
type Registry struct {
	store ledger.Store
	tick  TickFunc
	opts  Options

	sem     chan struct{}
	mu      sync.Mutex
	wg      sync.WaitGroup
	pollers map[ecash.PollerKey]*pollerState
}

// New returns a Registry that drives ticks through tick and marks entries
// failed through store, scheduled per opts (§6.4 poller.interval/timeout/
// maxworkers).
func New(store ledger.Store, tick TickFunc, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		store:   store,
		tick:    tick,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxWorkers),
		pollers: make(map[ecash.PollerKey]*pollerState),
	}
}

// Register starts a poller for key, rejecting the call if an identical key
// is already active (§4.7 "Start") or if MaxWorkers concurrent pollers are
// already running.
func (r *Registry) Register(ctx context.Context, entryID string, key ecash.PollerKey, amount uint64) error {
	r.mu.Lock()
	if _, exists := r.pollers[key]; exists {
		r.mu.Unlock()
		return ecash.New(ecash.KindState, "", "a poller is already active for this key", nil)
	}

	select {
	case r.sem <- struct{}{}:
	default:
		r.mu.Unlock()
		return ecash.New(ecash.KindState, "", "poller registry is at its configured maxworkers capacity", nil)
	}

	pollerCtx, cancel := context.WithCancel(ctx)
	state := &pollerState{
		key:       key,
		entryID:   entryID,
		amount:    amount,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	r.pollers[key] = state
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(pollerCtx, state)

	return nil
}

func (r *Registry) run(ctx context.Context, state *pollerState) {
	defer r.wg.Done()
	defer r.remove(state.key)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	deadline := time.NewTimer(r.opts.Timeout)
	defer deadline.Stop()

	var consecutiveErrors int

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			r.fail(context.Background(), state, reasonTimeout)
			return

		case <-ticker.C:
			done, err := r.tick(ctx, state.key, state.amount)
			switch {
			case err != nil && !done:
				consecutiveErrors++
				log.Warnf("poller: tick failed for %+v (%d/%d): %v",
					state.key, consecutiveErrors, MaxConsecutiveErrors, err)
				if consecutiveErrors >= MaxConsecutiveErrors {
					r.fail(ctx, state, "too many consecutive tick failures")
					return
				}
			case err != nil && done:
				r.fail(ctx, state, "completion failed: "+err.Error())
				return
			case done:
				return
			default:
				consecutiveErrors = 0
			}
		}
	}
}

func (r *Registry) fail(ctx context.Context, state *pollerState, reason string) {
	log.Errorf("poller: marking %+v failed: %s", state.key, reason)
	if err := r.store.MarkFailed(ctx, state.entryID, reason); err != nil {
		log.Errorf("poller: failed to mark entry %s failed: %v", state.entryID, err)
	}
}

func (r *Registry) remove(key ecash.PollerKey) {
	r.mu.Lock()
	delete(r.pollers, key)
	r.mu.Unlock()
	<-r.sem
}

// Status returns a snapshot of every active poller (§4.7).
func (r *Registry) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.pollers))
	for _, s := range r.pollers {
		out = append(out, Status{Key: s.key, Elapsed: time.Since(s.startedAt)})
	}
	return out
}

// CleanupAll cancels every active poller and waits for them to exit,
// the process shutdown hook of §4.7/§5.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	for _, s := range r.pollers {
		s.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}
