// Package view holds the operator-facing session state: the selected table
// and chain, the parsed listing, and the status message shown next to it.
package view

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// DefaultRetries is the number of extra attempts after a failed listing.
const DefaultRetries = 3

// State is the lifecycle of one listing fetch.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSucceeded
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lister returns the raw listing lines of a chain.
type Lister interface {
	List(ctx context.Context, table string, chain string) ([]string, error)
}

// Result is the outcome of Fetch. Lines is empty unless State is
// StateSucceeded. Generation increases with every Fetch call and lets
// callers discard results older than one they already applied.
type Result struct {
	State      State
	Lines      []string
	Attempts   int
	Err        error
	Generation uint64
	// Superseded is set when a newer Fetch cancelled this one.
	Superseded bool
}

// Fetcher runs listing fetches with a bounded retry loop. Starting a fetch
// cancels the one in flight.
type Fetcher struct {
	lister  Lister
	retries int
	logger  *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	state      State
}

// NewFetcher returns a Fetcher that retries a failed listing up to retries
// times. A negative value uses DefaultRetries.
func NewFetcher(lister Lister, retries int, logger *slog.Logger) *Fetcher {
	if retries < 0 {
		retries = DefaultRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		lister:  lister,
		retries: retries,
		logger:  logger.With(slog.String("component", "fetcher")),
	}
}

// State reports the state of the most recent fetch.
func (f *Fetcher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Busy reports whether a fetch is in flight.
func (f *Fetcher) Busy() bool {
	return f.State() == StateFetching
}

// Cancel aborts the fetch in flight, if any. Only the local wait is
// abandoned; the request may still complete on the server.
func (f *Fetcher) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

// Fetch lists table/chain, making one attempt plus up to the configured
// number of immediate retries. Any error other than cancellation is
// retried. A fetch that is cancelled, either through ctx or by a newer
// Fetch, returns StateCancelled without an error.
func (f *Fetcher) Fetch(ctx context.Context, table string, chain string) Result {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = cancel
	f.generation++
	generation := f.generation
	f.state = StateFetching
	f.mu.Unlock()

	result := f.attempt(fetchCtx, table, chain)
	result.Generation = generation

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation != generation {
		// Superseded: a newer fetch owns the state.
		return Result{State: StateCancelled, Lines: []string{}, Attempts: result.Attempts, Generation: generation, Superseded: true}
	}
	f.cancel = nil
	f.state = result.State
	return result
}

func (f *Fetcher) attempt(ctx context.Context, table string, chain string) Result {
	var lastErr error
	for attempt := 1; attempt <= f.retries+1; attempt++ {
		lines, err := f.lister.List(ctx, table, chain)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return Result{State: StateCancelled, Lines: []string{}, Attempts: attempt}
		}
		if err == nil {
			if lines == nil {
				lines = []string{}
			}
			return Result{State: StateSucceeded, Lines: lines, Attempts: attempt}
		}

		lastErr = err
		if attempt <= f.retries {
			f.logger.Warn("listing failed, retrying",
				slog.String("table", table),
				slog.String("chain", chain),
				slog.Int("attempt", attempt),
				slog.Int("retries_left", f.retries+1-attempt),
				slog.Any("error", err),
			)
		}
	}

	f.logger.Error("listing failed",
		slog.String("table", table),
		slog.String("chain", chain),
		slog.Int("attempts", f.retries+1),
		slog.Any("error", lastErr),
	)
	return Result{State: StateFailed, Lines: []string{}, Attempts: f.retries + 1, Err: lastErr}
}
