package view

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// UpdateHandler is called with each snapshot whose listing differs from the
// previous one, and once for the first snapshot.
type UpdateHandler func(ctx context.Context, snap Snapshot)

// WatcherConfig holds the dependencies and settings for a Watcher.
type WatcherConfig struct {
	View     *View
	Interval time.Duration
	Logger   *slog.Logger
	OnUpdate UpdateHandler
}

// Watcher refreshes a View on a fixed interval and reports listing changes.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger

	mu          sync.RWMutex
	fingerprint string
	observed    bool
	refreshes   int
}

// NewWatcher validates cfg and returns a Watcher ready to run.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.View == nil {
		return nil, fmt.Errorf("view is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "watcher")),
	}, nil
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("starting listing watcher", slog.String("interval", w.cfg.Interval.String()))

	ticker := time.NewTicker(w.cfg.Interval)
	defer func() {
		ticker.Stop()
		w.logger.Info("stopping listing watcher")
	}()

	w.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// Refreshes returns how many refreshes have completed.
func (w *Watcher) Refreshes() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.refreshes
}

func (w *Watcher) pollOnce(ctx context.Context) {
	if err := w.cfg.View.Refresh(ctx); err != nil {
		w.logger.Warn("listing refresh failed", slog.Any("error", err))
	}
	if ctx.Err() != nil {
		return
	}

	snap := w.cfg.View.Snapshot()
	current := fingerprint(snap)

	w.mu.Lock()
	w.refreshes++
	first := !w.observed
	changed := first || current != w.fingerprint
	w.fingerprint = current
	w.observed = true
	w.mu.Unlock()

	switch {
	case first:
		w.logger.Debug("initial listing observed", slog.Int("rows", len(snap.Rows)))
	case changed:
		w.logger.Info("listing changed",
			slog.String("table", snap.Table),
			slog.String("chain", snap.Chain),
			slog.Int("rows", len(snap.Rows)),
		)
	default:
		w.logger.Debug("listing unchanged")
		return
	}

	if w.cfg.OnUpdate != nil {
		w.cfg.OnUpdate(ctx, snap)
	}
}

// fingerprint identifies what is displayed: the selection, the raw rows
// including counters, and the status message.
func fingerprint(snap Snapshot) string {
	var b strings.Builder
	b.WriteString(snap.Table)
	b.WriteByte('/')
	b.WriteString(snap.Chain)
	b.WriteByte('\n')
	for _, row := range snap.Rows {
		b.WriteString(row.Raw)
		b.WriteByte('\n')
	}
	b.WriteString(string(snap.MessageType))
	b.WriteString(snap.Message)
	return b.String()
}
