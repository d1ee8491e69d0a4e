package view

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/denniswebb/iptpanel/internal/iptables"
)

func TestNewWatcherValidation(t *testing.T) {
	t.Parallel()

	v := New(newFakeBackend(), DefaultRetries, discardLogger())

	tests := []struct {
		name        string
		cfg         WatcherConfig
		expectError string
	}{
		{name: "missing view", cfg: WatcherConfig{Interval: time.Second}, expectError: "view is required"},
		{name: "zero interval", cfg: WatcherConfig{View: v}, expectError: "watch interval must be positive"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWatcher(tc.cfg)
			if err == nil || err.Error() != tc.expectError {
				t.Fatalf("expected %q, got %v", tc.expectError, err)
			}
		})
	}
}

func TestWatcherReportsOnlyChanges(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := New(backend, DefaultRetries, discardLogger())

	var mu sync.Mutex
	var updates []Snapshot
	w, err := NewWatcher(WatcherConfig{
		View:     v,
		Interval: 5 * time.Millisecond,
		Logger:   discardLogger(),
		OnUpdate: func(_ context.Context, snap Snapshot) {
			mu.Lock()
			updates = append(updates, snap)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	waitFor(t, func() bool { return w.Refreshes() >= 3 })

	backend.mu.Lock()
	backend.listings["filter/INPUT"] = append(backend.listings["filter/INPUT"],
		"3        0     0 REJECT     udp  --  *      *       0.0.0.0/0            0.0.0.0/0")
	backend.mu.Unlock()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) >= 2
	})

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 {
		t.Fatalf("expected initial and one change update, got %d", len(updates))
	}
	if got := iptables.RuleCount(updates[1].Rows); got != 3 {
		t.Fatalf("expected 3 rules after change, got %d", got)
	}
}

func TestWatcherFetchesSelectionOnce(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.listings["nat/POSTROUTING"] = []string{"Chain POSTROUTING (policy ACCEPT)"}
	v := New(backend, DefaultRetries, discardLogger())
	if err := v.SetSelection("nat", "POSTROUTING"); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}

	updated := make(chan Snapshot, 1)
	w, err := NewWatcher(WatcherConfig{
		View:     v,
		Interval: time.Hour,
		Logger:   discardLogger(),
		OnUpdate: func(_ context.Context, snap Snapshot) { updated <- snap },
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	var snap Snapshot
	select {
	case snap = <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reported the initial listing")
	}
	cancel()
	<-done

	if snap.Table != "nat" || snap.Chain != "POSTROUTING" {
		t.Fatalf("expected nat/POSTROUTING, got %s/%s", snap.Table, snap.Chain)
	}
	if backend.listCount() != 1 {
		t.Fatalf("expected exactly one fetch before the first tick, got %d", backend.listCount())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
