package view

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/denniswebb/iptpanel/internal/client"
	"github.com/denniswebb/iptpanel/internal/iptables"
)

const inputListing = "Chain INPUT (policy ACCEPT 0 packets, 0 bytes)\n" +
	"num   pkts bytes target     prot opt in     out     source               destination\n" +
	"1        0     0 ACCEPT     all  --  lo     *       0.0.0.0/0            0.0.0.0/0\n" +
	"2       12   720 DROP       tcp  --  *      *       10.0.0.0/8           0.0.0.0/0            tcp dpt:22"

// fakeBackend serves a fixed listing per chain and records mutations.
type fakeBackend struct {
	mu        sync.Mutex
	listings  map[string][]string
	listErr   error
	listCalls []string
	mutations []any
	mutateErr error
	gate      chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{listings: map[string][]string{
		"filter/INPUT": iptables.SplitLines(inputListing),
	}}
}

func (b *fakeBackend) List(ctx context.Context, table string, chain string) ([]string, error) {
	b.mu.Lock()
	b.listCalls = append(b.listCalls, table+"/"+chain)
	gate := b.gate
	err := b.listErr
	lines := b.listings[table+"/"+chain]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return append([]string(nil), lines...), nil
}

func (b *fakeBackend) record(spec any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mutations = append(b.mutations, spec)
	if b.mutateErr != nil {
		return "", b.mutateErr
	}
	return "done", nil
}

func (b *fakeBackend) Add(_ context.Context, spec iptables.AddSpec) (string, error) {
	return b.record(spec)
}

func (b *fakeBackend) Delete(_ context.Context, spec iptables.DeleteSpec) (string, error) {
	return b.record(spec)
}

func (b *fakeBackend) AddRaw(_ context.Context, spec iptables.RawSpec) (string, error) {
	return b.record(spec)
}

func (b *fakeBackend) listCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listCalls)
}

func (b *fakeBackend) mutationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mutations)
}

func loadedView(t *testing.T, backend *fakeBackend) *View {
	t.Helper()
	v := New(backend, DefaultRetries, discardLogger())
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	return v
}

func TestRefreshParsesListing(t *testing.T) {
	t.Parallel()

	v := loadedView(t, newFakeBackend())
	snap := v.Snapshot()

	if len(snap.Rows) != 3 {
		t.Fatalf("expected header plus two rules, got %d rows", len(snap.Rows))
	}
	if snap.Rows[0].Kind != iptables.RowChainHeader {
		t.Fatalf("expected chain header first, got %+v", snap.Rows[0])
	}
	if snap.Rows[2].Action != iptables.ActionDrop || snap.Rows[2].ProtocolName != "tcp" {
		t.Fatalf("unexpected second rule %+v", snap.Rows[2])
	}
	if snap.Message != "" || snap.Busy {
		t.Fatalf("expected cleared message and idle view, got %q busy=%v", snap.Message, snap.Busy)
	}
	if v.RuleCount() != 2 {
		t.Fatalf("expected 2 rules, got %d", v.RuleCount())
	}
}

func TestRefreshFailureClearsRows(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)

	backend.mu.Lock()
	backend.listErr = &client.APIError{StatusCode: http.StatusInternalServerError, Message: "failed to fetch iptables rules"}
	backend.mu.Unlock()

	err := v.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected refresh error")
	}
	snap := v.Snapshot()
	if len(snap.Rows) != 0 || snap.MessageType != MessageError || snap.Message != msgFetchFailed {
		t.Fatalf("unexpected state after failure: %+v", snap)
	}
	// One initial listing plus four attempts.
	if got := backend.listCount(); got != 5 {
		t.Fatalf("expected 5 list calls, got %d", got)
	}
}

func TestSetTableResetsChain(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)

	if err := v.SetTable(context.Background(), iptables.TableNAT); err != nil {
		t.Fatalf("SetTable: %v", err)
	}
	snap := v.Snapshot()
	if snap.Table != "nat" || snap.Chain != "PREROUTING" {
		t.Fatalf("expected nat/PREROUTING, got %s/%s", snap.Table, snap.Chain)
	}

	// OUTPUT exists in both nat and raw, so it is kept.
	if err := v.SetChain(context.Background(), "OUTPUT"); err != nil {
		t.Fatalf("SetChain: %v", err)
	}
	if err := v.SetTable(context.Background(), iptables.TableRaw); err != nil {
		t.Fatalf("SetTable: %v", err)
	}
	if snap := v.Snapshot(); snap.Chain != "OUTPUT" {
		t.Fatalf("expected chain to be kept, got %s", snap.Chain)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := New(backend, DefaultRetries, discardLogger())

	if err := v.Select(context.Background(), "mangle", "FORWARD"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if backend.listCount() != 1 {
		t.Fatalf("expected a single fetch, got %d", backend.listCount())
	}
	if err := v.Select(context.Background(), "raw", "INPUT"); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	if snap := v.Snapshot(); snap.Table != "mangle" || snap.Chain != "FORWARD" {
		t.Fatalf("invalid selection must keep the previous one, got %s/%s", snap.Table, snap.Chain)
	}
}

func TestSetSelectionDoesNotFetch(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := New(backend, DefaultRetries, discardLogger())

	if err := v.SetSelection("nat", "OUTPUT"); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	if backend.listCount() != 0 {
		t.Fatalf("expected no fetch, got %d", backend.listCount())
	}
	if snap := v.Snapshot(); snap.Table != "nat" || snap.Chain != "OUTPUT" {
		t.Fatalf("unexpected selection %s/%s", snap.Table, snap.Chain)
	}
	if err := v.SetSelection("nat", "FORWARD"); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestInvalidSelection(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)
	calls := backend.listCount()

	if err := v.SetTable(context.Background(), "broute"); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	if err := v.SetChain(context.Background(), "PREROUTING"); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	if backend.listCount() != calls {
		t.Fatal("invalid selection must not fetch")
	}
	if snap := v.Snapshot(); snap.Message != msgInvalidSelection || snap.Table != "filter" || snap.Chain != "INPUT" {
		t.Fatalf("unexpected state %+v", snap)
	}
}

func TestAddRuleValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec iptables.AddSpec
		want string
	}{
		{"missing action", iptables.AddSpec{}, msgChainAction},
		{"bad source", iptables.AddSpec{SrcIP: "10.0.0.256", Action: "DROP"}, "invalid source IP"},
		{"bad destination prefix", iptables.AddSpec{DestIP: "10.0.0.0/33", Action: "DROP"}, "invalid destination IP"},
		{"bad source port", iptables.AddSpec{Protocol: "tcp", SrcPort: "0", Action: "DROP"}, "invalid source port"},
		{"bad destination port", iptables.AddSpec{Protocol: "udp", DestPort: "http", Action: "DROP"}, "invalid destination port"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			backend := newFakeBackend()
			v := loadedView(t, backend)

			if err := v.AddRule(context.Background(), tc.spec); err == nil {
				t.Fatal("expected validation error")
			}
			snap := v.Snapshot()
			if snap.Message != tc.want || snap.MessageType != MessageError {
				t.Fatalf("expected %q error message, got %q (%s)", tc.want, snap.Message, snap.MessageType)
			}
			if backend.mutationCount() != 0 {
				t.Fatal("invalid rule must not be sent")
			}
		})
	}
}

func TestAddRuleSendsAndRefetches(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)
	before := backend.listCount()

	err := v.AddRule(context.Background(), iptables.AddSpec{Protocol: "tcp", DestPort: "443", Action: "ACCEPT"})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	backend.mu.Lock()
	got := backend.mutations[0].(iptables.AddSpec)
	backend.mu.Unlock()
	if got.Table != "filter" || got.Chain != "INPUT" || got.DestPort != "443" {
		t.Fatalf("unexpected spec sent: %+v", got)
	}
	if backend.listCount() != before+1 {
		t.Fatalf("expected one re-fetch, got %d", backend.listCount()-before)
	}
	snap := v.Snapshot()
	if snap.Message != "done" || snap.MessageType != MessageSuccess || snap.Busy {
		t.Fatalf("unexpected state %+v", snap)
	}
}

func TestMutationFailureKeepsDiagnostic(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.mutateErr = &client.APIError{
		StatusCode: http.StatusInternalServerError,
		Message:    "failed to add manual rule",
		Detail:     "iptables v1.8.7 (nf_tables): unknown option \"--dprot\"",
	}
	v := loadedView(t, backend)
	before := backend.listCount()

	if err := v.AddRawRule(context.Background(), "-A INPUT -p tcp --dprot 22 -j ACCEPT"); err == nil {
		t.Fatal("expected error")
	}
	snap := v.Snapshot()
	want := "failed to add manual rule: iptables v1.8.7 (nf_tables): unknown option \"--dprot\""
	if snap.Message != want || snap.MessageType != MessageError {
		t.Fatalf("expected %q, got %q", want, snap.Message)
	}
	if backend.listCount() != before {
		t.Fatal("failed mutation must not re-fetch")
	}
}

func TestDeleteRuleBounds(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)

	for _, index := range []string{"0", "3", "-1", "abc", "", "1.5"} {
		if err := v.DeleteRule(context.Background(), index); !errors.Is(err, ErrInvalidIndex) {
			t.Fatalf("index %q: expected ErrInvalidIndex, got %v", index, err)
		}
	}
	if backend.mutationCount() != 0 {
		t.Fatal("out of range index must not be sent")
	}

	if err := v.DeleteRule(context.Background(), " 2 "); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	backend.mu.Lock()
	got := backend.mutations[0].(iptables.DeleteSpec)
	backend.mu.Unlock()
	if got != (iptables.DeleteSpec{Table: "filter", Chain: "INPUT", Index: 2}) {
		t.Fatalf("unexpected delete spec %+v", got)
	}
}

func TestAddRawRuleBlankIsNoop(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)
	before := v.Snapshot()

	if err := v.AddRawRule(context.Background(), "   \t"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if backend.mutationCount() != 0 {
		t.Fatal("blank raw rule must not be sent")
	}
	if after := v.Snapshot(); after.Message != before.Message {
		t.Fatalf("blank raw rule must not change the message, got %q", after.Message)
	}
}

func TestMutationWhileFetchingIsBusy(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)

	backend.mu.Lock()
	backend.gate = make(chan struct{})
	gate := backend.gate
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- v.Refresh(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !v.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !v.Busy() {
		t.Fatal("expected view to be busy during fetch")
	}

	if err := v.AddRawRule(context.Background(), "-A INPUT -j ACCEPT"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if v.Busy() {
		t.Fatal("expected view to be idle after fetch")
	}
}

func TestSupersededRefreshIsDiscarded(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.listings["filter/OUTPUT"] = []string{"Chain OUTPUT (policy ACCEPT)"}
	v := loadedView(t, backend)

	backend.mu.Lock()
	backend.gate = make(chan struct{})
	backend.mu.Unlock()

	first := make(chan error, 1)
	go func() { first <- v.Refresh(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !v.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	backend.mu.Lock()
	backend.gate = nil
	backend.mu.Unlock()

	if err := v.SetChain(context.Background(), "OUTPUT"); err != nil {
		t.Fatalf("SetChain: %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("superseded refresh must be silent, got %v", err)
	}

	snap := v.Snapshot()
	if snap.Chain != "OUTPUT" || len(snap.Rows) != 1 || snap.MessageType == MessageError {
		t.Fatalf("expected OUTPUT listing to win, got %+v", snap)
	}
}

func TestCancelledRefreshRestoresMessage(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	v := loadedView(t, backend)
	if err := v.AddRawRule(context.Background(), "-A INPUT -j ACCEPT"); err != nil {
		t.Fatalf("AddRawRule: %v", err)
	}
	before := v.Snapshot()

	backend.mu.Lock()
	backend.gate = make(chan struct{})
	backend.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Refresh(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !v.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if msg := v.Snapshot().Message; msg != msgLoading {
		t.Fatalf("expected loading message during fetch, got %q", msg)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("cancelled refresh must be silent, got %v", err)
	}

	after := v.Snapshot()
	if after.Message != before.Message || after.MessageType != before.MessageType {
		t.Fatalf("expected message %q (%s) restored, got %q (%s)", before.Message, before.MessageType, after.Message, after.MessageType)
	}
	if len(after.Rows) != len(before.Rows) {
		t.Fatalf("cancelled refresh must keep rows, got %d want %d", len(after.Rows), len(before.Rows))
	}
}
