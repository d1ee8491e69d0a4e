package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denniswebb/iptpanel/internal/api"
	"github.com/denniswebb/iptpanel/internal/iptables"
)

type recordingExecutor struct {
	mu     sync.Mutex
	calls  [][]string
	output string
	err    error
}

func (r *recordingExecutor) Run(_ context.Context, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), args...))
	return r.output, r.err
}

func (r *recordingExecutor) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newPanel starts a real API server backed by exec.
func newPanel(t *testing.T, exec iptables.Executor) *Client {
	t.Helper()
	mgr := iptables.NewManager(exec, "/sbin/iptables", discardLogger())
	srv := api.NewServer(api.Config{CommandTimeout: time.Second}, mgr, nil, nil, discardLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := New(ts.URL, ts.Client(), discardLogger())
	require.NoError(t, err)
	return c
}

func TestNewAddsScheme(t *testing.T) {
	t.Parallel()

	c, err := New("10.0.0.5:5000", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:5000", c.BaseURL())

	c, err = New("https://panel.example/", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://panel.example", c.BaseURL())

	_, err = New("  ", nil, nil)
	assert.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{output: "Chain INPUT (policy ACCEPT)\n1 0 0 ACCEPT all -- lo * 0.0.0.0/0 0.0.0.0/0\n"}
	c := newPanel(t, exec)
	ctx := context.Background()

	lines, err := c.List(ctx, "filter", "INPUT")
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Equal(t, iptables.BuildList("filter", "INPUT"), exec.last())

	msg, err := c.Add(ctx, iptables.AddSpec{Table: "filter", Chain: "INPUT", Protocol: "udp", SrcPort: "53", Action: "accept"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-t", "filter", "-A", "INPUT", "-p", "udp", "--sport", "53", "-j", "ACCEPT"}, exec.last())
	assert.Contains(t, msg, "-j ACCEPT")

	msg, err = c.Delete(ctx, iptables.DeleteSpec{Table: "nat", Chain: "PREROUTING", Index: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"-t", "nat", "-D", "PREROUTING", "2"}, exec.last())
	assert.Equal(t, "rule 2 deleted from PREROUTING (nat)", msg)

	_, err = c.AddRaw(ctx, iptables.RawSpec{Table: "mangle", Rule: `-A OUTPUT -m comment --comment "web out" -j ACCEPT`})
	require.NoError(t, err)
	assert.Equal(t, []string{"-t", "mangle", "-A", "OUTPUT", "-m", "comment", "--comment", "web out", "-j", "ACCEPT"}, exec.last())
}

func TestClientDecodesServerFailure(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{err: &iptables.CommandError{Command: "iptables", Stderr: "iptables: Bad rule (does a matching rule exist in that chain?).", Err: errors.New("exit status 1")}}
	c := newPanel(t, exec)

	_, err := c.Delete(context.Background(), iptables.DeleteSpec{Table: "filter", Chain: "INPUT", Index: 9})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "failed to delete rule", apiErr.Message)
	assert.Equal(t, "iptables: Bad rule (does a matching rule exist in that chain?).", apiErr.Detail)
	assert.ErrorIs(t, err, ErrServer)
	assert.NotErrorIs(t, err, ErrBadRequest)
}

func TestClientDecodesBadRequest(t *testing.T) {
	t.Parallel()

	c := newPanel(t, &recordingExecutor{})

	_, err := c.Add(context.Background(), iptables.AddSpec{Table: "filter", Chain: "INPUT", SrcIP: "1.2.3", Action: "DROP"})
	require.ErrorIs(t, err, ErrBadRequest)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid source IP", apiErr.Message)
	assert.Empty(t, apiErr.Detail)
}

func TestClientNonJSONError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := New(ts.URL, ts.Client(), discardLogger())
	require.NoError(t, err)

	_, err = c.List(context.Background(), "filter", "INPUT")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
	assert.ErrorIs(t, err, ErrServer)
}

func TestClientSendsRequestID(t *testing.T) {
	t.Parallel()

	var gotID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(api.RequestIDHeader)
		_ = json.NewEncoder(w).Encode(api.ListResponse{})
	}))
	defer ts.Close()

	c, err := New(ts.URL, ts.Client(), discardLogger())
	require.NoError(t, err)

	lines, err := c.List(context.Background(), "filter", "INPUT")
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
	assert.NotEmpty(t, gotID)
}

func TestClientCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, err := New(ts.URL, ts.Client(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = c.List(ctx, "filter", "INPUT")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	err := &APIError{StatusCode: 500, Message: "failed to add rule", Detail: "iptables: No chain/target/match by that name."}
	assert.True(t, strings.HasPrefix(err.Error(), "api: HTTP 500: failed to add rule"))
	assert.Equal(t, "api: HTTP 400: bad request", ErrBadRequest.Error())
}
