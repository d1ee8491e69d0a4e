package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/denniswebb/iptpanel/internal/client"
	"github.com/denniswebb/iptpanel/internal/iptables"
	"github.com/denniswebb/iptpanel/internal/validation"
)

// MessageType classifies the status message.
type MessageType string

const (
	MessageInfo    MessageType = "info"
	MessageSuccess MessageType = "success"
	MessageError   MessageType = "error"
)

var (
	// ErrBusy is returned when a mutation is requested while a fetch or
	// another mutation is running.
	ErrBusy = errors.New("view: another action is in progress")
	// ErrInvalidSelection reports an unknown table or a chain outside it.
	ErrInvalidSelection = errors.New("view: invalid table or chain")
	// ErrInvalidInput reports a rule field rejected before sending.
	ErrInvalidInput = errors.New("view: invalid input")
	// ErrInvalidIndex reports a delete index outside the current listing.
	ErrInvalidIndex = errors.New("view: invalid rule number")
)

const (
	msgInvalidSelection = "invalid table or chain"
	msgLoading          = "loading rules..."
	msgFetchFailed      = "failed to fetch rules"
	msgChainAction      = "chain and action must be selected"
	msgInvalidIndex     = "enter a valid rule number to delete"
)

// Backend is the API surface the view drives.
type Backend interface {
	Lister
	Add(ctx context.Context, spec iptables.AddSpec) (string, error)
	Delete(ctx context.Context, spec iptables.DeleteSpec) (string, error)
	AddRaw(ctx context.Context, spec iptables.RawSpec) (string, error)
}

// Snapshot is a consistent copy of the view state for rendering.
type Snapshot struct {
	Table       string
	Chain       string
	Rows        []iptables.Row
	Busy        bool
	Message     string
	MessageType MessageType
}

// View is one operator's session: the selected table and chain, the last
// listing, and the status message. Methods are safe for concurrent use.
type View struct {
	backend Backend
	fetcher *Fetcher
	logger  *slog.Logger

	mu          sync.Mutex
	table       string
	chain       string
	rows        []iptables.Row
	applied     uint64
	message     string
	messageType MessageType
	mutating    bool
}

// New returns a View on filter/INPUT with no listing loaded.
func New(backend Backend, retries int, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		backend:     backend,
		fetcher:     NewFetcher(backend, retries, logger),
		logger:      logger.With(slog.String("component", "view")),
		table:       iptables.TableFilter,
		chain:       "INPUT",
		rows:        []iptables.Row{},
		messageType: MessageInfo,
	}
}

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	busy := v.fetcher.Busy()

	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		Table:       v.table,
		Chain:       v.chain,
		Rows:        v.rows,
		Busy:        busy || v.mutating,
		Message:     v.message,
		MessageType: v.messageType,
	}
}

// Busy reports whether a fetch or mutation is running.
func (v *View) Busy() bool {
	if v.fetcher.Busy() {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mutating
}

// RuleCount returns the number of rule rows in the current listing.
func (v *View) RuleCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return iptables.RuleCount(v.rows)
}

// SetTable selects table. When the current chain does not exist in it the
// first chain of the table is selected. The listing is then refreshed.
func (v *View) SetTable(ctx context.Context, table string) error {
	v.mu.Lock()
	if !validation.ValidTable(table) {
		v.setMessageLocked(msgInvalidSelection, MessageError)
		v.mu.Unlock()
		return fmt.Errorf("%w: table %q", ErrInvalidSelection, table)
	}
	v.table = table
	if !validation.ValidChain(table, v.chain) {
		v.chain = iptables.Chains(table)[0]
	}
	v.mu.Unlock()

	return v.Refresh(ctx)
}

// SetChain selects chain in the current table and refreshes the listing.
func (v *View) SetChain(ctx context.Context, chain string) error {
	v.mu.Lock()
	if !validation.ValidChain(v.table, chain) {
		v.setMessageLocked(msgInvalidSelection, MessageError)
		v.mu.Unlock()
		return fmt.Errorf("%w: chain %q in %s", ErrInvalidSelection, chain, v.table)
	}
	v.chain = chain
	v.mu.Unlock()

	return v.Refresh(ctx)
}

// Select sets both table and chain and refreshes once.
func (v *View) Select(ctx context.Context, table string, chain string) error {
	if err := v.SetSelection(table, chain); err != nil {
		return err
	}
	return v.Refresh(ctx)
}

// SetSelection sets table and chain without fetching. Callers that poll
// on their own schedule use it so the first listing is not fetched twice.
func (v *View) SetSelection(table string, chain string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !validation.ValidChain(table, chain) {
		v.setMessageLocked(msgInvalidSelection, MessageError)
		return fmt.Errorf("%w: %s/%s", ErrInvalidSelection, table, chain)
	}
	v.table, v.chain = table, chain
	return nil
}

// Refresh fetches the current chain. A fetch superseded by a newer one
// leaves the state untouched and returns nil. After the retries are
// exhausted the rows are cleared and the last error is returned.
func (v *View) Refresh(ctx context.Context) error {
	return v.refresh(ctx, true)
}

func (v *View) refresh(ctx context.Context, announce bool) error {
	v.mu.Lock()
	table, chain := v.table, v.chain
	if !validation.ValidChain(table, chain) {
		v.setMessageLocked(msgInvalidSelection, MessageError)
		v.mu.Unlock()
		return ErrInvalidSelection
	}
	prevMessage, prevType := v.message, v.messageType
	if announce {
		v.setMessageLocked(msgLoading, MessageInfo)
	}
	v.mu.Unlock()

	result := v.fetcher.Fetch(ctx, table, chain)

	v.mu.Lock()
	defer v.mu.Unlock()
	if result.State == StateCancelled {
		// Abandoned by the caller with nothing newer in flight.
		if announce && !result.Superseded && v.message == msgLoading {
			v.setMessageLocked(prevMessage, prevType)
		}
		return nil
	}
	if result.Generation < v.applied {
		return nil
	}
	v.applied = result.Generation

	switch result.State {
	case StateSucceeded:
		v.rows = iptables.ParseListing(result.Lines)
		if announce {
			v.setMessageLocked("", MessageInfo)
		}
		return nil
	default:
		v.rows = []iptables.Row{}
		v.setMessageLocked(msgFetchFailed, MessageError)
		return fmt.Errorf("fetch %s/%s: %w", table, chain, result.Err)
	}
}

// AddRule appends a structured rule to the selected table. Empty Table and
// Chain fields take the view's selection. Addresses and ports are checked
// before anything is sent; on success the listing is refreshed.
func (v *View) AddRule(ctx context.Context, spec iptables.AddSpec) error {
	v.mu.Lock()
	if spec.Table == "" {
		spec.Table = v.table
	}
	if spec.Chain == "" {
		spec.Chain = v.chain
	}
	v.mu.Unlock()

	if spec.Chain == "" || spec.Action == "" {
		return v.reject(msgChainAction, fmt.Errorf("%w: chain and action", iptables.ErrMissingParameter))
	}
	if msg := checkAddSpec(spec); msg != "" {
		return v.reject(msg, fmt.Errorf("%w: %s", ErrInvalidInput, msg))
	}

	return v.mutate(ctx, "adding rule...", func(ctx context.Context) (string, error) {
		return v.backend.Add(ctx, spec)
	})
}

// DeleteRule deletes rule number index from the selected chain. The index
// must be an integer between 1 and the number of rules in the current
// listing.
func (v *View) DeleteRule(ctx context.Context, index string) error {
	n, err := strconv.Atoi(strings.TrimSpace(index))
	count := v.RuleCount()
	if err != nil || n < 1 || n > count {
		return v.reject(msgInvalidIndex, fmt.Errorf("%w: %q (listing has %d rules)", ErrInvalidIndex, index, count))
	}

	v.mu.Lock()
	spec := iptables.DeleteSpec{Table: v.table, Chain: v.chain, Index: n}
	v.mu.Unlock()

	return v.mutate(ctx, "deleting rule...", func(ctx context.Context) (string, error) {
		return v.backend.Delete(ctx, spec)
	})
}

// AddRawRule sends free-form rule text against the selected table. Blank
// text is ignored.
func (v *View) AddRawRule(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	v.mu.Lock()
	spec := iptables.RawSpec{Table: v.table, Rule: text}
	v.mu.Unlock()

	return v.mutate(ctx, "adding manual rule...", func(ctx context.Context) (string, error) {
		return v.backend.AddRaw(ctx, spec)
	})
}

// mutate runs op with the busy flag held, records the outcome message and
// re-fetches the listing after a success.
func (v *View) mutate(ctx context.Context, progress string, op func(ctx context.Context) (string, error)) error {
	busy := v.fetcher.Busy()
	v.mu.Lock()
	if busy || v.mutating {
		v.mu.Unlock()
		return ErrBusy
	}
	v.mutating = true
	v.setMessageLocked(progress, MessageInfo)
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.mutating = false
		v.mu.Unlock()
	}()

	msg, err := op(ctx)
	if err != nil {
		v.logger.Warn("rule mutation failed", slog.Any("error", err))
		v.mu.Lock()
		v.setMessageLocked(describe(err), MessageError)
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	v.setMessageLocked(msg, MessageSuccess)
	v.mu.Unlock()

	// The success message stays visible across the re-fetch; a fetch
	// failure replaces it.
	if err := v.refresh(ctx, false); err != nil {
		v.logger.Warn("refresh after mutation failed", slog.Any("error", err))
	}
	return nil
}

func (v *View) reject(msg string, err error) error {
	v.mu.Lock()
	v.setMessageLocked(msg, MessageError)
	v.mu.Unlock()
	return err
}

func (v *View) setMessageLocked(msg string, kind MessageType) {
	v.message = msg
	v.messageType = kind
}

func checkAddSpec(spec iptables.AddSpec) string {
	switch {
	case !validation.ValidAddress(spec.SrcIP):
		return "invalid source IP"
	case !validation.ValidAddress(spec.DestIP):
		return "invalid destination IP"
	case !validation.ValidPort(spec.SrcPort):
		return "invalid source port"
	case !validation.ValidPort(spec.DestPort):
		return "invalid destination port"
	}
	return ""
}

// describe renders err for the status line, keeping the server's iptables
// diagnostic verbatim.
func describe(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			return apiErr.Message + ": " + apiErr.Detail
		}
		return apiErr.Message
	}
	return err.Error()
}
