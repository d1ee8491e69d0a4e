package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/denniswebb/iptpanel/internal/logging"
)

// HealthChecker reports readiness for the panel server. The panel is ready
// while its listener is up and the most recent iptables listing succeeded.
type HealthChecker struct {
	mu        sync.RWMutex
	listening bool
	listed    bool
	lastErr   error
	logger    *slog.Logger
}

// NewHealthChecker returns a HealthChecker with a logger derived from the shared logging package.
func NewHealthChecker() *HealthChecker {
	logger := logging.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthChecker{logger: logger}
}

// RecordListing stores the outcome of the latest iptables listing. A nil
// err marks iptables reachable; anything else marks it unreachable until
// the next successful listing.
func (h *HealthChecker) RecordListing(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listed = err == nil
	h.lastErr = err
}

// SetListening records that the API listener is accepting connections.
func (h *HealthChecker) SetListening() {
	h.mu.Lock()
	h.listening = true
	h.mu.Unlock()
}

// IsHealthy reports whether the listener is up and the last listing worked.
func (h *HealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listed && h.listening
}

// LastError returns the error of the latest failed listing, if any.
func (h *HealthChecker) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Handler produces an HTTP handler for the /healthz endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		listed, listening, lastErr := h.listed, h.listening, h.lastErr
		h.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if listed && listening {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK\n"))
			return
		}

		attrs := []any{
			slog.Bool("iptables_reachable", listed),
			slog.Bool("listening", listening),
		}
		if lastErr != nil {
			attrs = append(attrs, slog.Any("error", lastErr))
		}
		h.logger.Warn("health check not yet passing", attrs...)

		w.WriteHeader(http.StatusServiceUnavailable)
		if lastErr != nil {
			_, _ = fmt.Fprintf(w, "Service Unavailable\niptables: %v\n", lastErr)
			return
		}
		_, _ = w.Write([]byte("Service Unavailable\n"))
	})
}
