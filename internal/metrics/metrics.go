package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command results recorded by ObserveCommand.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
)

// Metrics bundles Prometheus instruments for the panel server.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	commandsTotal *prometheus.CounterVec
	listedRules   prometheus.Gauge
}

// NewMetrics constructs a Metrics instance with an isolated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iptpanel",
		Name:      "http_requests_total",
		Help:      "Total number of API requests by route and status code.",
	}, []string{"route", "code"})

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iptpanel",
		Name:      "commands_total",
		Help:      "Total number of iptables operations by operation and result.",
	}, []string{"operation", "result"})

	listedRules := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "iptpanel",
		Name:      "listed_rules",
		Help:      "Number of lines returned by the most recent chain listing.",
	})

	registry.MustRegister(requestsTotal, commandsTotal, listedRules)

	return &Metrics{
		registry:      registry,
		requestsTotal: requestsTotal,
		commandsTotal: commandsTotal,
		listedRules:   listedRules,
	}
}

// ObserveRequest counts a served API request.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// ObserveCommand counts an iptables operation outcome.
func (m *Metrics) ObserveCommand(operation string, result string) {
	m.commandsTotal.WithLabelValues(operation, result).Inc()
}

// SetListedRules records the size of the latest listing.
func (m *Metrics) SetListedRules(count int) {
	m.listedRules.Set(float64(count))
}

// Handler exposes the Prometheus scrape handler bound to the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
