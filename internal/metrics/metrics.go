package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "laundry_scan"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route, method, and status code.",
		},
		[]string{"path", "method", "code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds by route and method.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "Current number of HTTP requests being processed.",
	})

	qrLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_lookups_total",
			Help:      "QR code lookups by outcome.",
		},
		[]string{"outcome"},
	)

	orderStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_starts_total",
			Help:      "start_laundry_order calls by outcome.",
		},
		[]string{"outcome"},
	)
)

// Lookup and order-start outcome labels.
const (
	OutcomeFound       = "found"
	OutcomeNotFound    = "not_found"
	OutcomeStarted     = "started"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// ObserveLookup counts a QR lookup with the given outcome.
func ObserveLookup(outcome string) {
	qrLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveOrderStart counts a start_laundry_order call with the given outcome.
func ObserveOrderStart(outcome string) {
	orderStartsTotal.WithLabelValues(outcome).Inc()
}

// Store is the subset of db.DB read on each scrape.
type Store interface {
	CountByStatus() (map[string]int, error)
	CountOrdersByStatus() (map[string]int, error)
}

// storeCollector queries the database on each scrape. A failing query
// invalidates only its own metric.
type storeCollector struct {
	store        Store
	machinesDesc *prometheus.Desc
	ordersDesc   *prometheus.Desc
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.machinesDesc
	ch <- c.ordersDesc
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	collectCounts(ch, c.machinesDesc, c.store.CountByStatus)
	collectCounts(ch, c.ordersDesc, c.store.CountOrdersByStatus)
}

func collectCounts(ch chan<- prometheus.Metric, desc *prometheus.Desc, count func() (map[string]int, error)) {
	counts, err := count()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(desc, err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(n), status)
	}
}

// NewStoreCollector returns a collector reporting machines and orders by
// status.
func NewStoreCollector(store Store) prometheus.Collector {
	return &storeCollector{
		store: store,
		machinesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "machines"),
			"Number of machines, partitioned by status.",
			[]string{"status"}, nil,
		),
		ordersDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "orders"),
			"Number of orders, partitioned by status.",
			[]string{"status"}, nil,
		),
	}
}

// Register registers all metrics with reg. Call once at startup after the
// database is initialised.
func Register(reg prometheus.Registerer, store Store) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequestsTotal,
		httpRequestDuration,
		httpRequestsInFlight,
		qrLookupsTotal,
		orderStartsTotal,
		NewStoreCollector(store),
	)
}

// Handler returns the HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware instruments next under the route path (e.g.
// "/api/v1/machines/{id}") so the path label has bounded cardinality.
func Middleware(path string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"path": path}
	return promhttp.InstrumentHandlerInFlight(httpRequestsInFlight,
		promhttp.InstrumentHandlerDuration(httpRequestDuration.MustCurryWith(labels),
			promhttp.InstrumentHandlerCounter(httpRequestsTotal.MustCurryWith(labels), next),
		),
	)
}
