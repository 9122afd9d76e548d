// Package metrics defines the Prometheus collectors of the CRM service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/onboarding-crm/pkg/search"
)

const namespace = "crm"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Requests          *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	SearchQueries     *prometheus.CounterVec
	SearchResults     prometheus.Histogram
	Canonicalizations *prometheus.CounterVec
	Clients           prometheus.Gauge
	ImportRows        *prometheus.CounterVec
	IDRepairs         prometheus.Counter
	DocumentsSaved    *prometheus.CounterVec
	CatalogReloads    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Endpoint calls by transport, endpoint and status.",
			},
			[]string{"transport", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Endpoint latency in seconds.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"transport", "endpoint"},
		),
		SearchQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_queries_total",
				Help:      "Search queries by list and result type (match, empty_query, fallback).",
			},
			[]string{"list", "result_type"},
		),
		SearchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results_count",
				Help:      "Number of options returned per search.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		Canonicalizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "canonicalizations_total",
				Help:      "Catalog canonicalizations by catalog and match kind.",
			},
			[]string{"catalog", "kind"},
		),
		Clients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clients",
				Help:      "Rows in the client table.",
			},
		),
		ImportRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_rows_total",
				Help:      "Imported rows by outcome (added, updated, skipped).",
			},
			[]string{"outcome"},
		),
		IDRepairs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "id_repairs_total",
				Help:      "Client identifiers replaced because they were blank or repeated.",
			},
		),
		DocumentsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_saved_total",
				Help:      "Stored client documents by category.",
			},
			[]string{"category"},
		),
		CatalogReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_reloads_total",
				Help:      "Catalog reloads from disk.",
			},
		),
	}

	reg.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.SearchQueries,
		m.SearchResults,
		m.Canonicalizations,
		m.Clients,
		m.ImportRows,
		m.IDRepairs,
		m.DocumentsSaved,
		m.CatalogReloads,
	)
	return m
}

// RegisterCache exports the activity of an index cache on reg.
func RegisterCache(reg prometheus.Registerer, c *search.Cache) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index_cache",
			Name:      "entries",
			Help:      "Indexes held by the search cache.",
		}, func() float64 { return float64(c.Stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index_cache",
			Name:      "hits_total",
			Help:      "Index lookups served without a rebuild.",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index_cache",
			Name:      "builds_total",
			Help:      "Index builds.",
		}, func() float64 { return float64(c.Stats().Builds) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index_cache",
			Name:      "stale_tokens_total",
			Help:      "Lists that changed without a new version token.",
		}, func() float64 { return float64(c.Stats().Stale) }),
	)
}

// ObserveRequest records one endpoint call.
func (m *Metrics) ObserveRequest(transport, endpoint string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Requests.WithLabelValues(transport, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(transport, endpoint).Observe(elapsed.Seconds())
}

// ObserveSearch records one search over list.
func (m *Metrics) ObserveSearch(list, resultType string, results int) {
	if m == nil {
		return
	}
	m.SearchQueries.WithLabelValues(list, resultType).Inc()
	m.SearchResults.Observe(float64(results))
}

// ObserveCanonicalize records one canonicalization.
func (m *Metrics) ObserveCanonicalize(catalogID, kind string) {
	if m == nil {
		return
	}
	m.Canonicalizations.WithLabelValues(catalogID, kind).Inc()
}

// SetClients sets the client table size.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.Clients.Set(float64(n))
}

// ObserveImport records the outcome counts of one import.
func (m *Metrics) ObserveImport(added, updated, skipped int) {
	if m == nil {
		return
	}
	m.ImportRows.WithLabelValues("added").Add(float64(added))
	m.ImportRows.WithLabelValues("updated").Add(float64(updated))
	m.ImportRows.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveRepairs records n replaced identifiers.
func (m *Metrics) ObserveRepairs(n int) {
	if m == nil || n == 0 {
		return
	}
	m.IDRepairs.Add(float64(n))
}

// ObserveDocuments records n documents stored under category.
func (m *Metrics) ObserveDocuments(category string, n int) {
	if m == nil {
		return
	}
	m.DocumentsSaved.WithLabelValues(category).Add(float64(n))
}

// ObserveReload records one catalog reload.
func (m *Metrics) ObserveReload() {
	if m == nil {
		return
	}
	m.CatalogReloads.Inc()
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// HTTP returns middleware that records request count and latency per
// method and path under the "http" transport.
func (m *Metrics) HTTP(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.Requests.WithLabelValues("http", endpoint, strconv.Itoa(sw.status)).Inc()
		m.RequestDuration.WithLabelValues("http", endpoint).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}
