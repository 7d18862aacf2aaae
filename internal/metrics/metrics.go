package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors of one scraper process. All
// recording helpers are safe to call on a nil *Metrics.
type Metrics struct {
	Registry          *prometheus.Registry
	FetchRequests     *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	ProductsExtracted *prometheus.CounterVec
	RankAttempts      *prometheus.CounterVec
	Duplicates        *prometheus.CounterVec
	KeywordRuns       *prometheus.CounterVec
	OutboxRelayed     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetchRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rank_scraper_fetch_requests_total",
			Help: "Total page fetches by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rank_scraper_fetch_duration_seconds",
			Help:    "Latency of page fetches including retries.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)
	products := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rank_scraper_products_extracted_total",
			Help: "Organic products extracted from listing pages.",
		},
		[]string{"country"},
	)
	rankAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rank_scraper_rank_attempts_total",
			Help: "Sales-rank extraction attempts by outcome.",
		},
		[]string{"outcome"},
	)
	duplicates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rank_scraper_duplicates_total",
			Help: "Products already seen under an earlier keyword of the same run.",
		},
		[]string{"country"},
	)
	keywordRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rank_scraper_keyword_runs_total",
			Help: "Finished keyword runs by status.",
		},
		[]string{"country", "status"},
	)
	outboxRelayed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rank_scraper_outbox_events_total",
			Help: "Outbox events handled by the relay by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		fetchRequests, fetchDuration, products, rankAttempts, duplicates, keywordRuns, outboxRelayed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry:          registry,
		FetchRequests:     fetchRequests,
		FetchDuration:     fetchDuration,
		ProductsExtracted: products,
		RankAttempts:      rankAttempts,
		Duplicates:        duplicates,
		KeywordRuns:       keywordRuns,
		OutboxRelayed:     outboxRelayed,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(kind, outcome).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) AddProducts(country string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsExtracted.WithLabelValues(country).Add(float64(n))
}

func (m *Metrics) IncRankAttempt(outcome string) {
	if m == nil {
		return
	}
	m.RankAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncDuplicate(country string) {
	if m == nil {
		return
	}
	m.Duplicates.WithLabelValues(country).Inc()
}

func (m *Metrics) IncKeywordRun(country, status string) {
	if m == nil {
		return
	}
	m.KeywordRuns.WithLabelValues(country, status).Inc()
}

func (m *Metrics) IncOutbox(outcome string) {
	if m == nil {
		return
	}
	m.OutboxRelayed.WithLabelValues(outcome).Inc()
}
