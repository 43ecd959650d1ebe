package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FeedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swapdesk_feed_requests_total",
		Help: "Price feed lookups by feed and outcome (ok, fallback)",
	}, []string{"feed", "outcome"})

	FeedLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swapdesk_feed_latency_seconds",
		Help:    "Time to obtain a price from a remote feed",
		Buckets: prometheus.DefBuckets,
	}, []string{"feed"})

	Quotes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swapdesk_quotes_total",
		Help: "Quotes built, split by degraded flag",
	}, []string{"degraded"})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swapdesk_quote_latency_seconds",
		Help:    "Time to build a quote including rate resolution",
		Buckets: prometheus.DefBuckets,
	})

	OffersPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swapdesk_offers_published_total",
		Help: "Offers appended to the offer store",
	})

	StorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swapdesk_storage_errors_total",
		Help: "Failed storage operations by component",
	}, []string{"component"})
)

func init() {
	prometheus.MustRegister(
		FeedRequests,
		FeedLatency,
		Quotes,
		QuoteLatency,
		OffersPublished,
		StorageErrors,
	)
}
