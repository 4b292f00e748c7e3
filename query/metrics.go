package query

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgepipe_query_requests_total",
			Help: "Total HTTP requests served by the query service",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "knowledgepipe_query_request_duration_seconds",
			Help: "Query request duration in seconds",
		},
		[]string{"endpoint"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgepipe_query_rate_limited_total",
			Help: "Requests rejected by the hourly rate limiter",
		},
		[]string{"tier"},
	)

	searchResultCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "knowledgepipe_query_search_results",
			Help:    "Result counts returned by semantic search",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
)

func observeRequest(endpoint string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
