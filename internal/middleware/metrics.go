package middleware

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rate_limit_total",
			Help: "Rate limit decisions by scope and result",
		},
		[]string{"scope", "result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "HTTP requests by method and status code",
		},
		[]string{"method", "code"},
	)
)

func RecordRateLimit(scope string, result string) {
	rateLimitTotal.WithLabelValues(scope, result).Inc()
}

func RecordRequest(method string, status int) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
