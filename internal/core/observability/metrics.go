package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	dbQueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Latency of database statements in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"op", "outcome"},
	)

	countFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geologic_count_failures_total",
			Help: "Row-count queries that failed and were reported as zero.",
		},
		[]string{"table"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Latency of cache operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Processed cache invalidation events.",
		},
		[]string{"op", "outcome"},
	)

	cacheBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_breaker_state",
			Help: "Cache circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		dbQueryDurationSeconds,
		countFailures,
		cacheOpDurationSeconds,
		cacheResults,
		invalidations,
		cacheBreakerState,
		kafkaConsumerErrors,
	}
}

// Init registers the service collectors; a nil registerer leaves them unexported.
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveDBQuery(op string, err error, durationSeconds float64) {
	dbQueryDurationSeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}

func IncCountFailure(table string) {
	countFailures.WithLabelValues(table).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpDurationSeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}

func IncCacheHit()   { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResults.WithLabelValues("miss").Inc() }
func IncCacheError() { cacheResults.WithLabelValues("error").Inc() }

func SetCacheBreakerState(name string, state float64) {
	cacheBreakerState.WithLabelValues(name).Set(state)
}

func ObserveInvalidation(op string, err error) {
	invalidations.WithLabelValues(op, outcome(err)).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}
