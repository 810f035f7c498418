package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trustwork"

var (
	// Registry - коллекторы приложения
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "domain",
			Name:      "transitions_total",
			Help:      "State machine transitions by entity and target state.",
		},
		[]string{"entity", "to"},
	)

	payouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payouts",
			Name:      "results_total",
			Help:      "Payout worker outcomes.",
		},
		[]string{"result"},
	)

	gatewayCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of payment gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"operation", "success"},
	)

	eventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Outbox events published to the bus.",
		},
		[]string{"type"},
	)

	subscriberFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscriber_failures_total",
			Help:      "Subscriber deliveries that exhausted retries.",
		},
		[]string{"subscriber"},
	)

	outboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "outbox_lag_seconds",
			Help:      "Age of the oldest event picked by the last flush.",
		},
	)

	workerRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled worker runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"worker", "success"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connected_clients",
			Help:      "Currently connected websocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transitions,
		payouts,
		gatewayCalls,
		eventsDispatched,
		subscriberFailures,
		outboxLag,
		workerRuns,
		wsClients,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler отдает метрики в формате Prometheus
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware собирает HTTP метрики. Маршрут берется из шаблона gin,
// чтобы ID в пути не раздували кардинальность.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasSuffix(c.Request.URL.Path, "/metrics") {
			c.Next()
			return
		}
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func RecordTransition(entity, to string) {
	transitions.WithLabelValues(entity, to).Inc()
}

func RecordPayout(result string) {
	payouts.WithLabelValues(result).Inc()
}

func RecordGatewayCall(operation string, duration time.Duration, success bool) {
	gatewayCalls.WithLabelValues(operation, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordEventDispatched(eventType string) {
	eventsDispatched.WithLabelValues(eventType).Inc()
}

func RecordSubscriberFailure(subscriber string) {
	subscriberFailures.WithLabelValues(subscriber).Inc()
}

func RecordWorkerRun(worker string, duration time.Duration, success bool) {
	workerRuns.WithLabelValues(worker, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func SetOutboxLag(d time.Duration) {
	outboxLag.Set(d.Seconds())
}

func SetConnectedClients(n int) {
	wsClients.Set(float64(n))
}
