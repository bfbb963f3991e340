package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, executor and worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	batchesPlannedTotal *prometheus.CounterVec
	planRejectedTotal   *prometheus.CounterVec
	itemsSentTotal      prometheus.Counter
	itemsFailedTotal    *prometheus.CounterVec
	composeDuration     prometheus.Histogram
	dispatchDuration    prometheus.Histogram
	executorInflight    prometheus.Gauge
	scheduledRunsTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ServiceName,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesPlannedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "batches_planned_total",
				Help:      "Total number of batches persisted, by trigger.",
			},
			[]string{"trigger"},
		),
		planRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "plan_rejected_total",
				Help:      "Planning attempts that persisted nothing, by reason.",
			},
			[]string{"reason"},
		),
		itemsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "items_sent_total",
				Help:      "Total number of batch items delivered.",
			},
		),
		itemsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "items_failed_total",
				Help:      "Total number of batch items that ended FAILED, by reason.",
			},
			[]string{"reason"},
		),
		composeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ServiceName,
				Name:      "compose_duration_seconds",
				Help:      "Time spent composing one recipient package.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ServiceName,
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent handing one package to the mail transport.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		executorInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ServiceName,
				Name:      "executor_inflight",
				Help:      "Batch items currently being composed or dispatched.",
			},
		),
		scheduledRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "scheduled_runs_total",
				Help:      "Scheduled auto-send invocations by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesPlannedTotal,
		m.planRejectedTotal,
		m.itemsSentTotal,
		m.itemsFailedTotal,
		m.composeDuration,
		m.dispatchDuration,
		m.executorInflight,
		m.scheduledRunsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchPlanned(trigger string) {
	if m == nil {
		return
	}
	m.batchesPlannedTotal.WithLabelValues(normalizeLabel(trigger)).Inc()
}

func (m *Metrics) IncPlanRejected(reason string) {
	if m == nil {
		return
	}
	m.planRejectedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncItemSent() {
	if m == nil {
		return
	}
	m.itemsSentTotal.Inc()
}

func (m *Metrics) IncItemFailed(reason string) {
	if m == nil {
		return
	}
	m.itemsFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveComposeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.composeDuration.Observe(max(d.Seconds(), 0))
}

func (m *Metrics) ObserveDispatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(max(d.Seconds(), 0))
}

func (m *Metrics) IncExecutorInFlight() {
	if m == nil {
		return
	}
	m.executorInflight.Inc()
}

func (m *Metrics) DecExecutorInFlight() {
	if m == nil {
		return
	}
	m.executorInflight.Dec()
}

func (m *Metrics) IncScheduledRun(outcome string) {
	if m == nil {
		return
	}
	m.scheduledRunsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// routePath labels by the registered route pattern so ids in the URL do not explode cardinality.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && strings.TrimSpace(route.Path) != "" {
		return route.Path
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func normalizeLabel(v string) string {
	if v = strings.ToLower(strings.TrimSpace(v)); v == "" {
		return "unknown"
	}
	return v
}
