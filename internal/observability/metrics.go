package observability

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	aggregateOps       *prometheus.CounterVec
	aggregateLatency   *prometheus.HistogramVec
	aggregateConflicts *prometheus.CounterVec
	aggregateRetries   *prometheus.CounterVec

	monitorDecisions *prometheus.CounterVec
	monitorTicks     *prometheus.CounterVec
	monitorTickTime  prometheus.Histogram

	desiredStateWrites *prometheus.CounterVec
	busMessages        *prometheus.CounterVec
	longPollWaiters    prometheus.Gauge

	dbStats *prometheus.GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics set when METRICS_ENABLED is on; it
// returns nil otherwise and every method is nil-safe.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics(prometheus.NewRegistry())
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// NewMetrics registers the fleet metrics on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Metrics{
		registry: reg,
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleet_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 60},
		}, []string{"method", "route", "status"}),
		apiInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		aggregateOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_aggregate_operations_total",
			Help: "Aggregate write operations by operation and outcome code.",
		}, []string{"op", "status"}),
		aggregateLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleet_aggregate_operation_duration_seconds",
			Help:    "Aggregate write latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
		aggregateConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_aggregate_conflicts_total",
			Help: "Aggregate writes rejected by concurrency conflicts.",
		}, []string{"op"}),
		aggregateRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_aggregate_retryable_total",
			Help: "Aggregate writes that failed with a retryable error.",
		}, []string{"op"}),
		monitorDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_monitor_decisions_total",
			Help: "Rollout monitor decisions by decision and outcome.",
		}, []string{"decision", "outcome"}),
		monitorTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_monitor_ticks_total",
			Help: "Rollout monitor ticks by status.",
		}, []string{"status"}),
		monitorTickTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_monitor_tick_duration_seconds",
			Help:    "Rollout monitor tick duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		desiredStateWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_desired_state_writes_total",
			Help: "Desired state rows written by source.",
		}, []string{"source"}),
		busMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_bus_messages_total",
			Help: "Desired state change bus messages by direction and status.",
		}, []string{"direction", "status"}),
		longPollWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_desired_longpoll_waiters",
			Help: "Devices currently long-polling for desired state.",
		}),
		dbStats: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleet_db_stats",
			Help: "database/sql pool stats.",
		}, []string{"stat"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAggregateOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateOps.WithLabelValues(op, status).Inc()
	m.aggregateLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *Metrics) IncAggregateConflict(op string) {
	if m == nil {
		return
	}
	m.aggregateConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) IncAggregateRetry(op string) {
	if m == nil {
		return
	}
	m.aggregateRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) IncMonitorDecision(decision, outcome string) {
	if m == nil {
		return
	}
	m.monitorDecisions.WithLabelValues(decision, outcome).Inc()
}

func (m *Metrics) ObserveMonitorTick(status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.monitorTicks.WithLabelValues(status).Inc()
	m.monitorTickTime.Observe(dur.Seconds())
}

func (m *Metrics) AddDesiredStateWrites(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.desiredStateWrites.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncBusMessage(direction, status string) {
	if m == nil {
		return
	}
	m.busMessages.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) LongPollWaitersInc() {
	if m == nil {
		return
	}
	m.longPollWaiters.Inc()
}

func (m *Metrics) LongPollWaitersDec() {
	if m == nil {
		return
	}
	m.longPollWaiters.Dec()
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(v + "s")
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// StartDBCollector samples connection pool stats until ctx is done.
func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.dbStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.dbStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.dbStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.dbStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.dbStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}
