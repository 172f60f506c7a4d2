package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirychukyurii/hv-balancer/internal/model"
)

const namespace = "hv_balancer"

// Metrics holds the balancer collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	iterations        *prometheus.CounterVec
	migrations        *prometheus.CounterVec
	migrationDuration prometheus.Histogram
	pollAttempts      prometheus.Histogram
	hostRAMPct        *prometheus.GaugeVec
	hostVCPUPct       *prometheus.GaugeVec
	hostInstances     *prometheus.GaugeVec
	averageRAMPct     prometheus.Gauge
	skipped           *prometheus.GaugeVec
	drainAttempted    prometheus.Gauge
	lastIteration     prometheus.Gauge
}

// New creates the collectors and registers them with process and Go runtime collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Outer balancing iterations by outcome.",
		}, []string{"outcome"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Migration attempts by mode and terminal state.",
		}, []string{"mode", "state"}),
		migrationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_duration_seconds",
			Help:      "Time from migration request to terminal state, including settling.",
			Buckets:   []float64{15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Status polls needed until the instance returned to ACTIVE.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		hostRAMPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hypervisor_ram_used_percent",
			Help:      "Allocated RAM percentage per hypervisor at the last snapshot.",
		}, []string{"hypervisor"}),
		hostVCPUPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hypervisor_vcpu_used_percent",
			Help:      "Allocated vCPU percentage per hypervisor at the last snapshot.",
		}, []string{"hypervisor"}),
		hostInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hypervisor_instances",
			Help:      "Eligible instances per hypervisor at the last snapshot.",
		}, []string{"hypervisor"}),
		averageRAMPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_ram_used_percent",
			Help:      "Running average of RAM percentage across hypervisors.",
		}),
		skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_skipped",
			Help:      "Instances excluded from the last snapshot by reason.",
		}, []string{"reason"}),
		drainAttempted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drain_attempted_instances",
			Help:      "Instances never offered again as candidates.",
		}),
		lastIteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_iteration_timestamp_seconds",
			Help:      "Unix time the last iteration finished.",
		}),
	}

	m.registry.MustRegister(
		m.iterations,
		m.migrations,
		m.migrationDuration,
		m.pollAttempts,
		m.hostRAMPct,
		m.hostVCPUPct,
		m.hostInstances,
		m.averageRAMPct,
		m.skipped,
		m.drainAttempted,
		m.lastIteration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSnapshot records per-host utilization and skip counts
func (m *Metrics) ObserveSnapshot(summary *model.UtilizationSummary, skipped []model.EligibilitySkip) {
	m.hostRAMPct.Reset()
	m.hostVCPUPct.Reset()
	m.hostInstances.Reset()
	for _, h := range summary.Hosts {
		m.hostRAMPct.WithLabelValues(h.Hostname).Set(float64(h.RAMPct))
		m.hostVCPUPct.WithLabelValues(h.Hostname).Set(float64(h.VCPUPct))
		m.hostInstances.WithLabelValues(h.Hostname).Set(float64(h.Instances))
	}
	m.averageRAMPct.Set(float64(summary.Average.RAMPct))

	m.skipped.Reset()
	for _, s := range skipped {
		m.skipped.WithLabelValues(string(s.Reason)).Inc()
	}
}

// ObserveMigration records a migration that reached a terminal state
func (m *Metrics) ObserveMigration(mode model.Mode, state model.MigrationState, duration time.Duration, polls int) {
	m.migrations.WithLabelValues(string(mode), string(state)).Inc()
	m.migrationDuration.Observe(duration.Seconds())
	if polls > 0 {
		m.pollAttempts.Observe(float64(polls))
	}
}

// ObserveIteration records the end of an outer iteration
func (m *Metrics) ObserveIteration(report *model.IterationReport, drainAttempted int) {
	m.iterations.WithLabelValues(string(report.Outcome)).Inc()
	m.drainAttempted.Set(float64(drainAttempted))
	m.lastIteration.Set(float64(report.FinishedAt.Unix()))
}
