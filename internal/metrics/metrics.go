// Package metrics provides Prometheus metrics for docvault
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for docvault.
// All Record* methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Version metrics
	VersionsCreatedTotal   prometheus.Counter
	StatusTransitionsTotal *prometheus.CounterVec

	// Lock metrics
	LockAcquisitionsTotal *prometheus.CounterVec
	LocksExpiredTotal     prometheus.Counter

	// Audit metrics
	AuditEventsTotal *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec

	// Merge metrics
	MergeConflictsTotal *prometheus.CounterVec

	// Storage cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	UptimeSeconds prometheus.Gauge
	StartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		StartTime: time.Now(),
	}

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_operations_total",
			Help: "Total number of document operations",
		},
		[]string{"component", "operation", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_operation_duration_seconds",
			Help:    "Duration of document operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"component", "operation"},
	)

	m.VersionsCreatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_versions_created_total",
			Help: "Total number of document versions created",
		},
	)

	m.StatusTransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_status_transitions_total",
			Help: "Total number of version status transitions",
		},
		[]string{"to"},
	)

	m.LockAcquisitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_lock_acquisitions_total",
			Help: "Lock acquisition attempts by result",
		},
		[]string{"result"},
	)

	m.LocksExpiredTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_locks_expired_total",
			Help: "Total number of expired locks purged on read",
		},
	)

	m.AuditEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"risk_level", "result"},
	)

	m.AlertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_alerts_total",
			Help: "Alert dispatch attempts by status",
		},
		[]string{"status"},
	)

	m.MergeConflictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_merge_conflicts_total",
			Help: "Total number of merge conflicts detected",
		},
		[]string{"type"},
	)

	m.CacheHitsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_cache_hits_total",
			Help: "Version chain cache hits",
		},
	)

	m.CacheMissesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_cache_misses_total",
			Help: "Version chain cache misses",
		},
	)

	m.UptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)

	return m
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordOperation records a component operation and its latency
func (m *Metrics) RecordOperation(component, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(component, operation, statusOf(err)).Inc()
	m.OperationDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordVersionCreated counts a new version
func (m *Metrics) RecordVersionCreated() {
	if m == nil {
		return
	}
	m.VersionsCreatedTotal.Inc()
}

// RecordTransition counts a status transition
func (m *Metrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordLockAcquisition counts a lock attempt (acquired, refreshed, conflict)
func (m *Metrics) RecordLockAcquisition(result string) {
	if m == nil {
		return
	}
	m.LockAcquisitionsTotal.WithLabelValues(result).Inc()
}

// RecordLockExpired counts a lazily purged lock
func (m *Metrics) RecordLockExpired() {
	if m == nil {
		return
	}
	m.LocksExpiredTotal.Inc()
}

// RecordAuditEvent counts a recorded audit entry
func (m *Metrics) RecordAuditEvent(riskLevel, result string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(riskLevel, result).Inc()
}

// RecordAlert counts an alert dispatch attempt
func (m *Metrics) RecordAlert(err error) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(statusOf(err)).Inc()
}

// RecordMergeConflicts counts detected conflicts of one type
func (m *Metrics) RecordMergeConflicts(conflictType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MergeConflictsTotal.WithLabelValues(conflictType).Add(float64(n))
}

// RecordCacheHit counts a cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss counts a cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// UpdateUptime refreshes the uptime gauge
func (m *Metrics) UpdateUptime() {
	if m == nil {
		return
	}
	m.UptimeSeconds.Set(time.Since(m.StartTime).Seconds())
}
