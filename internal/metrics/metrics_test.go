package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("version", "create", time.Millisecond, nil)
	m.RecordOperation("version", "create", time.Millisecond, nil)
	m.RecordOperation("version", "create", time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("version", "create", "success")); got != 2 {
		t.Errorf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("version", "create", "error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestLockAndAuditCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLockAcquisition("conflict")
	m.RecordLockExpired()
	m.RecordAuditEvent("critical", "failure")
	m.RecordAlert(nil)
	m.RecordMergeConflicts("metadata", 3)
	m.RecordMergeConflicts("content", 0)

	if got := testutil.ToFloat64(m.LockAcquisitionsTotal.WithLabelValues("conflict")); got != 1 {
		t.Errorf("lock conflicts: got %v", got)
	}
	if got := testutil.ToFloat64(m.LocksExpiredTotal); got != 1 {
		t.Errorf("locks expired: got %v", got)
	}
	if got := testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("critical", "failure")); got != 1 {
		t.Errorf("audit events: got %v", got)
	}
	if got := testutil.ToFloat64(m.AlertsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("alerts: got %v", got)
	}
	if got := testutil.ToFloat64(m.MergeConflictsTotal.WithLabelValues("metadata")); got != 3 {
		t.Errorf("merge conflicts: got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation("a", "b", 0, nil)
	m.RecordVersionCreated()
	m.RecordTransition("approved")
	m.RecordLockAcquisition("acquired")
	m.RecordLockExpired()
	m.RecordAuditEvent("low", "success")
	m.RecordAlert(nil)
	m.RecordMergeConflicts("metadata", 1)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.UpdateUptime()
}
