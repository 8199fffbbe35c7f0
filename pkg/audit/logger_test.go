package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/docvault/pkg/docerr"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

type countingAlerter struct {
	calls atomic.Int32
	err   error
	last  Alert
}

func (c *countingAlerter) Dispatch(_ context.Context, a Alert) error {
	c.calls.Add(1)
	c.last = a
	return c.err
}

func event(action string, risk RiskLevel) Event {
	return Event{
		UserID:       "u1",
		Action:       action,
		ResourceType: ResourceDocument,
		ResourceID:   "D",
		Result:       ResultSuccess,
		RiskLevel:    risk,
	}
}

func TestLogEventAssignsIdentity(t *testing.T) {
	clock := newClock()
	l := New(Options{Now: clock.Now})

	e, err := l.LogEvent(context.Background(), event(ActionDocumentView, RiskLow))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, clock.t, e.Timestamp)
	assert.Equal(t, uint64(1), e.Seq)
	assert.Empty(t, e.PrevHash)
	assert.NotEmpty(t, e.Hash)

	e2, err := l.LogEvent(context.Background(), event(ActionDocumentView, RiskLow))
	require.NoError(t, err)
	assert.Equal(t, e.Hash, e2.PrevHash)
	assert.NotEqual(t, e.ID, e2.ID)
}

func TestLogEventValidation(t *testing.T) {
	l := New(Options{})

	ev := event(ActionDocumentView, RiskLow)
	ev.ResourceType = "spaceship"
	_, err := l.LogEvent(context.Background(), ev)
	require.ErrorIs(t, err, docerr.ErrValidation)

	ev = event("", RiskLow)
	_, err = l.LogEvent(context.Background(), ev)
	require.ErrorIs(t, err, docerr.ErrValidation)

	ev = event(ActionDocumentView, "severe")
	_, err = l.LogEvent(context.Background(), ev)
	require.ErrorIs(t, err, docerr.ErrValidation)

	assert.Equal(t, 0, l.Len())
}

func TestLogEventFillsRequestInfo(t *testing.T) {
	l := New(Options{})
	ctx := WithRequestInfo(context.Background(), RequestInfo{
		UserEmail: "ann@example.com",
		IPAddress: "10.0.0.7",
		UserAgent: "cli/1.0",
		SessionID: "s-1",
	})

	e, err := l.LogEvent(ctx, event(ActionLogin, RiskLow))
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", e.UserEmail)
	assert.Equal(t, "10.0.0.7", e.IPAddress)
	assert.Equal(t, "cli/1.0", e.UserAgent)
	assert.Equal(t, "s-1", e.SessionID)
}

func TestCriticalEventAlertsExactlyOnce(t *testing.T) {
	alerter := &countingAlerter{}
	l := New(Options{Alerter: alerter})

	_, err := l.LogEvent(context.Background(), event(ActionUnauthorizedAccess, RiskCritical))
	require.NoError(t, err)
	assert.Equal(t, int32(1), alerter.calls.Load())
	assert.Equal(t, RiskCritical, alerter.last.Severity)

	_, err = l.LogEvent(context.Background(), event(ActionDocumentView, RiskMedium))
	require.NoError(t, err)
	assert.Equal(t, int32(1), alerter.calls.Load(), "medium risk must not alert")

	_, err = l.LogEvent(context.Background(), event(ActionPolicyViolation, RiskHigh))
	require.NoError(t, err)
	assert.Equal(t, int32(2), alerter.calls.Load())
}

func TestAlertFailureSurfacesButKeepsEntry(t *testing.T) {
	alerter := &countingAlerter{err: errors.New("pager down")}
	l := New(Options{Alerter: alerter})

	e, err := l.LogEvent(context.Background(), event(ActionSuspiciousActivity, RiskHigh))
	require.ErrorIs(t, err, docerr.ErrAlertDispatch)
	require.NotNil(t, e)
	assert.Equal(t, 1, l.Len())
}

func TestSinkFailureDoesNotRecord(t *testing.T) {
	sink := NewMemorySink()
	alerter := &countingAlerter{}
	l := New(Options{Sink: sink, Alerter: alerter})

	sink.FailWith(errors.New("disk full"))
	_, err := l.LogEvent(context.Background(), event(ActionUnauthorizedAccess, RiskCritical))
	require.ErrorIs(t, err, docerr.ErrPersistence)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, int32(0), alerter.calls.Load())

	sink.FailWith(nil)
	e, err := l.LogEvent(context.Background(), event(ActionDocumentView, RiskLow))
	require.NoError(t, err)
	assert.Empty(t, e.PrevHash, "failed append must not advance the chain")
	require.NoError(t, l.Verify())
}

func TestGenerateComplianceReport(t *testing.T) {
	clock := newClock()
	l := New(Options{Now: clock.Now})
	ctx := context.Background()

	start := clock.t
	_, err := l.LogEvent(ctx, event(ActionLogin, RiskLow))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = l.LogEvent(ctx, event(ActionVersionCreated, RiskLow))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = l.LogEvent(ctx, event("custom_unmapped_action", RiskLow))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = l.LogEvent(ctx, event(ActionDocumentLocked, RiskLow))
	require.NoError(t, err)
	end := clock.t
	clock.Advance(time.Hour)
	_, err = l.LogEvent(ctx, event(ActionLogout, RiskLow))
	require.NoError(t, err)

	access, err := l.GenerateComplianceReport(ctx, start, end, ReportAccess)
	require.NoError(t, err)
	require.Len(t, access, 2)
	assert.Equal(t, ActionLogin, access[0].Action)
	assert.Equal(t, ActionDocumentLocked, access[1].Action)

	data, err := l.GenerateComplianceReport(ctx, start, end, ReportData)
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, ActionVersionCreated, data[0].Action)

	for _, rt := range []ReportType{ReportAccess, ReportSecurity, ReportData, ReportSystem} {
		entries, err := l.GenerateComplianceReport(ctx, start, end.Add(2*time.Hour), rt)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotEqual(t, "custom_unmapped_action", e.Action)
		}
	}

	_, err = l.GenerateComplianceReport(ctx, start, end, "finance")
	require.ErrorIs(t, err, docerr.ErrValidation)

	_, err = l.GenerateComplianceReport(ctx, end, start, ReportAccess)
	require.ErrorIs(t, err, docerr.ErrValidation)
}

func TestQueryFilter(t *testing.T) {
	l := New(Options{})
	ctx := context.Background()

	_, err := l.LogDataRoomAccess(ctx, "alice", "room-1", ResultSuccess, nil)
	require.NoError(t, err)
	_, err = l.LogDataRoomAccess(ctx, "bob", "room-1", ResultUnauthorized, nil)
	require.NoError(t, err)
	_, err = l.LogDocumentDownload(ctx, "alice", "D", ResultSuccess, map[string]any{"bytes": 12})
	require.NoError(t, err)

	byAlice, err := l.Query(ctx, Filter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, byAlice, 2)

	risky, err := l.Query(ctx, Filter{MinRisk: RiskMedium})
	require.NoError(t, err)
	require.Len(t, risky, 1)
	assert.Equal(t, "bob", risky[0].UserID)

	limited, err := l.Query(ctx, Filter{ResourceType: ResourceDataRoom, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSuspiciousActivityWrapper(t *testing.T) {
	alerter := &countingAlerter{}
	l := New(Options{Alerter: alerter})

	e, err := l.LogSuspiciousActivity(context.Background(), "mallory", "bulk download", map[string]any{"count": 500})
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, e.RiskLevel)
	assert.Equal(t, ResourceSystem, e.ResourceType)
	assert.Equal(t, "bulk download", e.Details["description"])
	assert.Equal(t, int32(1), alerter.calls.Load())
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := New(Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.LogEvent(ctx, event(ActionDocumentView, RiskLow))
		require.NoError(t, err)
	}
	require.NoError(t, l.Verify())

	l.entries[1].UserID = "someone-else"
	err := l.Verify()
	require.ErrorIs(t, err, ErrChainBroken)

	var ce *ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Index)
}

func TestJournalSinkReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.journal")
	ctx := context.Background()

	sink, err := OpenJournalSink(path, 0)
	require.NoError(t, err)
	l := New(Options{Sink: sink})
	for _, action := range []string{ActionLogin, ActionVersionCreated, ActionLogout} {
		_, err := l.LogEvent(ctx, Event{
			UserID:       "u1",
			Action:       action,
			ResourceType: ResourceUser,
			Result:       ResultSuccess,
			Details:      map[string]any{"n": 1},
			RiskLevel:    RiskLow,
		})
		require.NoError(t, err)
	}
	require.NoError(t, sink.Close())

	sink2, err := OpenJournalSink(path, 0)
	require.NoError(t, err)
	defer sink2.Close()

	l2 := New(Options{Sink: sink2})
	n, err := l2.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, l2.Verify())

	e, err := l2.LogEvent(ctx, event(ActionDocumentView, RiskLow))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), e.Seq)
	require.NoError(t, l2.Verify())
}

func TestWebhookAlerter(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := &WebhookAlerter{URL: srv.URL, Timeout: time.Second, Headers: map[string]string{"X-Token": "secret"}}
	err := w.Dispatch(context.Background(), Alert{EntryID: "e1", Severity: RiskCritical, Action: ActionPolicyViolation})
	require.NoError(t, err)
	assert.Equal(t, "e1", got.EntryID)
	assert.Equal(t, RiskCritical, got.Severity)
}

func TestWebhookAlerterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := &WebhookAlerter{URL: srv.URL}
	require.Error(t, w.Dispatch(context.Background(), Alert{}))
}

func TestMultiAlerter(t *testing.T) {
	a, b := &countingAlerter{}, &countingAlerter{err: errors.New("b failed")}

	require.NoError(t, MultiAlerter{a}.Dispatch(context.Background(), Alert{}))
	err := MultiAlerter{a, b}.Dispatch(context.Background(), Alert{})
	require.Error(t, err)
	assert.Equal(t, int32(2), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestParseReportType(t *testing.T) {
	rt, err := ParseReportType("Security")
	require.NoError(t, err)
	assert.Equal(t, ReportSecurity, rt)

	_, err = ParseReportType("bogus")
	require.ErrorIs(t, err, docerr.ErrValidation)

	actions, ok := ReportActions(ReportSystem)
	require.True(t, ok)
	assert.Contains(t, actions, ActionSystemStartup)
}
