package audit

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/internal/metrics"
	"github.com/nainya/docvault/pkg/docerr"
)

// DefaultAlertTimeout bounds a single alert dispatch
const DefaultAlertTimeout = 5 * time.Second

// Options configures a Logger
type Options struct {
	Sink         Sink    // defaults to a MemorySink
	Alerter      Alerter // defaults to a LogAlerter
	AlertTimeout time.Duration
	Now          func() time.Time
	Log          *logger.Logger
	Metrics      *metrics.Metrics
}

// Logger is the append-only audit trail. Entries are appended to the sink
// in order and chained by hash; a copy is indexed in memory for reports.
type Logger struct {
	sink         Sink
	alerter      Alerter
	alertTimeout time.Duration
	now          func() time.Time
	log          *logger.Logger
	metrics      *metrics.Metrics

	mu       sync.RWMutex
	entries  []Entry
	lastHash string
	seq      uint64
}

// New creates an audit logger
func New(opts Options) *Logger {
	l := &Logger{
		sink:         opts.Sink,
		alerter:      opts.Alerter,
		alertTimeout: opts.AlertTimeout,
		now:          opts.Now,
		log:          opts.Log,
		metrics:      opts.Metrics,
	}
	if l.log == nil {
		l.log = logger.Nop()
	}
	l.log = l.log.Component("audit")
	if l.sink == nil {
		l.sink = NewMemorySink()
	}
	if l.alerter == nil {
		l.alerter = LogAlerter{Log: l.log}
	}
	if l.alertTimeout <= 0 {
		l.alertTimeout = DefaultAlertTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// LogEvent assigns an ID and timestamp to ev and appends it to the trail.
//
// If the sink fails the event is not recorded and an ErrPersistence error is
// returned. High and critical events trigger exactly one alert dispatch before
// LogEvent returns; if that dispatch fails the entry stays recorded and an
// ErrAlertDispatch error is returned alongside it.
func (l *Logger) LogEvent(ctx context.Context, ev Event) (*Entry, error) {
	fillFromContext(ctx, &ev)
	if err := validateEvent(&ev); err != nil {
		return nil, err
	}

	entry, err := l.append(ctx, ev)
	if err != nil {
		l.log.Error().Err(err).Str("action", ev.Action).Msg("Audit append failed")
		return nil, err
	}
	l.metrics.RecordAuditEvent(string(entry.RiskLevel), string(entry.Result))

	if entry.RiskLevel.Alerting() {
		if err := l.dispatch(ctx, entry); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

func (l *Logger) append(ctx context.Context, ev Event) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Seq:       l.seq + 1,
		Timestamp: l.now().UTC(),
		Event:     ev,
		PrevHash:  l.lastHash,
	}
	h, err := computeHash(entry)
	if err != nil {
		return nil, docerr.Validation("audit event details are not encodable: %v", err)
	}
	entry.Hash = h

	if err := l.sink.Append(ctx, &entry); err != nil {
		return nil, docerr.Persistence("audit append", err)
	}

	l.entries = append(l.entries, entry)
	l.lastHash = entry.Hash
	l.seq = entry.Seq

	out := entry
	return &out, nil
}

func (l *Logger) dispatch(ctx context.Context, e *Entry) error {
	actx, cancel := context.WithTimeout(ctx, l.alertTimeout)
	defer cancel()

	err := l.alerter.Dispatch(actx, alertFor(e))
	l.metrics.RecordAlert(err)
	if err != nil {
		l.log.Error().Err(err).
			Str("entry_id", e.ID).
			Str("action", e.Action).
			Msg("Alert dispatch failed")
		return docerr.AlertDispatch(e.Action, err)
	}
	return nil
}

// GenerateComplianceReport returns entries within [start, end] whose action
// belongs to the report type's action set, in append order.
func (l *Logger) GenerateComplianceReport(ctx context.Context, start, end time.Time, rt ReportType) ([]Entry, error) {
	actions, ok := reportActions[rt]
	if !ok {
		return nil, docerr.Validation("unknown report type %q", rt)
	}
	if end.Before(start) {
		return nil, docerr.Validation("report window ends (%s) before it starts (%s)",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		if !slices.Contains(actions, e.Action) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Query returns entries matching f in append order, up to f.Limit if set
func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for i := range l.entries {
		if !f.Matches(&l.entries[i]) {
			continue
		}
		out = append(out, l.entries[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of recorded entries
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify walks the hash chain and returns a *ChainError for the first entry
// that does not verify
func (l *Logger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}

// Replay reloads the in-memory index from the sink. The sink must implement
// Replayer. Entries logged before Replay are discarded from the index.
func (l *Logger) Replay(ctx context.Context) (int, error) {
	r, ok := l.sink.(Replayer)
	if !ok {
		return 0, fmt.Errorf("audit sink %T cannot be replayed", l.sink)
	}

	var entries []Entry
	if err := r.Replay(ctx, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return 0, docerr.Persistence("audit replay", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	l.lastHash, l.seq = "", 0
	if n := len(entries); n > 0 {
		l.lastHash = entries[n-1].Hash
		l.seq = entries[n-1].Seq
	}
	l.log.Info().Int("entries", len(entries)).Msg("Audit trail replayed")
	return len(entries), nil
}

// LogDataRoomAccess records an access attempt on a data room
func (l *Logger) LogDataRoomAccess(ctx context.Context, userID, dataRoomID string, result Result, details map[string]any) (*Entry, error) {
	risk := RiskLow
	if result != ResultSuccess {
		risk = RiskMedium
	}
	return l.LogEvent(ctx, Event{
		UserID:       userID,
		Action:       ActionDataRoomAccess,
		ResourceType: ResourceDataRoom,
		ResourceID:   dataRoomID,
		Result:       result,
		Details:      details,
		RiskLevel:    risk,
	})
}

// LogDocumentDownload records a document download
func (l *Logger) LogDocumentDownload(ctx context.Context, userID, documentID string, result Result, details map[string]any) (*Entry, error) {
	risk := RiskLow
	if result != ResultSuccess {
		risk = RiskMedium
	}
	return l.LogEvent(ctx, Event{
		UserID:       userID,
		Action:       ActionDocumentDownload,
		ResourceType: ResourceDocument,
		ResourceID:   documentID,
		Result:       result,
		Details:      details,
		RiskLevel:    risk,
	})
}

// LogSuspiciousActivity records suspicious behavior; it always alerts
func (l *Logger) LogSuspiciousActivity(ctx context.Context, userID, description string, details map[string]any) (*Entry, error) {
	d := make(map[string]any, len(details)+1)
	for k, v := range details {
		d[k] = v
	}
	d["description"] = description
	return l.LogEvent(ctx, Event{
		UserID:       userID,
		Action:       ActionSuspiciousActivity,
		ResourceType: ResourceSystem,
		Result:       ResultFailure,
		Details:      d,
		RiskLevel:    RiskHigh,
	})
}

// LogDocumentEvent records an action on a document with the given outcome
func (l *Logger) LogDocumentEvent(ctx context.Context, userID, documentID, action string, result Result, risk RiskLevel, details map[string]any) (*Entry, error) {
	return l.LogEvent(ctx, Event{
		UserID:       userID,
		Action:       action,
		ResourceType: ResourceDocument,
		ResourceID:   documentID,
		Result:       result,
		Details:      details,
		RiskLevel:    risk,
	})
}

// LogSystemEvent records a process-level event
func (l *Logger) LogSystemEvent(ctx context.Context, action string, details map[string]any) (*Entry, error) {
	return l.LogEvent(ctx, Event{
		UserID:       "system",
		Action:       action,
		ResourceType: ResourceSystem,
		Result:       ResultSuccess,
		Details:      details,
		RiskLevel:    RiskLow,
	})
}
