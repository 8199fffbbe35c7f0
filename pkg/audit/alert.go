package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/docvault/internal/logger"
)

// Alert is the payload handed to the notification collaborator
type Alert struct {
	EntryID      string         `json:"entryId"`
	Severity     RiskLevel      `json:"severity"`
	Action       string         `json:"action"`
	UserID       string         `json:"userId"`
	ResourceType ResourceType   `json:"resourceType"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Result       Result         `json:"result"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details,omitempty"`
}

func alertFor(e *Entry) Alert {
	return Alert{
		EntryID:      e.ID,
		Severity:     e.RiskLevel,
		Action:       e.Action,
		UserID:       e.UserID,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Result:       e.Result,
		Timestamp:    e.Timestamp,
		Details:      e.Details,
	}
}

// Alerter dispatches alerts for high-risk events
type Alerter interface {
	Dispatch(ctx context.Context, a Alert) error
}

// AlerterFunc adapts a function to Alerter
type AlerterFunc func(ctx context.Context, a Alert) error

func (f AlerterFunc) Dispatch(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// LogAlerter writes alerts to the structured log
type LogAlerter struct {
	Log *logger.Logger
}

func (l LogAlerter) Dispatch(_ context.Context, a Alert) error {
	log := l.Log
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log.Warn().
		Str("event", "security_alert").
		Str("entry_id", a.EntryID).
		Str("severity", string(a.Severity)).
		Str("action", a.Action).
		Str("user_id", a.UserID).
		Str("resource_type", string(a.ResourceType)).
		Str("resource_id", a.ResourceID).
		Interface("details", a.Details).
		Msg("Security alert")
	return nil
}

// WebhookAlerter POSTs alerts as JSON to a URL
type WebhookAlerter struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	Headers map[string]string
}

func (w *WebhookAlerter) Dispatch(ctx context.Context, a Alert) error {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %s", resp.Status)
	}
	return nil
}

// MultiAlerter dispatches to every alerter concurrently and fails if any fails
type MultiAlerter []Alerter

func (m MultiAlerter) Dispatch(ctx context.Context, a Alert) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, al := range m {
		al := al
		g.Go(func() error {
			return al.Dispatch(gctx, a)
		})
	}
	return g.Wait()
}
