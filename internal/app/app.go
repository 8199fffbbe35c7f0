// ABOUTME: Wires configuration into storage, audit, locks, versions and conflicts
// ABOUTME: One App per process; Close flushes the audit journal and database

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/docvault/internal/config"
	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/internal/metrics"
	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/lock"
	"github.com/nainya/docvault/pkg/merge"
	"github.com/nainya/docvault/pkg/security"
	"github.com/nainya/docvault/pkg/storage"
	"github.com/nainya/docvault/pkg/version"
)

// Store is everything the services persist. Both storage adapters satisfy it.
type Store interface {
	version.Repository
	lock.Repository
	merge.Repository
	security.Provider
	SaveProfile(ctx context.Context, p *security.Profile) error
}

// Options overrides parts of the wiring, mainly for tests
type Options struct {
	Log      *logger.Logger
	Registry *prometheus.Registry
	Now      func() time.Time
}

// App holds the wired services
type App struct {
	Config   config.Config
	Log      *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store     Store
	Audit     *audit.Logger
	Guard     *security.Guard
	Locks     *lock.Manager
	Versions  *version.Store
	Conflicts *merge.Detector

	closers []func() error
}

// New opens storage and the audit journal described by cfg and builds the
// services on top. Audit entries already in the journal are replayed
// before New returns.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	log := opts.Log
	if log == nil {
		log = logger.NewLogger(logger.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			WithCaller: cfg.Log.WithCaller,
		})
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: reg,
		Metrics:  metrics.NewMetrics(reg),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(cfg); err != nil {
		return nil, err
	}

	sink, err := a.openSink(cfg)
	if err != nil {
		return nil, err
	}
	a.Audit = audit.New(audit.Options{
		Sink:         sink,
		Alerter:      alerterFor(cfg, log),
		AlertTimeout: cfg.Audit.AlertTimeout,
		Now:          now,
		Log:          log,
		Metrics:      a.Metrics,
	})
	if _, err := a.Audit.Replay(ctx); err != nil {
		return nil, fmt.Errorf("replay audit journal: %w", err)
	}
	if err := a.Audit.Verify(); err != nil {
		// Ready and `audit verify` report the break
		log.Error().Err(err).Msg("Audit hash chain does not verify")
	}

	if cfg.Security.Enforce {
		a.Guard = &security.Guard{Provider: a.Store, Audit: a.Audit, Now: now}
	}

	a.Locks, err = lock.New(lock.Options{
		Repo:            a.Store,
		Audit:           a.Audit,
		Guard:           a.Guard,
		DefaultDuration: cfg.Locks.DefaultDuration,
		Now:             now,
		Log:             log,
		Metrics:         a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a.Versions, err = version.New(version.Options{
		Repo:            a.Store,
		Audit:           a.Audit,
		Guard:           a.Guard,
		Locks:           a.Locks,
		RequireEditLock: cfg.Locks.RequireEditLock,
		Now:             now,
		Log:             log,
		Metrics:         a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a.Conflicts, err = merge.New(merge.Options{
		Versions: a.Versions,
		Repo:     a.Store,
		Audit:    a.Audit,
		Now:      now,
		Log:      log,
		Metrics:  a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) openStore(cfg config.Config) error {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		a.Store = storage.NewMemory()
	case config.BackendBadger:
		b, err := storage.OpenBadger(storage.Config{
			Dir:        cfg.DatabaseDir(),
			SyncWrites: cfg.Storage.SyncWrites,
			CacheSize:  cfg.Storage.CacheSize,
		}, a.Log, a.Metrics)
		if err != nil {
			return err
		}
		a.Store = b
		a.closers = append(a.closers, b.Close)
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	a.Log.LogStartup(cfg.DataDir, cfg.Storage.Backend)
	return nil
}

func (a *App) openSink(cfg config.Config) (audit.Sink, error) {
	if !cfg.Audit.Journal {
		return audit.NewMemorySink(), nil
	}
	js, err := audit.OpenJournalSink(cfg.JournalPath(), cfg.Audit.MaxSegmentSize)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, js.Close)
	return js, nil
}

func alerterFor(cfg config.Config, log *logger.Logger) audit.Alerter {
	alerters := audit.MultiAlerter{audit.LogAlerter{Log: log.Component("audit")}}
	for _, w := range cfg.Audit.Webhooks {
		alerters = append(alerters, &audit.WebhookAlerter{
			URL:     w.URL,
			Timeout: cfg.Audit.AlertTimeout,
			Headers: w.Headers,
		})
	}
	if len(alerters) == 1 {
		return alerters[0]
	}
	return alerters
}

// SaveProfiles validates and stores security profiles
func (a *App) SaveProfiles(ctx context.Context, profiles []security.Profile) error {
	for i := range profiles {
		p := profiles[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %s: %w", p.DocumentID, err)
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = time.Now().UTC()
		}
		if err := a.Store.SaveProfile(ctx, &p); err != nil {
			return fmt.Errorf("save profile %s: %w", p.DocumentID, err)
		}
		if _, err := a.Audit.LogDocumentEvent(ctx, "system", p.DocumentID, audit.ActionSecurityProfileSaved,
			audit.ResultSuccess, audit.RiskMedium, map[string]any{
				"classification": string(p.Classification),
			}); err != nil {
			return err
		}
	}
	return nil
}

// Ready reports whether the audit trail is intact
func (a *App) Ready(context.Context) error {
	return a.Audit.Verify()
}

// Close releases the journal and database. Safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Log != nil {
		a.Log.LogShutdown()
	}
	return errors.Join(errs...)
}
