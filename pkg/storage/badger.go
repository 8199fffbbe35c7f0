package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/internal/metrics"
	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/security"
)

// DefaultCacheSize is the number of version chains kept in the read cache
const DefaultCacheSize = 256

// Config configures the badger store
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in memory; used in tests
	InMemory bool

	// SyncWrites fsyncs every commit
	SyncWrites bool

	// CacheSize bounds the version chain cache; 0 means DefaultCacheSize
	CacheSize int
}

// DefaultConfig returns a durable configuration rooted at dir
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, SyncWrites: true, CacheSize: DefaultCacheSize}
}

// InMemoryConfig returns a configuration for tests
func InMemoryConfig() Config {
	return Config{InMemory: true, CacheSize: DefaultCacheSize}
}

type badgerLogger struct {
	log *logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msg(fmt.Sprintf(format, args...))
}

// Badger stores records as JSON values under composite keys, with an LRU
// cache of whole version chains in front of reads
type Badger struct {
	db      *badger.DB
	log     *logger.Logger
	metrics *metrics.Metrics

	cache   *lru.Cache[string, []*document.Version]
	cacheMu sync.Mutex
	gens    map[string]uint64
}

// OpenBadger opens the database described by cfg
func OpenBadger(cfg Config, log *logger.Logger, m *metrics.Metrics) (*Badger, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("storage: dir is required for a persistent database")
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("storage")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []*document.Version](size)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create version cache: %w", err)
	}

	return &Badger{
		db:      db,
		log:     log,
		metrics: m,
		cache:   cache,
		gens:    make(map[string]uint64),
	}, nil
}

// Close closes the database
func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(fn)
}

func (b *Badger) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(fn)
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// getJSON decodes the value at key into v, reporting whether it existed
func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// scanJSON decodes every value under prefix in key order
func scanJSON[T any](txn *badger.Txn, prefix []byte) ([]*T, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []*T
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		v := new(T)
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		}); err != nil {
			return nil, fmt.Errorf("decode %x: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *Badger) invalidate(documentID string) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.gens[documentID]++
	b.cache.Remove(documentID)
}

func (b *Badger) generation(documentID string) uint64 {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	return b.gens[documentID]
}

// fill caches chain unless a write landed since gen was read
func (b *Badger) fill(documentID string, gen uint64, chain []*document.Version) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	if b.gens[documentID] == gen {
		b.cache.Add(documentID, chain)
	}
}

func (b *Badger) PersistVersions(ctx context.Context, versions ...*document.Version) error {
	return b.PersistVersionChanges(ctx, versions, nil)
}

// PersistVersionChanges writes versions and change records in one transaction
func (b *Badger) PersistVersionChanges(ctx context.Context, versions []*document.Version, changes []*document.Change) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		for _, v := range versions {
			if err := setJSON(txn, EncodeKey(PrefixVersion, Bytes(v.DocumentID), Bytes(v.ID)), v); err != nil {
				return err
			}
		}
		for _, c := range changes {
			if err := setJSON(txn, EncodeKey(PrefixChange, Bytes(c.DocumentID), Uint64(c.Seq)), c); err != nil {
				return err
			}
		}
		return nil
	})
	for _, v := range versions {
		b.invalidate(v.DocumentID)
	}
	return err
}

func (b *Badger) Versions(ctx context.Context, documentID string) ([]*document.Version, error) {
	if chain, ok := b.cache.Get(documentID); ok {
		b.metrics.RecordCacheHit()
		return cloneChain(chain), nil
	}
	b.metrics.RecordCacheMiss()

	gen := b.generation(documentID)
	var chain []*document.Version
	err := b.view(ctx, func(txn *badger.Txn) error {
		var err error
		chain, err = scanJSON[document.Version](txn, EncodeKey(PrefixVersion, Bytes(documentID)))
		return err
	})
	if err != nil {
		return nil, err
	}
	b.fill(documentID, gen, chain)
	return cloneChain(chain), nil
}

func cloneChain(chain []*document.Version) []*document.Version {
	out := make([]*document.Version, len(chain))
	for i, v := range chain {
		out[i] = v.Clone()
	}
	return out
}

func (b *Badger) PersistChange(ctx context.Context, c *document.Change) error {
	return b.PersistVersionChanges(ctx, nil, []*document.Change{c})
}

func (b *Badger) Changes(ctx context.Context, documentID string) ([]*document.Change, error) {
	var out []*document.Change
	err := b.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[document.Change](txn, EncodeKey(PrefixChange, Bytes(documentID)))
		return err
	})
	return out, err
}

func (b *Badger) Lock(ctx context.Context, documentID string) (*document.Lock, error) {
	var l document.Lock
	var found bool
	err := b.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, EncodeKey(PrefixLock, Bytes(documentID)), &l)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &l, nil
}

func (b *Badger) SaveLock(ctx context.Context, l *document.Lock) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, EncodeKey(PrefixLock, Bytes(l.DocumentID)), l)
	})
}

func (b *Badger) DeleteLock(ctx context.Context, documentID string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(EncodeKey(PrefixLock, Bytes(documentID)))
	})
}

func (b *Badger) SaveConflicts(ctx context.Context, conflicts ...*document.MergeConflict) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		for _, c := range conflicts {
			if err := setJSON(txn, EncodeKey(PrefixConflict, Bytes(c.DocumentID), Bytes(c.ID)), c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Conflicts(ctx context.Context, documentID string) ([]*document.MergeConflict, error) {
	var out []*document.MergeConflict
	err := b.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[document.MergeConflict](txn, EncodeKey(PrefixConflict, Bytes(documentID)))
		return err
	})
	return out, err
}

func (b *Badger) Conflict(ctx context.Context, documentID, conflictID string) (*document.MergeConflict, error) {
	var c document.MergeConflict
	var found bool
	err := b.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, EncodeKey(PrefixConflict, Bytes(documentID), Bytes(conflictID)), &c)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (b *Badger) SaveProfile(ctx context.Context, p *security.Profile) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, EncodeKey(PrefixProfile, Bytes(p.DocumentID)), p)
	})
}

// Profile implements security.Provider
func (b *Badger) Profile(ctx context.Context, documentID string) (*security.Profile, error) {
	var p security.Profile
	var found bool
	err := b.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, EncodeKey(PrefixProfile, Bytes(documentID)), &p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, docerr.NotFound("security profile for %s", documentID)
	}
	return &p, nil
}
