package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nainya/docvault/pkg/journal"
)

// Sink durably stores entries. Append must not return until the entry is
// stored, and must return an error rather than drop it.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

// Replayer is a Sink whose entries can be read back in append order
type Replayer interface {
	Replay(ctx context.Context, fn func(Entry) error) error
}

// MemorySink keeps entries in process memory
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	fail    error
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores a copy of e
func (s *MemorySink) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, *e)
	return nil
}

// Replay calls fn for each stored entry
func (s *MemorySink) Replay(ctx context.Context, fn func(Entry) error) error {
	s.mu.Lock()
	entries := append([]Entry(nil), s.entries...)
	s.mu.Unlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// FailWith makes every later Append return err; nil restores normal operation
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Len returns the number of stored entries
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// JournalSink stores entries as JSON records in a segment journal,
// fsyncing each one before Append returns
type JournalSink struct {
	j *journal.Journal
}

// OpenJournalSink opens (or creates) the journal at path
func OpenJournalSink(path string, maxSegmentSize int64) (*JournalSink, error) {
	j := &journal.Journal{Path: path, MaxSegmentSize: maxSegmentSize}
	if err := j.Open(); err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	return &JournalSink{j: j}, nil
}

// Append encodes e and writes it durably
func (s *JournalSink) Append(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if _, err := s.j.Append(journal.KindAudit, payload); err != nil {
		return err
	}
	return nil
}

// Replay decodes audit records in journal order, skipping markers
func (s *JournalSink) Replay(ctx context.Context, fn func(Entry) error) error {
	return s.j.Replay(func(rec *journal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Kind != journal.KindAudit {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(rec.Payload, &e); err != nil {
			return fmt.Errorf("decode audit record %d: %w", rec.Seq, err)
		}
		return fn(e)
	})
}

// Close writes a shutdown marker and closes the journal
func (s *JournalSink) Close() error {
	if _, err := s.j.Append(journal.KindMarker, []byte(`{"marker":"close"}`)); err != nil {
		s.j.Close()
		return err
	}
	return s.j.Close()
}
