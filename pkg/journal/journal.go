package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxSegmentSize is the size at which a new segment is started (64MB)
	DefaultMaxSegmentSize = 64 << 20
)

// segmentFile is the part of *os.File an open segment needs
type segmentFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// Journal is an append-only log split into numbered segment files
type Journal struct {
	// Path is the base path for segment files (e.g., "/data/audit.journal")
	Path string

	// MaxSegmentSize overrides DefaultMaxSegmentSize when positive
	MaxSegmentSize int64

	// NoSync skips the fsync after each append. Only for tests.
	NoSync bool

	mu     sync.Mutex
	fd     segmentFile
	seq    uint64
	size   int64
	index  int
	closed bool
	opened bool
	failed error

	// wrap decorates every segment file opened; nil uses the file as is
	wrap func(segmentFile) segmentFile
}

func (j *Journal) adopt(f *os.File) segmentFile {
	if j.wrap != nil {
		return j.wrap(f)
	}
	return f
}

// Open opens or creates the journal, recovering the last sequence number.
// A torn record at the end of the newest segment is cut off so later
// appends start on a clean boundary.
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.Path), 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	files, err := j.segments()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		fd, err := os.OpenFile(j.segmentPath(0), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		j.fd, j.size, j.index, j.seq = j.adopt(fd), 0, 0, 0
		j.closed, j.opened, j.failed = false, true, nil
		return nil
	}

	var maxSeq uint64
	track := func(rec *Record) error {
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		return nil
	}
	for _, f := range files[:len(files)-1] {
		if _, err := scanSegment(f, track); err != nil {
			return fmt.Errorf("scan segment %s: %w", f, err)
		}
	}

	latest := files[len(files)-1]
	good, err := scanSegment(latest, track)
	if err != nil && !errors.Is(err, ErrTruncated) {
		return fmt.Errorf("scan segment %s: %w", latest, err)
	}
	if errors.Is(err, ErrTruncated) {
		if err := os.Truncate(latest, good); err != nil {
			return fmt.Errorf("truncate torn tail of %s: %w", latest, err)
		}
	}

	fd, err := os.OpenFile(latest, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Sscanf(filepath.Base(latest), j.baseName()+".%d", &j.index); err != nil {
		j.index = 0
	}

	j.fd, j.size, j.seq = j.adopt(fd), good, maxSeq
	j.closed, j.opened, j.failed = false, true, nil
	return nil
}

// Append writes a record and, unless NoSync is set, fsyncs it before
// returning. The assigned sequence number is returned. A failed append
// leaves the segment as it was: any bytes already written are cut off
// again, and if that is impossible the journal fails with ErrFailed.
func (j *Journal) Append(kind Kind, payload []byte) (uint64, error) {
	if len(payload) > MaxPayloadSize {
		return 0, ErrTooLarge
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || !j.opened {
		return 0, ErrClosed
	}
	if j.failed != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, j.failed)
	}

	rec := Record{
		Seq:       j.seq + 1,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	data := rec.Encode()

	if j.size > 0 && j.size+int64(len(data)) > j.maxSegmentSize() {
		if err := j.rotateNoLock(); err != nil {
			return 0, err
		}
	}

	start := j.size
	if _, err := j.fd.Write(data); err != nil {
		return 0, j.rollbackNoLock(start, fmt.Errorf("write record %d: %w", rec.Seq, err))
	}
	if !j.NoSync {
		if err := j.fd.Sync(); err != nil {
			return 0, j.rollbackNoLock(start, fmt.Errorf("fsync record %d: %w", rec.Seq, err))
		}
	}

	j.size = start + int64(len(data))
	j.seq = rec.Seq
	return rec.Seq, nil
}

// rollbackNoLock cuts the current segment back to size after a failed
// append and returns cause (caller must hold mu)
func (j *Journal) rollbackNoLock(size int64, cause error) error {
	if err := j.fd.Truncate(size); err != nil {
		j.failed = fmt.Errorf("truncate to %d after %v: %w", size, cause, err)
		return fmt.Errorf("%w: %v", ErrFailed, j.failed)
	}
	j.size = size
	return cause
}

// Replay calls fn for every record in sequence order
func (j *Journal) Replay(fn func(*Record) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := j.segments()
	if err != nil {
		return err
	}
	for i, f := range files {
		_, err := scanSegment(f, fn)
		if errors.Is(err, ErrTruncated) && i == len(files)-1 {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Seq returns the last assigned sequence number
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Segments returns the segment files sorted by index
func (j *Journal) Segments() ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.segments()
}

// Sync flushes the current segment to disk
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || !j.opened {
		return ErrClosed
	}
	return j.fd.Sync()
}

// Close syncs and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || !j.opened {
		return nil
	}
	j.closed = true
	if err := j.fd.Sync(); err != nil {
		j.fd.Close()
		return err
	}
	return j.fd.Close()
}

// rotateNoLock starts a new segment (caller must hold mu)
func (j *Journal) rotateNoLock() error {
	if err := j.fd.Sync(); err != nil {
		return err
	}
	if err := j.fd.Close(); err != nil {
		return err
	}

	j.index++
	fd, err := os.OpenFile(j.segmentPath(j.index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	j.fd = j.adopt(fd)
	j.size = 0
	return nil
}

func (j *Journal) maxSegmentSize() int64 {
	if j.MaxSegmentSize > 0 {
		return j.MaxSegmentSize
	}
	return DefaultMaxSegmentSize
}

func (j *Journal) baseName() string {
	return filepath.Base(j.Path)
}

func (j *Journal) segmentPath(index int) string {
	return filepath.Join(filepath.Dir(j.Path), fmt.Sprintf("%s.%06d", j.baseName(), index))
}

// segments lists segment files sorted by index (caller must hold mu)
func (j *Journal) segments() ([]string, error) {
	dir := filepath.Dir(j.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type seg struct {
		path  string
		index int
	}
	var segs []seg
	pattern := j.baseName() + ".%d"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(e.Name(), pattern, &idx); err != nil {
			continue
		}
		if e.Name() != fmt.Sprintf("%s.%06d", j.baseName(), idx) {
			continue
		}
		segs = append(segs, seg{path: filepath.Join(dir, e.Name()), index: idx})
	}

	sort.Slice(segs, func(a, b int) bool { return segs[a].index < segs[b].index })

	files := make([]string, len(segs))
	for i, s := range segs {
		files[i] = s.path
	}
	return files, nil
}
