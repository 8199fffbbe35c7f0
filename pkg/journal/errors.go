// Package journal implements an append-only, CRC-framed segment log used as
// the durable sink of the audit trail. Segments are rotated by size but never
// pruned: the trail is complete for its whole retention window.
package journal

import "errors"

var (
	// ErrCorrupted indicates a record whose CRC does not match its bytes
	ErrCorrupted = errors.New("journal: corrupted record")

	// ErrTruncated indicates a record cut short in the middle of a segment
	ErrTruncated = errors.New("journal: truncated record")

	// ErrClosed indicates an operation on a closed journal
	ErrClosed = errors.New("journal: closed")

	// ErrFailed indicates a journal that could not undo a failed append and
	// refuses further writes until reopened
	ErrFailed = errors.New("journal: failed")

	// ErrTooLarge indicates a payload exceeding MaxPayloadSize
	ErrTooLarge = errors.New("journal: payload too large")
)
