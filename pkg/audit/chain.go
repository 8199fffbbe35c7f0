package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrChainBroken indicates an entry whose hash or link does not verify
var ErrChainBroken = errors.New("audit: hash chain broken")

// ChainError pinpoints the first entry that fails verification
type ChainError struct {
	Index   int
	EntryID string
	Reason  string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit: hash chain broken at entry %d (%s): %s", e.Index, e.EntryID, e.Reason)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// computeHash digests the entry with its Hash field cleared
func computeHash(e Entry) (string, error) {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// verifyChain checks every hash and every back link in order
func verifyChain(entries []Entry) error {
	prev := ""
	for i := range entries {
		e := entries[i]
		if e.PrevHash != prev {
			return &ChainError{Index: i, EntryID: e.ID, Reason: "previous hash mismatch"}
		}
		h, err := computeHash(e)
		if err != nil {
			return &ChainError{Index: i, EntryID: e.ID, Reason: err.Error()}
		}
		if h != e.Hash {
			return &ChainError{Index: i, EntryID: e.ID, Reason: "content hash mismatch"}
		}
		prev = e.Hash
	}
	return nil
}
