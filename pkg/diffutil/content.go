package diffutil

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// NoChanges is the summary reported for identical content
const NoChanges = "no changes"

// ContentDiff summarizes how two content payloads diverge
type ContentDiff struct {
	Changed  bool   `json:"changed"`
	Binary   bool   `json:"binary"`
	Summary  string `json:"summary"`
	Unified  string `json:"unified,omitempty"`
	Hunks    int    `json:"hunks"`
	Added    int    `json:"added"`
	Deleted  int    `json:"deleted"`
	Modified int    `json:"modified"`
	OldSize  int    `json:"oldSize"`
	NewSize  int    `json:"newSize"`
}

// DiffContent compares two payloads. The result depends only on the inputs:
// identical content always yields Summary == NoChanges.
func DiffContent(oldLabel, newLabel string, old, new []byte) ContentDiff {
	d := ContentDiff{OldSize: len(old), NewSize: len(new)}
	if bytes.Equal(old, new) {
		d.Summary = NoChanges
		return d
	}
	d.Changed = true

	if !isText(old) || !isText(new) {
		d.Binary = true
		d.Summary = fmt.Sprintf("binary content differs: %d -> %d bytes, checksum %s -> %s",
			len(old), len(new), ShortChecksum(Checksum(old)), ShortChecksum(Checksum(new)))
		return d
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(string(new)),
		FromFile: oldLabel,
		ToFile:   newLabel,
		Context:  3,
	})
	if err != nil || unified == "" {
		// Content differs only in a way the line differ cannot express
		// (e.g. a trailing newline); fall back to sizes.
		d.Summary = fmt.Sprintf("content differs: %d -> %d bytes", len(old), len(new))
		return d
	}
	d.Unified = unified

	fd, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		d.Summary = fmt.Sprintf("content differs: %d -> %d bytes", len(old), len(new))
		return d
	}
	st := fd.Stat()
	d.Hunks = len(fd.Hunks)
	d.Added = int(st.Added)
	d.Deleted = int(st.Deleted)
	d.Modified = int(st.Changed)
	d.Summary = fmt.Sprintf("content changed in %d hunk(s): %d line(s) added, %d removed, %d modified (%d -> %d bytes)",
		d.Hunks, d.Added, d.Deleted, d.Modified, len(old), len(new))
	return d
}

func isText(b []byte) bool {
	return utf8.Valid(b) && bytes.IndexByte(b, 0) < 0
}
