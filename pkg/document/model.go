// ABOUTME: Document version-control data model
// ABOUTME: Versions, change records, locks and merge conflicts

package document

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a single version
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReview   Status = "review"
	StatusApproved Status = "approved"
	StatusArchived Status = "archived"
)

// ChangeType classifies a DocumentChange
type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeUpdate  ChangeType = "update"
	ChangeDelete  ChangeType = "delete"
	ChangeRestore ChangeType = "restore"
	ChangeApprove ChangeType = "approve"
	ChangeReject  ChangeType = "reject"
)

// LockType is the intent behind a document lock
type LockType string

const (
	LockEdit   LockType = "edit"
	LockReview LockType = "review"
	LockAdmin  LockType = "admin"
)

// ConflictType classifies a merge conflict
type ConflictType string

const (
	ConflictContent     ConflictType = "content"
	ConflictMetadata    ConflictType = "metadata"
	ConflictPermissions ConflictType = "permissions"
)

// Resolution records which side won a merge conflict
type Resolution string

const (
	ResolveVersion1 Resolution = "version1"
	ResolveVersion2 Resolution = "version2"
	ResolveManual   Resolution = "manual"
)

// Version is an immutable snapshot in a document's version chain.
// Status and IsLatest are the only fields that change after creation.
type Version struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"documentId"`
	VersionNumber   string         `json:"versionNumber"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Content         []byte         `json:"content"`
	ContentType     string         `json:"contentType"`
	Size            int64          `json:"size"`
	Checksum        string         `json:"checksum"`
	CreatedBy       string         `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
	Tags            []string       `json:"tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentVersionID string         `json:"parentVersionId,omitempty"`
	IsLatest        bool           `json:"isLatest"`
	Status          Status         `json:"status"`
	Seq             uint64         `json:"seq"`
}

// Clone returns a deep copy so callers cannot mutate stored state
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	c := *v
	c.Content = slices.Clone(v.Content)
	c.Tags = slices.Clone(v.Tags)
	if v.Metadata != nil {
		c.Metadata = make(map[string]any, len(v.Metadata))
		for k, val := range v.Metadata {
			c.Metadata[k] = val
		}
	}
	return &c
}

// FieldChange is a single field-level difference recorded on a change
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue,omitempty"`
}

// Change is an append-only record of an action taken on a version
type Change struct {
	ID             string        `json:"id"`
	DocumentID     string        `json:"documentId"`
	VersionID      string        `json:"versionId"`
	ChangeType     ChangeType    `json:"changeType"`
	Description    string        `json:"description"`
	ChangedBy      string        `json:"changedBy"`
	ChangedAt      time.Time     `json:"changedAt"`
	Changes        []FieldChange `json:"changes,omitempty"`
	ReviewRequired bool          `json:"reviewRequired"`
	ApprovedBy     string        `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time    `json:"approvedAt,omitempty"`
	Seq            uint64        `json:"seq"`
}

// Lock is the single active lease on a document
type Lock struct {
	DocumentID string    `json:"documentId"`
	LockedBy   string    `json:"lockedBy"`
	LockedAt   time.Time `json:"lockedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	LockType   LockType  `json:"lockType"`
	Reason     string    `json:"reason,omitempty"`
}

// Expired reports whether the lease has run out at now
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// MergeConflict is a divergence between two branches of a common base version
type MergeConflict struct {
	ID            string       `json:"id"`
	DocumentID    string       `json:"documentId"`
	BaseVersionID string       `json:"baseVersionId"`
	Version1ID    string       `json:"version1Id"`
	Version2ID    string       `json:"version2Id"`
	ConflictType  ConflictType `json:"conflictType"`
	Field         string       `json:"field,omitempty"`
	Description   string       `json:"description"`
	Version1Value any          `json:"version1Value,omitempty"`
	Version2Value any          `json:"version2Value,omitempty"`
	DetectedAt    time.Time    `json:"detectedAt"`
	Resolution    Resolution   `json:"resolution,omitempty"`
	ResolvedBy    string       `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time   `json:"resolvedAt,omitempty"`
}

// Resolved reports whether a resolution has been recorded
func (c *MergeConflict) Resolved() bool {
	return c.Resolution != ""
}

// Number is a parsed "major.minor" version number
type Number struct {
	Major int
	Minor int
}

// ParseNumber parses a dotted major.minor version number
func ParseNumber(s string) (Number, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return Number{}, fmt.Errorf("invalid version number %q", s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil || maj < 0 {
		return Number{}, fmt.Errorf("invalid major component in %q", s)
	}
	mnr, err := strconv.Atoi(minor)
	if err != nil || mnr < 0 {
		return Number{}, fmt.Errorf("invalid minor component in %q", s)
	}
	return Number{Major: maj, Minor: mnr}, nil
}

func (n Number) String() string {
	return strconv.Itoa(n.Major) + "." + strconv.Itoa(n.Minor)
}

// NextMinor returns major.(minor+1)
func (n Number) NextMinor() Number {
	return Number{Major: n.Major, Minor: n.Minor + 1}
}

// NextMajor returns (major+1).0
func (n Number) NextMajor() Number {
	return Number{Major: n.Major + 1}
}

// InitialNumber is the number given to the first version of a document
var InitialNumber = Number{Major: 1, Minor: 0}

// CanTransition reports whether a version may move from one status to another
func CanTransition(from, to Status) bool {
	switch to {
	case StatusReview:
		return from == StatusDraft
	case StatusApproved:
		return from == StatusDraft || from == StatusReview || from == StatusApproved
	case StatusArchived:
		return from == StatusApproved
	case StatusDraft:
		return from == StatusReview // rejection
	}
	return false
}
