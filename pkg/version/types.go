// ABOUTME: Version store ports and request/response types
// ABOUTME: Repository and lock-checker interfaces the store depends on

package version

import (
	"context"

	"github.com/nainya/docvault/pkg/diffutil"
	"github.com/nainya/docvault/pkg/document"
)

// Repository is the persistence port of the version store. Writes must be
// durable when they return and must report failures rather than drop data.
type Repository interface {
	// PersistVersionChanges stores versions and appends change records in
	// one atomic write: either all of them land or none do
	PersistVersionChanges(ctx context.Context, versions []*document.Version, changes []*document.Change) error

	// Versions returns every version of a document in any order
	Versions(ctx context.Context, documentID string) ([]*document.Version, error)

	// Changes returns every change of a document in any order
	Changes(ctx context.Context, documentID string) ([]*document.Change, error)
}

// LockChecker reports the active lock of a document, or nil if none
type LockChecker interface {
	HeldBy(ctx context.Context, documentID string) (*document.Lock, error)
}

// CreateInput carries the caller-supplied fields of a new version
type CreateInput struct {
	Title           string         `json:"title" validate:"required"`
	Description     string         `json:"description,omitempty"`
	ContentType     string         `json:"contentType" validate:"required"`
	CreatedBy       string         `json:"createdBy" validate:"required"`
	Tags            []string       `json:"tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentVersionID string         `json:"parentVersionId,omitempty"`
}

// Comparison is the result of comparing two versions of one document
type Comparison struct {
	DocumentID  string               `json:"documentId"`
	Version1ID  string               `json:"version1Id"`
	Version2ID  string               `json:"version2Id"`
	Differences []diffutil.FieldDiff `json:"differences"`
	ContentDiff diffutil.ContentDiff `json:"contentDiff"`
}

// HasDifference reports whether field differs in the comparison
func (c *Comparison) HasDifference(field string) bool {
	for _, d := range c.Differences {
		if d.Field == field {
			return true
		}
	}
	return false
}

func fieldSet(v *document.Version) diffutil.FieldSet {
	return diffutil.FieldSet{
		Title:       v.Title,
		Description: v.Description,
		Tags:        v.Tags,
		Status:      string(v.Status),
	}
}
