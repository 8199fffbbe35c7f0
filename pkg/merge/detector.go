// ABOUTME: Merge-conflict detection between two branches of a common base version
// ABOUTME: Metadata, coarse content and permissions conflicts, each resolved once

package merge

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/docvault/internal/keymutex"
	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/internal/metrics"
	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/version"
)

// PermissionsKey is the metadata key holding a version's permission set
const PermissionsKey = "permissions"

// Repository stores merge conflicts per document
type Repository interface {
	SaveConflicts(ctx context.Context, conflicts ...*document.MergeConflict) error
	Conflicts(ctx context.Context, documentID string) ([]*document.MergeConflict, error)
	// Conflict returns the conflict, or nil if there is none
	Conflict(ctx context.Context, documentID, conflictID string) (*document.MergeConflict, error)
}

// Versions is the part of the version store the detector reads
type Versions interface {
	GetVersion(ctx context.Context, documentID, versionID string) (*document.Version, error)
	CompareVersions(ctx context.Context, documentID, v1ID, v2ID string) (*version.Comparison, error)
}

// Options configures a Detector
type Options struct {
	Versions Versions
	Repo     Repository
	Audit    *audit.Logger
	Now      func() time.Time
	NewID    func() string
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// Detector finds and records conflicting edits between version branches
type Detector struct {
	versions Versions
	repo     Repository
	audit    *audit.Logger
	now      func() time.Time
	newID    func() string
	log      *logger.Logger
	metrics  *metrics.Metrics

	docs keymutex.KeyMutex
}

// New creates a detector
func New(opts Options) (*Detector, error) {
	if opts.Versions == nil || opts.Repo == nil {
		return nil, errors.New("merge: versions and repository are required")
	}
	d := &Detector{
		versions: opts.Versions,
		repo:     opts.Repo,
		audit:    opts.Audit,
		now:      opts.Now,
		newID:    opts.NewID,
		log:      opts.Log,
		metrics:  opts.Metrics,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	if d.log == nil {
		d.log = logger.Nop()
	}
	d.log = d.log.Component("merge")
	return d, nil
}

func (d *Detector) observe(op, documentID string, start time.Time, err *error) {
	dur := time.Since(start)
	d.metrics.RecordOperation("merge", op, dur, *err)
	d.log.LogOperation(op, documentID, dur, *err)
}

// DetectMergeConflicts compares v1 and v2 against their common base.
//
// A metadata conflict is raised for every compared field both branches
// changed to different values. Content conflicts are coarse: both branches
// changed content and ended up with different checksums. A permissions
// conflict is raised when both branches changed metadata["permissions"]
// differently. Detecting the same unresolved conflict twice returns the
// stored record instead of a duplicate.
func (d *Detector) DetectMergeConflicts(ctx context.Context, documentID, baseID, v1ID, v2ID string) (out []*document.MergeConflict, err error) {
	defer d.observe("detect_conflicts", documentID, time.Now(), &err)

	c1, err := d.versions.CompareVersions(ctx, documentID, baseID, v1ID)
	if err != nil {
		return nil, err
	}
	c2, err := d.versions.CompareVersions(ctx, documentID, baseID, v2ID)
	if err != nil {
		return nil, err
	}
	base, v1, v2, err := d.load(ctx, documentID, baseID, v1ID, v2ID)
	if err != nil {
		return nil, err
	}

	now := d.now()
	conflict := func(ct document.ConflictType, field, desc string, val1, val2 any) *document.MergeConflict {
		return &document.MergeConflict{
			DocumentID:    documentID,
			BaseVersionID: baseID,
			Version1ID:    v1ID,
			Version2ID:    v2ID,
			ConflictType:  ct,
			Field:         field,
			Description:   desc,
			Version1Value: val1,
			Version2Value: val2,
			DetectedAt:    now,
		}
	}

	var found []*document.MergeConflict
	for _, d1 := range c1.Differences {
		for _, d2 := range c2.Differences {
			if d1.Field != d2.Field || reflect.DeepEqual(d1.NewValue, d2.NewValue) {
				continue
			}
			found = append(found, conflict(document.ConflictMetadata, d1.Field,
				fmt.Sprintf("both versions changed %s: %s in %s, %s in %s",
					d1.Field, d1.ChangeType, v1.VersionNumber, d2.ChangeType, v2.VersionNumber),
				d1.NewValue, d2.NewValue))
		}
	}

	if c1.ContentDiff.Changed && c2.ContentDiff.Changed && v1.Checksum != v2.Checksum {
		found = append(found, conflict(document.ConflictContent, "content",
			fmt.Sprintf("both versions changed content since %s: %s / %s",
				base.VersionNumber, c1.ContentDiff.Summary, c2.ContentDiff.Summary),
			v1.Checksum, v2.Checksum))
	}

	p0, p1, p2 := base.Metadata[PermissionsKey], v1.Metadata[PermissionsKey], v2.Metadata[PermissionsKey]
	if !reflect.DeepEqual(p0, p1) && !reflect.DeepEqual(p0, p2) && !reflect.DeepEqual(p1, p2) {
		found = append(found, conflict(document.ConflictPermissions, PermissionsKey,
			"both versions changed permissions differently", p1, p2))
	}

	if len(found) == 0 {
		return nil, nil
	}

	d.docs.Lock(documentID)
	defer d.docs.Unlock(documentID)

	existing, err := d.repo.Conflicts(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load conflicts", err)
	}

	var fresh []*document.MergeConflict
	for _, c := range found {
		if prior := matchOpen(existing, c); prior != nil {
			out = append(out, prior)
			continue
		}
		c.ID = d.newID()
		fresh = append(fresh, c)
		out = append(out, c)
	}

	if len(fresh) > 0 {
		if err := d.repo.SaveConflicts(ctx, fresh...); err != nil {
			return nil, docerr.Persistence("persist conflicts", err)
		}
		counts := map[document.ConflictType]int{}
		for _, c := range fresh {
			counts[c.ConflictType]++
		}
		for ct, n := range counts {
			d.metrics.RecordMergeConflicts(string(ct), n)
		}
		if err := d.record(ctx, "system", documentID, audit.ActionMergeConflictDetected, map[string]any{
			"baseVersionId": baseID,
			"version1Id":    v1ID,
			"version2Id":    v2ID,
			"conflicts":     len(fresh),
		}); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (d *Detector) load(ctx context.Context, documentID string, ids ...string) (base, v1, v2 *document.Version, err error) {
	vs := make([]*document.Version, len(ids))
	for i, id := range ids {
		v, err := d.versions.GetVersion(ctx, documentID, id)
		if err != nil {
			return nil, nil, nil, err
		}
		if v == nil {
			return nil, nil, nil, docerr.NotFound("version %s of document %s", id, documentID)
		}
		vs[i] = v
	}
	return vs[0], vs[1], vs[2], nil
}

// matchOpen finds an unresolved conflict describing the same divergence
func matchOpen(existing []*document.MergeConflict, c *document.MergeConflict) *document.MergeConflict {
	for _, e := range existing {
		if !e.Resolved() &&
			e.BaseVersionID == c.BaseVersionID &&
			e.Version1ID == c.Version1ID &&
			e.Version2ID == c.Version2ID &&
			e.ConflictType == c.ConflictType &&
			e.Field == c.Field {
			return e
		}
	}
	return nil
}

// ListConflicts returns a document's conflicts oldest first. With
// openOnly set, resolved conflicts are left out.
func (d *Detector) ListConflicts(ctx context.Context, documentID string, openOnly bool) ([]*document.MergeConflict, error) {
	all, err := d.repo.Conflicts(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load conflicts", err)
	}
	out := all[:0]
	for _, c := range all {
		if openOnly && c.Resolved() {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		if out[i].ConflictType != out[j].ConflictType {
			return out[i].ConflictType < out[j].ConflictType
		}
		return out[i].Field < out[j].Field
	})
	return out, nil
}

// ResolveConflict records which side wins. A conflict can be resolved only
// once; later attempts fail with docerr.ErrConflict.
func (d *Detector) ResolveConflict(ctx context.Context, documentID, conflictID string, resolution document.Resolution, resolvedBy string) (c *document.MergeConflict, err error) {
	defer d.observe("resolve_conflict", documentID, time.Now(), &err)

	switch resolution {
	case document.ResolveVersion1, document.ResolveVersion2, document.ResolveManual:
	default:
		return nil, docerr.Validation("unknown resolution %q", resolution)
	}
	if resolvedBy == "" {
		return nil, docerr.Validation("resolvedBy is required")
	}

	d.docs.Lock(documentID)
	defer d.docs.Unlock(documentID)

	c, err = d.repo.Conflict(ctx, documentID, conflictID)
	if err != nil {
		return nil, docerr.Persistence("load conflict", err)
	}
	if c == nil {
		return nil, docerr.NotFound("merge conflict %s of document %s", conflictID, documentID)
	}
	if c.Resolved() {
		return nil, docerr.Conflict("merge conflict %s was already resolved as %s by %s", conflictID, c.Resolution, c.ResolvedBy)
	}

	now := d.now()
	c.Resolution = resolution
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now
	if err := d.repo.SaveConflicts(ctx, c); err != nil {
		return nil, docerr.Persistence("persist conflict resolution", err)
	}

	if err := d.record(ctx, resolvedBy, documentID, audit.ActionMergeConflictResolved, map[string]any{
		"conflictId":   conflictID,
		"conflictType": string(c.ConflictType),
		"resolution":   string(resolution),
	}); err != nil {
		return c, err
	}
	return c, nil
}

func (d *Detector) record(ctx context.Context, userID, documentID, action string, details map[string]any) error {
	if d.audit == nil {
		return nil
	}
	_, err := d.audit.LogDocumentEvent(ctx, userID, documentID, action, audit.ResultSuccess, audit.RiskLow, details)
	return err
}
