// ABOUTME: Document version store with per-document serialized writes
// ABOUTME: Numbering, latest tracking, approval workflow, restore and comparison

package version

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nainya/docvault/internal/keymutex"
	"github.com/nainya/docvault/internal/logger"
	"github.com/nainya/docvault/internal/metrics"
	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/diffutil"
	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/security"
)

// Options configures a Store
type Options struct {
	Repo  Repository
	Audit *audit.Logger
	Guard *security.Guard

	// Locks and RequireEditLock make writes conditional on the writer
	// holding an edit (or admin) lock on the document. Off by default:
	// locks are advisory unless this is set.
	Locks           LockChecker
	RequireEditLock bool

	Now     func() time.Time
	NewID   func() string
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// Store holds the version chain and change history of every document.
// Writes to one document are serialized; reads are not.
type Store struct {
	repo            Repository
	audit           *audit.Logger
	guard           *security.Guard
	locks           LockChecker
	requireEditLock bool
	now             func() time.Time
	newID           func() string
	log             *logger.Logger
	metrics         *metrics.Metrics

	docs keymutex.KeyMutex
}

var validate = validator.New()

// New creates a version store
func New(opts Options) (*Store, error) {
	if opts.Repo == nil {
		return nil, errors.New("version: repository is required")
	}
	if opts.RequireEditLock && opts.Locks == nil {
		return nil, errors.New("version: RequireEditLock needs a lock checker")
	}
	s := &Store{
		repo:            opts.Repo,
		audit:           opts.Audit,
		guard:           opts.Guard,
		locks:           opts.Locks,
		requireEditLock: opts.RequireEditLock,
		now:             opts.Now,
		newID:           opts.NewID,
		log:             opts.Log,
		metrics:         opts.Metrics,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.Component("version")
	return s, nil
}

func (s *Store) observe(op, documentID string, start time.Time, err *error) {
	d := time.Since(start)
	s.metrics.RecordOperation("version", op, d, *err)
	s.log.LogOperation(op, documentID, d, *err)
}

// CreateVersion adds a new latest version to the document's chain.
//
// The number is the parent's next free minor when ParentVersionID names a
// version of this document, otherwise the latest version's next free major,
// otherwise 1.0. A ParentVersionID that does not resolve is dropped.
//
// When err wraps docerr.ErrAlertDispatch or an audit failure the version has
// already been stored and is returned alongside the error.
func (s *Store) CreateVersion(ctx context.Context, documentID string, content []byte, in CreateInput) (v *document.Version, err error) {
	defer s.observe("create_version", documentID, time.Now(), &err)

	if documentID == "" {
		return nil, docerr.Validation("document id is required")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.guard.Check(ctx, documentID, in.CreatedBy, security.OpCreateVersion); err != nil {
		return nil, err
	}

	s.docs.Lock(documentID)
	defer s.docs.Unlock(documentID)

	if err := s.checkEditLock(ctx, documentID, in.CreatedBy); err != nil {
		return nil, err
	}
	return s.createLocked(ctx, documentID, content, in, nil)
}

func validateInput(in CreateInput) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return docerr.Validation("%s is required", verrs[0].Field())
		}
		return docerr.Validation("invalid version input: %v", err)
	}
	return nil
}

// createLocked writes the new version and its change records. When restoreOf
// is set a restore change is recorded ahead of the create change.
// Caller must hold the document mutex.
func (s *Store) createLocked(ctx context.Context, documentID string, content []byte, in CreateInput, restoreOf *document.Version) (*document.Version, error) {
	chain, err := s.repo.Versions(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load versions", err)
	}

	number, parentID, err := nextNumber(chain, in.ParentVersionID)
	if err != nil {
		return nil, err
	}
	if in.ParentVersionID != "" && parentID == "" {
		s.log.Warn().
			Str("document_id", documentID).
			Str("parent_version_id", in.ParentVersionID).
			Msg("Parent version not in chain, numbering from latest")
	}

	now := s.now()
	v := &document.Version{
		ID:              s.newID(),
		DocumentID:      documentID,
		VersionNumber:   number.String(),
		Title:           in.Title,
		Description:     in.Description,
		Content:         slices.Clone(content),
		ContentType:     in.ContentType,
		Size:            int64(len(content)),
		Checksum:        diffutil.Checksum(content),
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		Tags:            diffutil.NormalizeTags(in.Tags),
		Metadata:        cloneMap(in.Metadata),
		ParentVersionID: parentID,
		IsLatest:        true,
		Status:          document.StatusDraft,
		Seq:             maxVersionSeq(chain) + 1,
	}

	writes := make([]*document.Version, 0, 2)
	for _, old := range chain {
		if old.IsLatest {
			demoted := old.Clone()
			demoted.IsLatest = false
			writes = append(writes, demoted)
		}
	}
	writes = append(writes, v)

	seq, err := s.nextChangeSeq(ctx, documentID)
	if err != nil {
		return nil, err
	}

	changes := make([]*document.Change, 0, 2)
	if restoreOf != nil {
		changes = append(changes, &document.Change{
			ID:          s.newID(),
			DocumentID:  documentID,
			VersionID:   restoreOf.ID,
			ChangeType:  document.ChangeRestore,
			Description: fmt.Sprintf("Restored version %s as %s", restoreOf.VersionNumber, v.VersionNumber),
			ChangedBy:   in.CreatedBy,
			ChangedAt:   now,
			Changes: []document.FieldChange{
				{Field: "versionNumber", OldValue: restoreOf.VersionNumber, NewValue: v.VersionNumber},
			},
			Seq: seq,
		})
		seq++
	}
	changes = append(changes, &document.Change{
		ID:          s.newID(),
		DocumentID:  documentID,
		VersionID:   v.ID,
		ChangeType:  document.ChangeCreate,
		Description: fmt.Sprintf("Created version %s", v.VersionNumber),
		ChangedBy:   in.CreatedBy,
		ChangedAt:   now,
		Seq:         seq,
	})

	if err := s.repo.PersistVersionChanges(ctx, writes, changes); err != nil {
		return nil, docerr.Persistence("persist version", err)
	}
	s.metrics.RecordVersionCreated()

	if restoreOf != nil {
		if err := s.record(ctx, in.CreatedBy, documentID, audit.ActionVersionRestored, map[string]any{
			"restoredVersionId": restoreOf.ID,
			"restoredNumber":    restoreOf.VersionNumber,
			"newVersionId":      v.ID,
			"newNumber":         v.VersionNumber,
		}); err != nil {
			return v.Clone(), err
		}
	}
	if err := s.record(ctx, in.CreatedBy, documentID, audit.ActionVersionCreated, map[string]any{
		"versionId":     v.ID,
		"versionNumber": v.VersionNumber,
		"checksum":      v.Checksum,
		"size":          v.Size,
	}); err != nil {
		return v.Clone(), err
	}
	return v.Clone(), nil
}

// nextNumber picks the number for a new version and the parent it hangs off
func nextNumber(chain []*document.Version, parentID string) (document.Number, string, error) {
	taken := make(map[string]bool, len(chain))
	var parent, latest *document.Version
	for _, v := range chain {
		taken[v.VersionNumber] = true
		if parentID != "" && v.ID == parentID {
			parent = v
		}
		if v.IsLatest {
			latest = v
		}
	}

	switch {
	case parent != nil:
		n, err := document.ParseNumber(parent.VersionNumber)
		if err != nil {
			return document.Number{}, "", fmt.Errorf("parent version %s: %w", parent.ID, err)
		}
		n = n.NextMinor()
		for taken[n.String()] {
			n = n.NextMinor()
		}
		return n, parent.ID, nil
	case latest != nil:
		n, err := document.ParseNumber(latest.VersionNumber)
		if err != nil {
			return document.Number{}, "", fmt.Errorf("latest version %s: %w", latest.ID, err)
		}
		n = n.NextMajor()
		for taken[n.String()] {
			n = n.NextMajor()
		}
		return n, "", nil
	default:
		n := document.InitialNumber
		for taken[n.String()] {
			n = n.NextMajor()
		}
		return n, "", nil
	}
}

func (s *Store) checkEditLock(ctx context.Context, documentID, userID string) error {
	if !s.requireEditLock {
		return nil
	}
	l, err := s.locks.HeldBy(ctx, documentID)
	if err != nil {
		return fmt.Errorf("check edit lock: %w", err)
	}
	switch {
	case l == nil:
		return docerr.Conflict("document %s requires an edit lock to write versions", documentID)
	case l.LockedBy != userID:
		return docerr.Conflict("document %s is locked by %s until %s", documentID, l.LockedBy, l.ExpiresAt.Format(time.RFC3339))
	case l.LockType == document.LockReview:
		return docerr.Conflict("document %s is locked for review, not edit", documentID)
	}
	return nil
}

func (s *Store) nextChangeSeq(ctx context.Context, documentID string) (uint64, error) {
	changes, err := s.repo.Changes(ctx, documentID)
	if err != nil {
		return 0, docerr.Persistence("load changes", err)
	}
	var highest uint64
	for _, c := range changes {
		highest = max(highest, c.Seq)
	}
	return highest + 1, nil
}

func maxVersionSeq(chain []*document.Version) uint64 {
	var highest uint64
	for _, v := range chain {
		highest = max(highest, v.Seq)
	}
	return highest
}

func (s *Store) record(ctx context.Context, actor, documentID, action string, details map[string]any) error {
	if s.audit == nil {
		return nil
	}
	_, err := s.audit.LogDocumentEvent(ctx, actor, documentID, action, audit.ResultSuccess, audit.RiskLow, details)
	return err
}

// GetVersion returns the version, or nil when the document has no such version
func (s *Store) GetVersion(ctx context.Context, documentID, versionID string) (*document.Version, error) {
	chain, err := s.repo.Versions(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load versions", err)
	}
	for _, v := range chain {
		if v.ID == versionID {
			return v.Clone(), nil
		}
	}
	return nil, nil
}

// GetLatestVersion returns the latest version, or nil for a document without versions
func (s *Store) GetLatestVersion(ctx context.Context, documentID string) (*document.Version, error) {
	chain, err := s.repo.Versions(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load versions", err)
	}
	for _, v := range chain {
		if v.IsLatest {
			return v.Clone(), nil
		}
	}
	return nil, nil
}

// GetVersionHistory returns all versions newest first
func (s *Store) GetVersionHistory(ctx context.Context, documentID string) ([]*document.Version, error) {
	chain, err := s.repo.Versions(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load versions", err)
	}
	out := make([]*document.Version, len(chain))
	for i, v := range chain {
		out[i] = v.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// GetChangeHistory returns all change records newest first
func (s *Store) GetChangeHistory(ctx context.Context, documentID string) ([]*document.Change, error) {
	changes, err := s.repo.Changes(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load changes", err)
	}
	out := slices.Clone(changes)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ChangedAt.Equal(out[j].ChangedAt) {
			return out[i].ChangedAt.After(out[j].ChangedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// CompareVersions diffs the metadata fields and content of two versions,
// treating v1 as the old side
func (s *Store) CompareVersions(ctx context.Context, documentID, v1ID, v2ID string) (c *Comparison, err error) {
	defer s.observe("compare_versions", documentID, time.Now(), &err)

	chain, err := s.repo.Versions(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load versions", err)
	}
	v1, v2 := find(chain, v1ID), find(chain, v2ID)
	if v1 == nil {
		return nil, docerr.NotFound("version %s of document %s", v1ID, documentID)
	}
	if v2 == nil {
		return nil, docerr.NotFound("version %s of document %s", v2ID, documentID)
	}

	return &Comparison{
		DocumentID:  documentID,
		Version1ID:  v1.ID,
		Version2ID:  v2.ID,
		Differences: diffutil.CompareFields(fieldSet(v1), fieldSet(v2)),
		ContentDiff: diffutil.DiffContent(
			documentID+"@"+v1.VersionNumber,
			documentID+"@"+v2.VersionNumber,
			v1.Content, v2.Content),
	}, nil
}

func find(chain []*document.Version, id string) *document.Version {
	for _, v := range chain {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// RestoreVersion creates a new latest version whose content is copied from
// the target. The target keeps its content, number and status; history only
// grows. The new version continues the current line: its parent is the
// latest version, so restoring 1.0 over a latest 2.0 yields 2.1.
func (s *Store) RestoreVersion(ctx context.Context, documentID, versionID, restoredBy string) (v *document.Version, err error) {
	defer s.observe("restore_version", documentID, time.Now(), &err)

	if restoredBy == "" {
		return nil, docerr.Validation("restoredBy is required")
	}
	if err := s.guard.Check(ctx, documentID, restoredBy, security.OpRestore); err != nil {
		return nil, err
	}

	s.docs.Lock(documentID)
	defer s.docs.Unlock(documentID)

	chain, err := s.repo.Versions(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load versions", err)
	}
	target := find(chain, versionID)
	if target == nil {
		return nil, docerr.NotFound("version %s of document %s", versionID, documentID)
	}
	if err := s.checkEditLock(ctx, documentID, restoredBy); err != nil {
		return nil, err
	}

	parentID := target.ID
	for _, v := range chain {
		if v.IsLatest {
			parentID = v.ID
		}
	}

	in := CreateInput{
		Title:           target.Title,
		Description:     fmt.Sprintf("Restored from version %s", target.VersionNumber),
		ContentType:     target.ContentType,
		CreatedBy:       restoredBy,
		Tags:            target.Tags,
		Metadata:        target.Metadata,
		ParentVersionID: parentID,
	}
	return s.createLocked(ctx, documentID, target.Content, in, target.Clone())
}

type transition struct {
	op         string
	to         document.Status
	changeType document.ChangeType
	action     string
	secOp      security.Operation
}

var (
	approveTransition = transition{"approve_version", document.StatusApproved, document.ChangeApprove, audit.ActionVersionApproved, security.OpApprove}
	submitTransition  = transition{"submit_version", document.StatusReview, document.ChangeUpdate, audit.ActionVersionSubmitted, ""}
	rejectTransition  = transition{"reject_version", document.StatusDraft, document.ChangeReject, audit.ActionVersionRejected, ""}
	archiveTransition = transition{"archive_version", document.StatusArchived, document.ChangeUpdate, audit.ActionVersionArchived, ""}
)

// ApproveVersion marks a version approved. Several versions of a chain may
// be approved at once. Archived versions cannot be approved.
func (s *Store) ApproveVersion(ctx context.Context, documentID, versionID, approvedBy, comments string) (*document.Version, error) {
	return s.transition(ctx, approveTransition, documentID, versionID, approvedBy, comments)
}

// SubmitForReview moves a draft into review
func (s *Store) SubmitForReview(ctx context.Context, documentID, versionID, submittedBy, comments string) (*document.Version, error) {
	return s.transition(ctx, submitTransition, documentID, versionID, submittedBy, comments)
}

// RejectVersion sends a version under review back to draft
func (s *Store) RejectVersion(ctx context.Context, documentID, versionID, rejectedBy, reason string) (*document.Version, error) {
	return s.transition(ctx, rejectTransition, documentID, versionID, rejectedBy, reason)
}

// ArchiveVersion retires an approved version
func (s *Store) ArchiveVersion(ctx context.Context, documentID, versionID, archivedBy, comments string) (*document.Version, error) {
	return s.transition(ctx, archiveTransition, documentID, versionID, archivedBy, comments)
}

func (s *Store) transition(ctx context.Context, t transition, documentID, versionID, actor, comments string) (v *document.Version, err error) {
	defer s.observe(t.op, documentID, time.Now(), &err)

	if actor == "" {
		return nil, docerr.Validation("acting principal is required")
	}
	if t.secOp != "" {
		if err := s.guard.Check(ctx, documentID, actor, t.secOp); err != nil {
			return nil, err
		}
	}

	s.docs.Lock(documentID)
	defer s.docs.Unlock(documentID)

	chain, err := s.repo.Versions(ctx, documentID)
	if err != nil {
		return nil, docerr.Persistence("load versions", err)
	}
	current := find(chain, versionID)
	if current == nil {
		return nil, docerr.NotFound("version %s of document %s", versionID, documentID)
	}
	if !document.CanTransition(current.Status, t.to) {
		return nil, docerr.Validation("version %s cannot move from %s to %s", current.VersionNumber, current.Status, t.to)
	}

	updated := current.Clone()
	updated.Status = t.to

	seq, err := s.nextChangeSeq(ctx, documentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	description := comments
	if description == "" {
		description = fmt.Sprintf("Version %s moved from %s to %s", current.VersionNumber, current.Status, t.to)
	}
	change := &document.Change{
		ID:          s.newID(),
		DocumentID:  documentID,
		VersionID:   versionID,
		ChangeType:  t.changeType,
		Description: description,
		ChangedBy:   actor,
		ChangedAt:   now,
		Changes: []document.FieldChange{
			{Field: diffutil.FieldStatus, OldValue: string(current.Status), NewValue: string(t.to)},
		},
		ReviewRequired: t.changeType == document.ChangeUpdate,
		Seq:            seq,
	}
	if t.changeType == document.ChangeApprove {
		change.ApprovedBy = actor
		change.ApprovedAt = &now
	}
	if err := s.repo.PersistVersionChanges(ctx, []*document.Version{updated}, []*document.Change{change}); err != nil {
		return nil, docerr.Persistence("persist version", err)
	}
	s.metrics.RecordTransition(string(t.to))

	if err := s.record(ctx, actor, documentID, t.action, map[string]any{
		"versionId":     versionID,
		"versionNumber": current.VersionNumber,
		"from":          string(current.Status),
		"to":            string(t.to),
	}); err != nil {
		return updated.Clone(), err
	}
	return updated.Clone(), nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
