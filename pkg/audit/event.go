// Package audit records security-relevant actions in an append-only,
// hash-chained trail and dispatches synchronous alerts for high-risk events.
package audit

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nainya/docvault/pkg/docerr"
)

// ResourceType is the kind of resource an event concerns
type ResourceType string

const (
	ResourceDataRoom ResourceType = "dataRoom"
	ResourceDocument ResourceType = "document"
	ResourceUser     ResourceType = "user"
	ResourceSystem   ResourceType = "system"
)

// Result is the outcome of the audited action
type Result string

const (
	ResultSuccess      Result = "success"
	ResultFailure      Result = "failure"
	ResultUnauthorized Result = "unauthorized"
)

// RiskLevel grades an event. High and critical events raise an alert.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// Alerting reports whether events at this level must raise an alert
func (r RiskLevel) Alerting() bool {
	return r.rank() >= RiskHigh.rank()
}

// AtLeast reports whether r is as severe as other
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// Access actions
const (
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionLoginFailed      = "login_failed"
	ActionSessionExpired   = "session_expired"
	ActionDataRoomAccess   = "data_room_access"
	ActionDocumentView     = "document_view"
	ActionPermissionDenied = "permission_denied"
	ActionDocumentLocked   = "document_locked"
	ActionDocumentUnlocked = "document_unlocked"
	ActionLockConflict     = "lock_conflict"
	ActionLockExpired      = "lock_expired"
)

// Security actions
const (
	ActionSuspiciousActivity   = "suspicious_activity"
	ActionUnauthorizedAccess   = "unauthorized_access"
	ActionPolicyViolation      = "policy_violation"
	ActionMFAFailed            = "mfa_failed"
	ActionPasswordChanged      = "password_changed"
	ActionAccessPolicyChanged  = "access_policy_changed"
	ActionSecurityProfileSaved = "security_profile_saved"
)

// Data actions
const (
	ActionDocumentUpload        = "document_upload"
	ActionDocumentDownload      = "document_download"
	ActionDocumentShare         = "document_share"
	ActionDocumentPrint         = "document_print"
	ActionDocumentCopy          = "document_copy"
	ActionDocumentDelete        = "document_delete"
	ActionVersionCreated        = "version_created"
	ActionVersionSubmitted      = "version_submitted"
	ActionVersionApproved       = "version_approved"
	ActionVersionRejected       = "version_rejected"
	ActionVersionArchived       = "version_archived"
	ActionVersionRestored       = "version_restored"
	ActionMergeConflictDetected = "merge_conflict_detected"
	ActionMergeConflictResolved = "merge_conflict_resolved"
)

// System actions
const (
	ActionSystemStartup        = "system_startup"
	ActionSystemShutdown       = "system_shutdown"
	ActionConfigurationChanged = "configuration_changed"
	ActionBackupCreated        = "backup_created"
	ActionAuditExported        = "audit_exported"
	ActionAuditReplayed        = "audit_replayed"
)

// ReportType selects the closed set of actions a compliance report covers
type ReportType string

const (
	ReportAccess   ReportType = "access"
	ReportSecurity ReportType = "security"
	ReportData     ReportType = "data"
	ReportSystem   ReportType = "system"
)

var reportActions = map[ReportType][]string{
	ReportAccess: {
		ActionLogin, ActionLogout, ActionLoginFailed, ActionSessionExpired,
		ActionDataRoomAccess, ActionDocumentView, ActionPermissionDenied,
		ActionDocumentLocked, ActionDocumentUnlocked, ActionLockConflict, ActionLockExpired,
	},
	ReportSecurity: {
		ActionSuspiciousActivity, ActionUnauthorizedAccess, ActionPolicyViolation,
		ActionMFAFailed, ActionPasswordChanged, ActionAccessPolicyChanged, ActionSecurityProfileSaved,
	},
	ReportData: {
		ActionDocumentUpload, ActionDocumentDownload, ActionDocumentShare,
		ActionDocumentPrint, ActionDocumentCopy, ActionDocumentDelete,
		ActionVersionCreated, ActionVersionSubmitted, ActionVersionApproved,
		ActionVersionRejected, ActionVersionArchived, ActionVersionRestored,
		ActionMergeConflictDetected, ActionMergeConflictResolved,
	},
	ReportSystem: {
		ActionSystemStartup, ActionSystemShutdown, ActionConfigurationChanged,
		ActionBackupCreated, ActionAuditExported, ActionAuditReplayed,
	},
}

// ReportActions returns the actions covered by a report type
func ReportActions(rt ReportType) ([]string, bool) {
	actions, ok := reportActions[rt]
	return slices.Clone(actions), ok
}

// ParseReportType validates a report type name
func ParseReportType(s string) (ReportType, error) {
	rt := ReportType(strings.ToLower(s))
	if _, ok := reportActions[rt]; !ok {
		return "", docerr.Validation("unknown report type %q", s)
	}
	return rt, nil
}

// Event is what callers submit; the logger assigns identity and time
type Event struct {
	UserID       string         `json:"userId" validate:"required"`
	UserEmail    string         `json:"userEmail,omitempty" validate:"omitempty,email"`
	Action       string         `json:"action" validate:"required"`
	ResourceType ResourceType   `json:"resourceType" validate:"required,oneof=dataRoom document user system"`
	ResourceID   string         `json:"resourceId,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	UserAgent    string         `json:"userAgent,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	Result       Result         `json:"result" validate:"required,oneof=success failure unauthorized"`
	Details      map[string]any `json:"details,omitempty"`
	RiskLevel    RiskLevel      `json:"riskLevel" validate:"required,oneof=low medium high critical"`
}

// Entry is a recorded event. Entries are never mutated once appended.
type Entry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Event
	PrevHash string `json:"prevHash"`
	Hash     string `json:"hash"`
}

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	UserID       string
	Action       string
	ResourceType ResourceType
	ResourceID   string
	Result       Result
	MinRisk      RiskLevel
	Start        time.Time
	End          time.Time
	Limit        int
}

// Matches reports whether e passes every set criterion of f
func (f Filter) Matches(e *Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.MinRisk != "" && !e.RiskLevel.AtLeast(f.MinRisk) {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

var validate = validator.New()

func validateEvent(ev *Event) error {
	err := validate.Struct(ev)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return docerr.Validation("invalid audit event: %s", strings.Join(fields, ", "))
	}
	return docerr.Validation("invalid audit event: %v", err)
}
