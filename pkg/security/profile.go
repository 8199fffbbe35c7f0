// ABOUTME: Security classification and compliance contracts attached to documents
// ABOUTME: Access policy, encryption, compliance findings and retention rules

package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nainya/docvault/pkg/docerr"
)

// Classification is the sensitivity level of a document
type Classification string

const (
	Public       Classification = "public"
	Internal     Classification = "internal"
	Confidential Classification = "confidential"
	Restricted   Classification = "restricted"
)

// AccessPolicy governs who may reach a data room or document and what they
// may do with its content once there
type AccessPolicy struct {
	RequireMFA            bool          `json:"requireMfa" yaml:"requireMfa"`
	RequireSSO            bool          `json:"requireSso" yaml:"requireSso"`
	AllowedDomains        []string      `json:"allowedDomains,omitempty" yaml:"allowedDomains" validate:"dive,fqdn"`
	SessionTimeout        time.Duration `json:"sessionTimeout" yaml:"sessionTimeout" validate:"gte=0"`
	MaxConcurrentSessions int           `json:"maxConcurrentSessions" yaml:"maxConcurrentSessions" validate:"gte=0"`
	IPWhitelist           []string      `json:"ipWhitelist,omitempty" yaml:"ipWhitelist" validate:"dive,cidr|ip"`
	GeoRestrictions       []string      `json:"geoRestrictions,omitempty" yaml:"geoRestrictions" validate:"dive,iso3166_1_alpha2"`
	AllowDownload         bool          `json:"allowDownload" yaml:"allowDownload"`
	AllowPrint            bool          `json:"allowPrint" yaml:"allowPrint"`
	AllowCopy             bool          `json:"allowCopy" yaml:"allowCopy"`
	AllowShare            bool          `json:"allowShare" yaml:"allowShare"`
	WatermarkRequired     bool          `json:"watermarkRequired" yaml:"watermarkRequired"`
	ExpiresAt             *time.Time    `json:"expiresAt,omitempty" yaml:"expiresAt"`
}

// Expired reports whether the policy has lapsed at t
func (a *AccessPolicy) Expired(t time.Time) bool {
	return a.ExpiresAt != nil && !t.Before(*a.ExpiresAt)
}

// EncryptionStatus records how content is protected. Keys are managed
// externally; only identifiers are kept here.
type EncryptionStatus struct {
	AtRest            bool   `json:"atRest" yaml:"atRest"`
	InTransit         bool   `json:"inTransit" yaml:"inTransit"`
	ClientSide        bool   `json:"clientSide" yaml:"clientSide"`
	AtRestAlgorithm   string `json:"atRestAlgorithm,omitempty" yaml:"atRestAlgorithm" validate:"omitempty,oneof=AES-256-GCM AES-256-CBC ChaCha20-Poly1305"`
	InTransitProtocol string `json:"inTransitProtocol,omitempty" yaml:"inTransitProtocol" validate:"omitempty,oneof=TLS1.2 TLS1.3"`
	KeyID             string `json:"keyId,omitempty" yaml:"keyId"`
}

// Finding severities and states
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	FindingOpen       = "open"
	FindingRemediated = "remediated"
	FindingAccepted   = "accepted"
)

// ComplianceFinding is a single issue raised by an assessment
type ComplianceFinding struct {
	ID          string     `json:"id" yaml:"id" validate:"required"`
	Framework   string     `json:"framework" yaml:"framework" validate:"required,oneof=SOC2 GDPR CCPA"`
	Severity    string     `json:"severity" yaml:"severity" validate:"required,oneof=low medium high critical"`
	Description string     `json:"description" yaml:"description"`
	Status      string     `json:"status" yaml:"status" validate:"required,oneof=open remediated accepted"`
	DetectedAt  time.Time  `json:"detectedAt" yaml:"detectedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty" yaml:"resolvedAt"`
}

// ComplianceStatus summarizes framework coverage and open findings
type ComplianceStatus struct {
	SOC2           bool                `json:"soc2" yaml:"soc2"`
	GDPR           bool                `json:"gdpr" yaml:"gdpr"`
	CCPA           bool                `json:"ccpa" yaml:"ccpa"`
	LastAssessment time.Time           `json:"lastAssessment" yaml:"lastAssessment"`
	Findings       []ComplianceFinding `json:"findings,omitempty" yaml:"findings" validate:"dive"`
}

// OpenFindings returns unresolved findings at or above severity
func (c *ComplianceStatus) OpenFindings(severity string) []ComplianceFinding {
	var out []ComplianceFinding
	for _, f := range c.Findings {
		if f.Status == FindingOpen && severityRank(f.Severity) >= severityRank(severity) {
			out = append(out, f)
		}
	}
	return out
}

func severityRank(s string) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// RetentionPolicy controls how long content must be kept
type RetentionPolicy struct {
	RetentionDays int  `json:"retentionDays" yaml:"retentionDays" validate:"gte=0"`
	AutoDelete    bool `json:"autoDelete" yaml:"autoDelete"`
	LegalHold     bool `json:"legalHold" yaml:"legalHold"`
}

// RetainedUntil returns the end of the retention window for content created at
func (r *RetentionPolicy) RetainedUntil(created time.Time) time.Time {
	return created.AddDate(0, 0, r.RetentionDays)
}

// Profile is the full security posture attached to one document
type Profile struct {
	DocumentID     string           `json:"documentId" yaml:"documentId" validate:"required"`
	Classification Classification   `json:"classification" yaml:"classification" validate:"required,oneof=public internal confidential restricted"`
	Access         AccessPolicy     `json:"access" yaml:"access"`
	Encryption     EncryptionStatus `json:"encryption" yaml:"encryption"`
	Compliance     ComplianceStatus `json:"compliance" yaml:"compliance"`
	Retention      RetentionPolicy  `json:"retention" yaml:"retention"`
	UpdatedAt      time.Time        `json:"updatedAt" yaml:"updatedAt"`
}

var validate = validator.New()

// Validate checks field formats and the cross-field rules tags cannot express
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return docerr.Validation("invalid security profile: %s", strings.Join(fields, ", "))
		}
		return docerr.Validation("invalid security profile: %v", err)
	}

	if p.Encryption.AtRest && p.Encryption.AtRestAlgorithm == "" {
		return docerr.Validation("security profile %s: at-rest encryption needs an algorithm", p.DocumentID)
	}
	if p.Retention.AutoDelete && p.Retention.RetentionDays == 0 {
		return docerr.Validation("security profile %s: auto-delete needs a retention window", p.DocumentID)
	}
	for _, f := range p.Compliance.Findings {
		if f.Status != FindingOpen && f.ResolvedAt == nil {
			return docerr.Validation("security profile %s: finding %s is %s without a resolution time", p.DocumentID, f.ID, f.Status)
		}
	}
	return nil
}
