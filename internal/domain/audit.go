package domain

import "time"

// Severity ranks how consequential an audited action is.
// It is always derived from the action, never supplied by callers.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AuditAction is the closed set of operations the ledger records.
type AuditAction string

const (
	ActionRuleCreated       AuditAction = "rule.created"
	ActionRuleModified      AuditAction = "rule.modified"
	ActionRuleDeleted       AuditAction = "rule.deleted"
	ActionPolicyDeployed    AuditAction = "policy.deployed"
	ActionArtifactGenerated AuditAction = "artifact.generated"
	ActionBatchGenerated    AuditAction = "batch.generated"
	ActionEvidenceExported  AuditAction = "evidence.exported"
	ActionScanStarted       AuditAction = "scan.started"
	ActionConfigChanged     AuditAction = "config.changed"
	ActionAuditCleared      AuditAction = "audit.cleared"
	ActionAuditExported     AuditAction = "audit.exported"
	ActionCacheCleared      AuditAction = "cache.cleared"
	ActionBackendQueried    AuditAction = "backend.queried"
)

// AuditEntry is one record in the bounded audit ledger.
// Details has already been sanitized when the entry is stored; sensitive
// keys carry a redaction marker instead of their raw value.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Action    AuditAction
	Severity  Severity
	Actor     string
	Host      string
	Details   map[string]any
	Success   bool
	Error     string
}
