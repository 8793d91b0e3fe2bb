package audit

import "github.com/rampartlabs/rampart/internal/domain"

// severityTable is the fixed action classification. Actions not listed
// here are LOW. Severity is never accepted from callers.
var severityTable = map[domain.AuditAction]domain.Severity{
	domain.ActionPolicyDeployed: domain.SeverityCritical,
	domain.ActionRuleDeleted:    domain.SeverityCritical,

	domain.ActionRuleCreated:   domain.SeverityHigh,
	domain.ActionRuleModified:  domain.SeverityHigh,
	domain.ActionAuditCleared:  domain.SeverityHigh,
	domain.ActionConfigChanged: domain.SeverityHigh,

	domain.ActionArtifactGenerated: domain.SeverityMedium,
	domain.ActionBatchGenerated:    domain.SeverityMedium,
	domain.ActionEvidenceExported:  domain.SeverityMedium,
	domain.ActionScanStarted:       domain.SeverityMedium,
}

// SeverityFor returns the classified severity for an action.
func SeverityFor(action domain.AuditAction) domain.Severity {
	if s, ok := severityTable[action]; ok {
		return s
	}
	return domain.SeverityLow
}
