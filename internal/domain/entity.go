// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// RuleAction is the enforcement decision a policy rule carries.
type RuleAction string

const (
	RuleActionAllow RuleAction = "Allow"
	RuleActionDeny  RuleAction = "Deny"
)

// Valid reports whether the action is one of the closed set.
func (a RuleAction) Valid() bool {
	return a == RuleActionAllow || a == RuleActionDeny
}

// RuleType identifies how a rule matches its target.
type RuleType string

const (
	RuleTypePublisher RuleType = "Publisher"
	RuleTypePath      RuleType = "Path"
	RuleTypeHash      RuleType = "Hash"
)

// Valid reports whether the rule type is one of the closed set.
func (t RuleType) Valid() bool {
	return t == RuleTypePublisher || t == RuleTypePath || t == RuleTypeHash
}

// RuleSubject is the user-supplied input a rule is generated from.
// Inventory artifacts carry Path/Publisher/Version; trusted-publisher
// records carry PublisherName instead. Name and the publisher fields are
// untrusted and must pass validation before reaching any artifact.
type RuleSubject struct {
	Name          string `json:"name"`
	Path          string `json:"path,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	PublisherName string `json:"publisherName,omitempty"`
	Version       string `json:"version,omitempty"`
	SHA256        string `json:"sha256,omitempty"`
	Category      string `json:"category,omitempty"`
}

// EffectivePublisher returns whichever publisher field the subject carries.
func (s RuleSubject) EffectivePublisher() string {
	if s.Publisher != "" {
		return s.Publisher
	}
	return s.PublisherName
}

// GeneratedRule is a rule assembled locally, before backend submission.
// ID comes from a collision-resistant generator; Name is already escaped
// for the artifact syntax.
type GeneratedRule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        RuleType   `json:"type"`
	Action      RuleAction `json:"action"`
	TargetGroup string     `json:"targetGroup"`
}

// PolicyRule is the backend's persisted form of a rule.
type PolicyRule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        RuleType   `json:"type"`
	Action      RuleAction `json:"action"`
	TargetGroup string     `json:"targetGroup"`
	Publisher   string     `json:"publisher,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Machine is a managed endpoint known to the backend inventory.
type Machine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OS        string    `json:"os"`
	OSVersion string    `json:"osVersion"`
	Group     string    `json:"group"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"lastSeen"`
}

// DirectoryUser is a user record from the directory service.
type DirectoryUser struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Department  string   `json:"department"`
	Groups      []string `json:"groups"`
	Enabled     bool     `json:"enabled"`
}

// Evidence is a compliance evidence record collected from a machine.
type Evidence struct {
	ID          string    `json:"id"`
	MachineID   string    `json:"machineId"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	CollectedAt time.Time `json:"collectedAt"`
	SizeBytes   int64     `json:"sizeBytes"`
}

// OperationStatus is the neutral shape status-style channels resolve to
// when the backend cannot answer.
type OperationStatus struct {
	State string `json:"state"`
}

// MachineFilter selects machines by exact-match criteria.
// Zero-value fields do not constrain; nil Online matches both states.
type MachineFilter struct {
	Group  string
	OS     string
	Online *bool
}

// Matches reports whether m satisfies every set criterion.
func (f MachineFilter) Matches(m Machine) bool {
	if f.Group != "" && m.Group != f.Group {
		return false
	}
	if f.OS != "" && m.OS != f.OS {
		return false
	}
	if f.Online != nil && m.Online != *f.Online {
		return false
	}
	return true
}

// RuleFilter selects policy rules by exact-match criteria.
type RuleFilter struct {
	Type        RuleType
	Action      RuleAction
	TargetGroup string
}

// Matches reports whether r satisfies every set criterion.
func (f RuleFilter) Matches(r PolicyRule) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.TargetGroup != "" && r.TargetGroup != f.TargetGroup {
		return false
	}
	return true
}

// UserFilter selects directory users by exact-match criteria.
type UserFilter struct {
	Department string
	Group      string
	Enabled    *bool
}

// Matches reports whether u satisfies every set criterion.
// Group matches when it appears anywhere in the user's group list.
func (f UserFilter) Matches(u DirectoryUser) bool {
	if f.Department != "" && u.Department != f.Department {
		return false
	}
	if f.Enabled != nil && u.Enabled != *f.Enabled {
		return false
	}
	if f.Group != "" {
		found := false
		for _, g := range u.Groups {
			if g == f.Group {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EvidenceFilter selects evidence records by exact-match criteria.
type EvidenceFilter struct {
	MachineID string
	Kind      string
	Status    string
}

// Matches reports whether e satisfies every set criterion.
func (f EvidenceFilter) Matches(e Evidence) bool {
	if f.MachineID != "" && e.MachineID != f.MachineID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}
