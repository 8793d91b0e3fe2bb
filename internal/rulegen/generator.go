// Package rulegen builds application-control policy artifacts from
// user-supplied subjects. Every free-text field is validated before it
// is escaped and escaped before it reaches a template, so a subject can
// never inject markup into a generated document.
package rulegen

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/backend"
	"github.com/rampartlabs/rampart/internal/domain"
	"github.com/rampartlabs/rampart/internal/validate"
)

// Artifact templates. Fields are escaped before execution; the
// templates only place them.
const collectionTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<RuleCollection Type="{{.CollectionType}}" EnforcementMode="{{.EnforcementMode}}">
{{- range .Rules}}
{{.}}
{{- end}}
</RuleCollection>
`

const publisherRuleTemplate = `  <FilePublisherRule Id="{{.ID}}" Name="{{.Name}}" Description="{{.Description}}" UserOrGroup="{{.TargetGroup}}" Action="{{.Action}}">
    <Conditions>
      <FilePublisherCondition PublisherName="{{.Publisher}}" ProductName="{{.Product}}" BinaryName="{{.Binary}}">
        <BinaryVersionRange LowSection="{{.VersionLow}}" HighSection="*" />
      </FilePublisherCondition>
    </Conditions>
  </FilePublisherRule>`

const pathRuleTemplate = `  <FilePathRule Id="{{.ID}}" Name="{{.Name}}" Description="{{.Description}}" UserOrGroup="{{.TargetGroup}}" Action="{{.Action}}">
    <Conditions>
      <FilePathCondition Path="{{.Path}}" />
    </Conditions>
  </FilePathRule>`

const hashRuleTemplate = `  <FileHashRule Id="{{.ID}}" Name="{{.Name}}" Description="{{.Description}}" UserOrGroup="{{.TargetGroup}}" Action="{{.Action}}">
    <Conditions>
      <FileHashCondition>
        <FileHash Type="SHA256" Data="{{.SHA256}}" SourceFileName="{{.Binary}}" />
      </FileHashCondition>
    </Conditions>
  </FileHashRule>`

// xmlEscaper maps the five markup-significant characters to entity
// form. Control characters never get here; validation rejects them.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// ruleFields is the fully escaped data one rule template renders from.
type ruleFields struct {
	ID          string
	Name        string
	Description string
	TargetGroup string
	Action      string
	Publisher   string
	Product     string
	Binary      string
	VersionLow  string
	Path        string
	SHA256      string
}

// Config holds generator settings.
type Config struct {
	// CollectionType is the RuleCollection Type attribute.
	CollectionType string

	// EnforcementMode is the RuleCollection EnforcementMode attribute.
	EnforcementMode string

	// DefaultGroup is the UserOrGroup applied when a caller passes none.
	DefaultGroup string
}

// DefaultConfig returns the standard artifact settings.
func DefaultConfig() Config {
	return Config{
		CollectionType:  "Exe",
		EnforcementMode: "Enabled",
		DefaultGroup:    "Everyone",
	}
}

// Recorder receives audit entries for mutating operations.
type Recorder interface {
	Log(action domain.AuditAction, details map[string]any) *domain.AuditEntry
	LogError(action domain.AuditAction, details map[string]any, errMsg string) *domain.AuditEntry
}

// Invalidator drops memoized collections after a mutation.
type Invalidator interface {
	Delete(key string)
}

// Generator assembles policy artifacts and submits new rules to the
// backend. The audit recorder and cache invalidator are optional.
type Generator struct {
	cfg     Config
	invoker backend.Invoker
	audit   Recorder
	cache   Invalidator
	ids     *IDGenerator
	logger  *zap.Logger
	now     func() time.Time
}

// NewGenerator creates a rule generator. Zero-value config fields fall
// back to the defaults.
func NewGenerator(cfg Config, invoker backend.Invoker, audit Recorder, cache Invalidator, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CollectionType == "" {
		cfg.CollectionType = def.CollectionType
	}
	if cfg.EnforcementMode == "" {
		cfg.EnforcementMode = def.EnforcementMode
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = def.DefaultGroup
	}
	return &Generator{
		cfg:     cfg,
		invoker: invoker,
		audit:   audit,
		cache:   cache,
		ids:     NewIDGenerator(logger),
		logger:  logger,
		now:     time.Now,
	}
}

// GenerateArtifact renders a single-rule policy document for subject.
// Invalid input is rejected before any escaping or rendering happens.
func (g *Generator) GenerateArtifact(subject domain.RuleSubject, action domain.RuleAction, ruleType domain.RuleType, targetGroup string) (string, error) {
	if err := checkRuleShape(action, ruleType); err != nil {
		return "", err
	}
	if err := validateSubject(subject, ruleType, targetGroup); err != nil {
		return "", err
	}

	id, _ := g.ids.Generate()
	fragment, err := renderRule(ruleType, g.escapedFields(id, subject, action, ruleType, targetGroup))
	if err != nil {
		return "", err
	}
	doc, err := renderCollection(g.cfg, []string{fragment})
	if err != nil {
		return "", err
	}

	g.log(domain.ActionArtifactGenerated, map[string]any{
		"rule_id":   id,
		"rule_name": subject.Name,
		"rule_type": string(ruleType),
	})
	return doc, nil
}

// CreateRule validates and submits a new rule over policy:createRule.
// This is a write path: a degraded backend surfaces as an error, never
// as a silent fallback. Both outcomes are audited, and a success
// invalidates the memoized rule collection.
func (g *Generator) CreateRule(ctx context.Context, subject domain.RuleSubject, action domain.RuleAction, ruleType domain.RuleType, targetGroup string) (*domain.PolicyRule, error) {
	if err := checkRuleShape(action, ruleType); err != nil {
		return nil, err
	}
	if err := validateSubject(subject, ruleType, targetGroup); err != nil {
		return nil, err
	}
	if targetGroup == "" {
		targetGroup = g.cfg.DefaultGroup
	}

	id, source := g.ids.Generate()
	gen := domain.GeneratedRule{
		ID:          id,
		Name:        escapeXML(subject.Name),
		Type:        ruleType,
		Action:      action,
		TargetGroup: targetGroup,
	}
	details := map[string]any{
		"rule_id":      id,
		"rule_name":    subject.Name,
		"rule_type":    string(ruleType),
		"action":       string(action),
		"target_group": targetGroup,
		"id_source":    string(source),
	}

	res, err := g.invoker.Invoke(ctx, backend.ChannelCreateRule, gen)
	if err != nil {
		g.logError(domain.ActionRuleCreated, details, err.Error())
		return nil, fmt.Errorf("create rule %q: %w", subject.Name, err)
	}
	if res.Fallback {
		err := fmt.Errorf("create rule %q: backend call fell back (%s): %w", subject.Name, res.Reason, domain.ErrUnavailable)
		g.logError(domain.ActionRuleCreated, details, err.Error())
		return nil, err
	}

	rule := &domain.PolicyRule{
		ID:          id,
		Name:        subject.Name,
		Type:        ruleType,
		Action:      action,
		TargetGroup: targetGroup,
		Publisher:   subject.EffectivePublisher(),
		CreatedAt:   g.now(),
	}
	// Backend fields win when the response is a rule object; anything
	// else keeps the locally built rule.
	if err := res.Decode(rule); err != nil {
		g.logger.Debug("create rule response is not a rule object, keeping local fields",
			zap.String("channel", backend.ChannelCreateRule),
			zap.Error(err))
	}

	g.log(domain.ActionRuleCreated, details)
	if g.cache != nil {
		g.cache.Delete(backend.ChannelGetRules)
	}
	return rule, nil
}

// checkRuleShape rejects actions and types outside the closed sets.
func checkRuleShape(action domain.RuleAction, ruleType domain.RuleType) error {
	if !action.Valid() {
		return domain.NewValidationError("action", fmt.Sprintf("must be %s or %s", domain.RuleActionAllow, domain.RuleActionDeny))
	}
	if !ruleType.Valid() {
		return domain.NewValidationError("type", fmt.Sprintf("unknown rule type %q", ruleType))
	}
	return nil
}

// validateSubject applies the untrusted-text rules to every field that
// can appear in an artifact. The field a rule type matches on is
// required; the rest are checked only when present.
func validateSubject(s domain.RuleSubject, ruleType domain.RuleType, targetGroup string) error {
	checks := []struct {
		field    string
		value    string
		required bool
	}{
		{"name", s.Name, true},
		{"publisher", s.EffectivePublisher(), ruleType == domain.RuleTypePublisher},
		{"path", s.Path, ruleType == domain.RuleTypePath},
		{"sha256", s.SHA256, ruleType == domain.RuleTypeHash},
		{"version", s.Version, false},
		{"category", s.Category, false},
		{"targetGroup", targetGroup, false},
	}
	for _, c := range checks {
		if c.value == "" && !c.required {
			continue
		}
		if err := validate.UntrustedText(c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

// escapedFields maps a validated subject onto template fields, escaping
// everything user-supplied.
func (g *Generator) escapedFields(id string, s domain.RuleSubject, action domain.RuleAction, ruleType domain.RuleType, targetGroup string) ruleFields {
	if targetGroup == "" {
		targetGroup = g.cfg.DefaultGroup
	}
	version := s.Version
	if version == "" {
		version = "*"
	}
	return ruleFields{
		ID:          id,
		Name:        escapeXML(s.Name),
		Description: escapeXML(s.Category),
		TargetGroup: escapeXML(targetGroup),
		Action:      string(action),
		Publisher:   escapeXML(s.EffectivePublisher()),
		Product:     escapeXML(s.Name),
		Binary:      "*",
		VersionLow:  escapeXML(version),
		Path:        escapeXML(s.Path),
		SHA256:      escapeXML(s.SHA256),
	}
}

// renderRule executes the template for one rule type.
func renderRule(ruleType domain.RuleType, fields ruleFields) (string, error) {
	var tmplStr string
	switch ruleType {
	case domain.RuleTypePublisher:
		tmplStr = publisherRuleTemplate
	case domain.RuleTypePath:
		tmplStr = pathRuleTemplate
	case domain.RuleTypeHash:
		tmplStr = hashRuleTemplate
	default:
		return "", domain.NewValidationError("type", fmt.Sprintf("unknown rule type %q", ruleType))
	}

	tmpl, err := template.New("rule").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse rule template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("failed to execute rule template: %w", err)
	}
	return buf.String(), nil
}

// renderCollection wraps pre-rendered rule fragments in the document
// envelope.
func renderCollection(cfg Config, rules []string) (string, error) {
	tmpl, err := template.New("collection").Parse(collectionTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse collection template: %w", err)
	}
	data := struct {
		CollectionType  string
		EnforcementMode string
		Rules           []string
	}{cfg.CollectionType, cfg.EnforcementMode, rules}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute collection template: %w", err)
	}
	return buf.String(), nil
}

func (g *Generator) log(action domain.AuditAction, details map[string]any) {
	if g.audit != nil {
		g.audit.Log(action, details)
	}
}

func (g *Generator) logError(action domain.AuditAction, details map[string]any, msg string) {
	if g.audit != nil {
		g.audit.LogError(action, details, msg)
	}
}
