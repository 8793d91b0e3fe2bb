package rulegen

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/domain"
)

// BatchOptions configures one BatchGenerate run. Zero values fall back
// to Allow publisher rules for the generator's default group.
type BatchOptions struct {
	Action      domain.RuleAction
	Type        domain.RuleType
	TargetGroup string
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	OutputPath string
	RuleCount  int
	Skipped    int
	Success    bool
}

// BatchGenerate renders one artifact containing a rule per usable item
// and writes it to outputPath atomically. Items that are null, not
// subject-shaped, or failing validation are dropped with a warning
// rather than failing the batch; an input with no usable items at all
// is an error before any rendering or writing happens.
func (g *Generator) BatchGenerate(items []any, outputPath string, opts BatchOptions) (BatchResult, error) {
	if items == nil {
		return BatchResult{}, errors.New("batch generate: items must be an array")
	}
	if len(items) == 0 {
		return BatchResult{}, errors.New("batch generate: no items to generate")
	}
	if outputPath == "" {
		return BatchResult{}, domain.NewValidationError("outputPath", "must not be empty")
	}
	if opts.Action == "" {
		opts.Action = domain.RuleActionAllow
	}
	if opts.Type == "" {
		opts.Type = domain.RuleTypePublisher
	}
	if err := checkRuleShape(opts.Action, opts.Type); err != nil {
		return BatchResult{}, err
	}
	if opts.TargetGroup == "" {
		opts.TargetGroup = g.cfg.DefaultGroup
	}

	var fragments []string
	skipped := 0
	for i, item := range items {
		subject, ok := coerceSubject(item)
		if !ok {
			g.logger.Warn("batch item is not a rule subject, skipping",
				zap.Int("index", i))
			skipped++
			continue
		}
		if err := validateSubject(subject, opts.Type, opts.TargetGroup); err != nil {
			g.logger.Warn("batch item failed validation, skipping",
				zap.Int("index", i),
				zap.String("name", subject.Name),
				zap.Error(err))
			skipped++
			continue
		}

		id, _ := g.ids.Generate()
		fragment, err := renderRule(opts.Type, g.escapedFields(id, subject, opts.Action, opts.Type, opts.TargetGroup))
		if err != nil {
			return BatchResult{Skipped: skipped}, err
		}
		fragments = append(fragments, fragment)
	}
	if len(fragments) == 0 {
		return BatchResult{Skipped: skipped}, fmt.Errorf("batch generate: none of %d items produced a valid rule", len(items))
	}

	doc, err := renderCollection(g.cfg, fragments)
	if err != nil {
		return BatchResult{Skipped: skipped}, err
	}
	if err := writeFileAtomic(outputPath, []byte(doc)); err != nil {
		g.logError(domain.ActionBatchGenerated, map[string]any{
			"output_path": outputPath,
			"rule_count":  len(fragments),
		}, err.Error())
		return BatchResult{Skipped: skipped}, fmt.Errorf("write artifact: %w", err)
	}

	g.log(domain.ActionBatchGenerated, map[string]any{
		"output_path": outputPath,
		"rule_count":  len(fragments),
		"skipped":     skipped,
	})
	return BatchResult{
		OutputPath: outputPath,
		RuleCount:  len(fragments),
		Skipped:    skipped,
		Success:    true,
	}, nil
}

// coerceSubject extracts a RuleSubject from one loosely typed batch
// item. Items arrive either as decoded JSON or as typed subjects from
// Go callers.
func coerceSubject(item any) (domain.RuleSubject, bool) {
	switch v := item.(type) {
	case nil:
		return domain.RuleSubject{}, false
	case domain.RuleSubject:
		return v, true
	case *domain.RuleSubject:
		if v == nil {
			return domain.RuleSubject{}, false
		}
		return *v, true
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return domain.RuleSubject{}, false
		}
		var s domain.RuleSubject
		if err := json.Unmarshal(b, &s); err != nil {
			return domain.RuleSubject{}, false
		}
		return s, true
	default:
		return domain.RuleSubject{}, false
	}
}

// writeFileAtomic writes content through a temp file in the target
// directory, syncs, then renames so readers never observe a partial
// artifact.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".rampart-artifact-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}

// UnknownKey buckets subjects missing the field a grouping keys on.
const UnknownKey = "Unknown"

// DuplicateReport lists subjects that collide on an install path or on
// a publisher+name pair. Only groups with more than one member appear.
type DuplicateReport struct {
	ByPath          map[string][]domain.RuleSubject
	ByPublisherName map[string][]domain.RuleSubject
}

// Total returns the number of duplicate groups across both keyings.
func (r DuplicateReport) Total() int {
	return len(r.ByPath) + len(r.ByPublisherName)
}

// DetectDuplicates groups items by install path and separately by
// publisher plus name. Subjects missing a field bucket under UnknownKey
// instead of dropping out of the report.
func DetectDuplicates(items []any) DuplicateReport {
	var subjects []domain.RuleSubject
	for _, item := range items {
		if s, ok := coerceSubject(item); ok {
			subjects = append(subjects, s)
		}
	}

	byPath := GroupByKey(subjects, func(s domain.RuleSubject) string {
		return s.Path
	})
	byPublisherName := GroupByKey(subjects, func(s domain.RuleSubject) string {
		publisher := s.EffectivePublisher()
		if publisher == "" {
			publisher = UnknownKey
		}
		name := s.Name
		if name == "" {
			name = UnknownKey
		}
		return publisher + "|" + name
	})

	return DuplicateReport{
		ByPath:          keepDuplicates(byPath),
		ByPublisherName: keepDuplicates(byPublisherName),
	}
}

func keepDuplicates(groups map[string][]domain.RuleSubject) map[string][]domain.RuleSubject {
	out := make(map[string][]domain.RuleSubject)
	for key, members := range groups {
		if len(members) > 1 {
			out[key] = members
		}
	}
	return out
}

// GroupByKey buckets subjects by keyFn. An empty key becomes UnknownKey
// so absent fields group rather than disappear.
func GroupByKey(items []domain.RuleSubject, keyFn func(domain.RuleSubject) string) map[string][]domain.RuleSubject {
	groups := make(map[string][]domain.RuleSubject)
	for _, item := range items {
		key := keyFn(item)
		if key == "" {
			key = UnknownKey
		}
		groups[key] = append(groups[key], item)
	}
	return groups
}
