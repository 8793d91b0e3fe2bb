package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rampartlabs/rampart/internal/domain"
	"github.com/rampartlabs/rampart/internal/rulegen"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Generate, inspect, and submit policy rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy rules known to the backend",
	RunE:  runRulesList,
}

var rulesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render a single-rule policy artifact",
	Long: `Renders a policy document for one subject without contacting the
backend. The subject's free-text fields are validated and escaped; input
that could alter the document structure is rejected, never repaired.`,
	RunE: runRulesGenerate,
}

var rulesBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate one artifact from a JSON array of subjects",
	Long: `Reads a JSON array of rule subjects and renders a combined artifact.
Malformed or invalid items are skipped with a warning; the batch fails
only when no item at all produces a rule. The output file is written
atomically.`,
	RunE: runRulesBatch,
}

var rulesDupesCmd = &cobra.Command{
	Use:   "dupes",
	Short: "Report duplicate subjects in a JSON array",
	Long: `Groups subjects that collide on an install path or on a
publisher+name pair. Subjects missing a field bucket under "Unknown"
so near-duplicates stay visible.`,
	RunE: runRulesDupes,
}

var rulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a new rule to the policy store",
	Long: `Validates and submits one rule over the backend's createRule channel.
This is a write: a degraded or unreachable backend is an error, and both
outcomes land in the audit ledger.`,
	RunE: runRulesCreate,
}

var (
	ruleName      string
	rulePath      string
	rulePublisher string
	ruleSHA256    string
	ruleVersion   string
	ruleCategory  string
	ruleType      string
	ruleAction    string
	ruleGroup     string
	ruleOutput    string
	ruleSave      bool

	rulesFilterType   string
	rulesFilterAction string
	rulesFilterGroup  string
	rulesJSON         bool

	batchInput  string
	batchOutput string
	batchAction string
	batchType   string
	batchGroup  string
	batchSave   bool

	dupesInput string
	dupesJSON  bool
)

// subjectFlags binds the shared subject fields to a command.
func subjectFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ruleName, "name", "", "Subject name (required)")
	cmd.Flags().StringVar(&rulePath, "path", "", "Install path (Path rules)")
	cmd.Flags().StringVar(&rulePublisher, "publisher", "", "Publisher (Publisher rules)")
	cmd.Flags().StringVar(&ruleSHA256, "sha256", "", "Binary hash (Hash rules)")
	cmd.Flags().StringVar(&ruleVersion, "min-version", "", "Minimum binary version")
	cmd.Flags().StringVar(&ruleCategory, "category", "", "Free-text category")
	cmd.Flags().StringVar(&ruleType, "type", "Publisher", "Rule type: Publisher, Path, or Hash")
	cmd.Flags().StringVar(&ruleAction, "action", "Allow", "Rule action: Allow or Deny")
	cmd.Flags().StringVar(&ruleGroup, "group", "", "Target user or group (default Everyone)")
}

func init() {
	subjectFlags(rulesGenerateCmd)
	rulesGenerateCmd.Flags().StringVarP(&ruleOutput, "output", "o", "", "Write the artifact to a file instead of stdout")
	rulesGenerateCmd.Flags().BoolVar(&ruleSave, "save", false, "Also store the artifact in the encrypted archive")

	subjectFlags(rulesCreateCmd)

	rulesBatchCmd.Flags().StringVar(&batchInput, "input", "", "JSON array of subjects (required)")
	rulesBatchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Artifact output path (required)")
	rulesBatchCmd.Flags().StringVar(&batchAction, "action", "", "Rule action for every item (default Allow)")
	rulesBatchCmd.Flags().StringVar(&batchType, "type", "", "Rule type for every item (default Publisher)")
	rulesBatchCmd.Flags().StringVar(&batchGroup, "group", "", "Target group for every item")
	rulesBatchCmd.Flags().BoolVar(&batchSave, "save", false, "Also store the artifact in the encrypted archive")
	_ = rulesBatchCmd.MarkFlagRequired("input")
	_ = rulesBatchCmd.MarkFlagRequired("output")

	rulesDupesCmd.Flags().StringVar(&dupesInput, "input", "", "JSON array of subjects (required)")
	rulesDupesCmd.Flags().BoolVar(&dupesJSON, "json", false, "Output the report as JSON")
	_ = rulesDupesCmd.MarkFlagRequired("input")

	rulesListCmd.Flags().StringVar(&rulesFilterType, "type", "", "Filter by rule type")
	rulesListCmd.Flags().StringVar(&rulesFilterAction, "action", "", "Filter by action")
	rulesListCmd.Flags().StringVar(&rulesFilterGroup, "group", "", "Filter by target group")
	rulesListCmd.Flags().BoolVar(&rulesJSON, "json", false, "Output as JSON")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesGenerateCmd)
	rulesCmd.AddCommand(rulesBatchCmd)
	rulesCmd.AddCommand(rulesDupesCmd)
	rulesCmd.AddCommand(rulesCreateCmd)
	rootCmd.AddCommand(rulesCmd)
}

func subjectFromFlags() domain.RuleSubject {
	return domain.RuleSubject{
		Name:      ruleName,
		Path:      rulePath,
		Publisher: rulePublisher,
		SHA256:    ruleSHA256,
		Version:   ruleVersion,
		Category:  ruleCategory,
	}
}

func runRulesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := a.rules.FindByFilter(cmd.Context(), domain.RuleFilter{
		Type:        domain.RuleType(rulesFilterType),
		Action:      domain.RuleAction(rulesFilterAction),
		TargetGroup: rulesFilterGroup,
	})
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	if rulesJSON {
		return printJSON(rules)
	}
	fmt.Printf("\n=== Policy Rules (%d) ===\n", len(rules))
	for _, r := range rules {
		fmt.Printf("%-38s %-9s %-5s %-20s %s\n", r.ID, r.Type, r.Action, r.TargetGroup, r.Name)
	}
	return nil
}

func runRulesGenerate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	subject := subjectFromFlags()
	doc, err := a.generator.GenerateArtifact(subject,
		domain.RuleAction(ruleAction), domain.RuleType(ruleType), ruleGroup)
	if err != nil {
		return err
	}

	if ruleOutput != "" {
		if err := os.WriteFile(ruleOutput, []byte(doc), 0644); err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
		fmt.Printf("Artifact written to %s\n", ruleOutput)
	} else {
		fmt.Print(doc)
	}

	if ruleSave {
		id, err := a.store.SaveArtifact(subject.Name, doc, 1)
		if err != nil {
			return fmt.Errorf("archive artifact: %w", err)
		}
		fmt.Printf("Archived as %s\n", id)
	}
	return nil
}

func runRulesBatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := readItemsFile(batchInput)
	if err != nil {
		return err
	}

	result, err := a.generator.BatchGenerate(items, batchOutput, rulegen.BatchOptions{
		Action:      domain.RuleAction(batchAction),
		Type:        domain.RuleType(batchType),
		TargetGroup: batchGroup,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Generated %d rules to %s (%d skipped)\n",
		result.RuleCount, result.OutputPath, result.Skipped)

	if batchSave {
		content, err := os.ReadFile(result.OutputPath)
		if err != nil {
			return fmt.Errorf("reread artifact for archiving: %w", err)
		}
		id, err := a.store.SaveArtifact(filepath.Base(batchOutput), string(content), result.RuleCount)
		if err != nil {
			return fmt.Errorf("archive artifact: %w", err)
		}
		fmt.Printf("Archived as %s\n", id)
	}
	return nil
}

func runRulesDupes(cmd *cobra.Command, args []string) error {
	items, err := readItemsFile(dupesInput)
	if err != nil {
		return err
	}

	report := rulegen.DetectDuplicates(items)
	if dupesJSON {
		return printJSON(report)
	}

	fmt.Printf("\n=== Duplicate Report (%d groups) ===\n", report.Total())
	if len(report.ByPath) > 0 {
		fmt.Println("\nBy install path:")
		for _, path := range sortedKeys(report.ByPath) {
			members := report.ByPath[path]
			fmt.Printf("  %s (%d)\n", path, len(members))
			for _, s := range members {
				fmt.Printf("    - %s\n", s.Name)
			}
		}
	}
	if len(report.ByPublisherName) > 0 {
		fmt.Println("\nBy publisher and name:")
		for _, key := range sortedKeys(report.ByPublisherName) {
			members := report.ByPublisherName[key]
			fmt.Printf("  %s (%d)\n", key, len(members))
			for _, s := range members {
				fmt.Printf("    - %s\n", s.Name)
			}
		}
	}
	if report.Total() == 0 {
		fmt.Println("No duplicates found.")
	}
	return nil
}

func runRulesCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rule, err := a.generator.CreateRule(cmd.Context(), subjectFromFlags(),
		domain.RuleAction(ruleAction), domain.RuleType(ruleType), ruleGroup)
	if err != nil {
		return err
	}
	fmt.Printf("Created rule %s: %s %s rule for %s\n",
		rule.ID, rule.Action, rule.Type, rule.TargetGroup)
	return nil
}
