package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rampartlabs/rampart/internal/domain"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Export and summarize the audit ledger",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit ledger as CSV",
	Long: `Serializes the ledger to CSV with every field quoted. When the
encrypted archive is open, the snapshot is persisted there as well.`,
	RunE: runAuditExport,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize ledger contents",
	RunE:  runAuditStats,
}

var auditClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the audit ledger",
	Long: `Removes every ledger entry. The removal itself is audited, and when
the encrypted archive is open the old entries are snapshotted there
first, so clearing never silently destroys the trail.`,
	RunE: runAuditClear,
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Browse artifacts stored in the encrypted archive",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived artifacts, newest first",
	RunE:  runArtifactsList,
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print an archived artifact's content",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsShow,
}

var (
	auditOutput   string
	statsJSON     bool
	artifactsJSON bool
)

func init() {
	auditExportCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "Write the CSV to a file instead of stdout")
	auditStatsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditCmd.AddCommand(auditClearCmd)

	artifactsListCmd.Flags().BoolVar(&artifactsJSON, "json", false, "Output as JSON")
	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(artifactsCmd)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	csv := a.ledger.ExportCSV()
	if auditOutput == "" {
		fmt.Print(csv)
		return nil
	}
	if err := os.WriteFile(auditOutput, []byte(csv), 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	rows := strings.Count(csv, "\n") - 1 // header
	fmt.Printf("Exported %d entries to %s\n", rows, auditOutput)
	return nil
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stats := a.ledger.Stats()
	if statsJSON {
		return printJSON(stats)
	}

	fmt.Println("\n=== Audit Stats ===")
	fmt.Printf("Entries: %d\n", stats.Total)
	fmt.Printf("Success rate: %.1f%%\n", stats.SuccessRate*100)

	if len(stats.BySeverity) > 0 {
		fmt.Println("\nBy severity:")
		for _, sev := range []domain.Severity{
			domain.SeverityCritical, domain.SeverityHigh,
			domain.SeverityMedium, domain.SeverityLow,
		} {
			if n := stats.BySeverity[sev]; n > 0 {
				fmt.Printf("  %-10s %d\n", sev, n)
			}
		}
	}
	if len(stats.RecentFailures) > 0 {
		fmt.Println("\nRecent failures:")
		for _, e := range stats.RecentFailures {
			fmt.Printf("  %s %s: %s\n",
				e.Timestamp.Format(time.RFC3339), e.Action, e.Error)
		}
	}
	fmt.Println("===================")
	return nil
}

func runAuditClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	before := a.ledger.Len()
	a.ledger.Clear()
	fmt.Printf("Cleared %d entries\n", before)
	return nil
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.store.ListArtifacts()
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	if artifactsJSON {
		return printJSON(infos)
	}
	fmt.Printf("\n=== Archived Artifacts (%d) ===\n", len(infos))
	for _, info := range infos {
		fmt.Printf("%-38s %4d rules  %s  %s\n",
			info.ID, info.RuleCount, info.CreatedAt.Format(time.RFC3339), info.Name)
	}
	return nil
}

func runArtifactsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	content, err := a.store.ArtifactContent(args[0])
	if err != nil {
		return err
	}
	fmt.Print(content)
	return nil
}
