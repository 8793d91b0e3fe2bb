package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rampartlabs/rampart/internal/domain"
)

var machinesCmd = &cobra.Command{
	Use:   "machines",
	Short: "Browse the managed machine inventory",
}

var machinesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List machines, optionally filtered",
	RunE:  runMachinesList,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Browse directory users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List directory users, optionally filtered",
	RunE:  runUsersList,
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Browse compliance evidence records",
}

var evidenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evidence records, optionally filtered",
	RunE:  runEvidenceList,
}

var (
	machinesGroup  string
	machinesOS     string
	machinesOnline bool
	machinesJSON   bool

	usersDepartment string
	usersGroup      string
	usersEnabled    bool
	usersJSON       bool

	evidenceMachine string
	evidenceKind    string
	evidenceStatus  string
	evidenceJSON    bool
)

func init() {
	machinesListCmd.Flags().StringVar(&machinesGroup, "group", "", "Filter by machine group")
	machinesListCmd.Flags().StringVar(&machinesOS, "os", "", "Filter by operating system")
	machinesListCmd.Flags().BoolVar(&machinesOnline, "online", false, "Only machines currently online")
	machinesListCmd.Flags().BoolVar(&machinesJSON, "json", false, "Output as JSON")
	machinesCmd.AddCommand(machinesListCmd)

	usersListCmd.Flags().StringVar(&usersDepartment, "department", "", "Filter by department")
	usersListCmd.Flags().StringVar(&usersGroup, "group", "", "Filter by group membership")
	usersListCmd.Flags().BoolVar(&usersEnabled, "enabled", false, "Only enabled accounts")
	usersListCmd.Flags().BoolVar(&usersJSON, "json", false, "Output as JSON")
	usersCmd.AddCommand(usersListCmd)

	evidenceListCmd.Flags().StringVar(&evidenceMachine, "machine", "", "Filter by machine ID")
	evidenceListCmd.Flags().StringVar(&evidenceKind, "kind", "", "Filter by evidence kind")
	evidenceListCmd.Flags().StringVar(&evidenceStatus, "status", "", "Filter by status")
	evidenceListCmd.Flags().BoolVar(&evidenceJSON, "json", false, "Output as JSON")
	evidenceCmd.AddCommand(evidenceListCmd)

	rootCmd.AddCommand(machinesCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(evidenceCmd)
}

func runMachinesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	filter := domain.MachineFilter{Group: machinesGroup, OS: machinesOS}
	if machinesOnline {
		online := true
		filter.Online = &online
	}

	machines, err := a.machines.FindByFilter(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list machines: %w", err)
	}

	if machinesJSON {
		return printJSON(machines)
	}
	fmt.Printf("\n=== Machines (%d) ===\n", len(machines))
	for _, m := range machines {
		state := "offline"
		if m.Online {
			state = "online"
		}
		lastSeen := "never"
		if !m.LastSeen.IsZero() {
			lastSeen = time.Since(m.LastSeen).Round(time.Minute).String() + " ago"
		}
		fmt.Printf("%-12s %-24s %-8s %-16s %-12s %s\n",
			m.ID, m.Name, state, m.Group, m.OS, lastSeen)
	}
	return nil
}

func runUsersList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	filter := domain.UserFilter{Department: usersDepartment, Group: usersGroup}
	if usersEnabled {
		enabled := true
		filter.Enabled = &enabled
	}

	users, err := a.users.FindByFilter(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if usersJSON {
		return printJSON(users)
	}
	fmt.Printf("\n=== Directory Users (%d) ===\n", len(users))
	for _, u := range users {
		state := "disabled"
		if u.Enabled {
			state = "enabled"
		}
		fmt.Printf("%-16s %-24s %-8s %-20s %s\n",
			u.Username, u.DisplayName, state, u.Department, u.Email)
	}
	return nil
}

func runEvidenceList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.evidence.FindByFilter(cmd.Context(), domain.EvidenceFilter{
		MachineID: evidenceMachine,
		Kind:      evidenceKind,
		Status:    evidenceStatus,
	})
	if err != nil {
		return fmt.Errorf("list evidence: %w", err)
	}

	if evidenceJSON {
		return printJSON(records)
	}
	fmt.Printf("\n=== Evidence Records (%d) ===\n", len(records))
	for _, e := range records {
		fmt.Printf("%-12s %-12s %-16s %-10s %8d bytes  %s\n",
			e.ID, e.MachineID, e.Kind, e.Status, e.SizeBytes,
			e.CollectedAt.Format(time.RFC3339))
	}
	return nil
}
