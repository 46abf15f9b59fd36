package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show debugging statistics and learned principles",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.currentSession(cmd)
	if err != nil {
		return err
	}
	overview, err := a.analytics.SessionOverview(cmd.Context(), sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Fixes:      %d (%.0f%% helpful)\n", overview.Stats.TotalFixes, overview.Stats.SuccessRate*100)
	fmt.Printf("Principles: %d (%d unique)\n", overview.Stats.TotalPrinciples, overview.Stats.UniqueStatements)

	if len(overview.Breakdown) > 0 {
		fmt.Println("\nError types:")
		for _, tc := range overview.Breakdown {
			fmt.Printf("  %-12s %3d  (%.0f%%)\n", tc.Type, tc.Count, tc.Share*100)
		}
	}

	if len(overview.Projects) > 0 {
		fmt.Println("\nProjects:")
		for _, p := range overview.Projects {
			if p.TopErrorType != "" {
				fmt.Printf("  %-24s %3d fixes, mostly %s (%.0f%%)\n", p.ProjectName, p.FixCount, p.TopErrorType, p.TopShare*100)
			} else {
				fmt.Printf("  %-24s %3d fixes\n", p.ProjectName, p.FixCount)
			}
		}
	}

	if len(overview.Knowledge) > 0 {
		fmt.Println("\nKnowledge base:")
		for _, kp := range overview.Knowledge {
			fmt.Printf("  [%.0f%%] %s  (%s)\n", kp.Context.SuccessRate*100, kp.Statement, kp.ProjectName)
		}
	}

	for _, alert := range overview.Alerts {
		fmt.Printf("\nPattern: %s\n", alert.Message)
	}
	return nil
}
