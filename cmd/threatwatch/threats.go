package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
)

var threatFilter database.ThreatFilter

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "List stored threats with optional filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !database.ValidThreatSort(threatFilter.Sort) {
			return fmt.Errorf("unknown sort %q (timestamp, severity, priority)", threatFilter.Sort)
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		threats, err := db.GetThreats(threatFilter)
		if err != nil {
			return err
		}
		if len(threats) == 0 {
			fmt.Println("No threats.")
			return nil
		}
		for _, t := range threats {
			fmt.Printf("  %s  %-14s sev %.2f  %s  %s\n",
				t.Timestamp.Format("2006-01-02 15:04"), t.Category, t.Severity, t.Source, t.Title)
		}
		return nil
	},
}

func init() {
	threatsCmd.Flags().StringVar(&threatFilter.Category, "category", "", "Only threats in this category")
	threatsCmd.Flags().StringVar(&threatFilter.Source, "source", "", "Only threats from this source")
	threatsCmd.Flags().Float64Var(&threatFilter.MinSeverity, "min-severity", 0, "Minimum severity")
	threatsCmd.Flags().StringVar(&threatFilter.Search, "search", "", "Substring of title or description")
	threatsCmd.Flags().StringVar(&threatFilter.Sort, "sort", "", "Order by timestamp (default), severity or priority")
	threatsCmd.Flags().IntVar(&threatFilter.Limit, "limit", 50, "Maximum threats to list")
}
