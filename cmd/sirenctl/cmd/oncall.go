package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calm-otter-ops/siren/internal/oncall"
)

var oncallAt string

// oncallCmd answers "who is on call for this schedule".
var oncallCmd = &cobra.Command{
	Use:   "oncall <schedule-name>",
	Short: "Show who is on call for a schedule",
	Long: `Resolve an on-call schedule to its current members.

Resolution is deterministic: the same instant always yields the same
members, so --at can replay any historical hand-off.

Examples:
  sirenctl oncall backend-primary
  sirenctl oncall backend-primary --at 2026-03-01T09:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now().UTC()
		if oncallAt != "" {
			ts, err := time.Parse(time.RFC3339, oncallAt)
			if err != nil {
				return fmt.Errorf("--at must be RFC3339: %w", err)
			}
			at = ts
		}

		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		schedule, err := store.Schedules().GetByName(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get schedule: %w", err)
		}

		members, err := oncall.ResolveAt(schedule, at)
		if err != nil {
			return fmt.Errorf("resolve on-call: %w", err)
		}

		if GetOutput() == "json" {
			data, _ := json.MarshalIndent(map[string]any{
				"schedule": schedule.Name,
				"at":       at.Format(time.RFC3339),
				"members":  members,
			}, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("%s at %s: %s\n", schedule.Name, at.Format(time.RFC3339), strings.Join(members, ", "))
		return nil
	},
}

func init() {
	oncallCmd.Flags().StringVar(&oncallAt, "at", "", "resolve at this RFC3339 instant instead of now")
	rootCmd.AddCommand(oncallCmd)
}
