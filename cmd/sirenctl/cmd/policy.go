package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// policyCmd lists escalation policies.
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Escalation policy commands",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalation policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		policies, err := store.Policies().List(context.Background())
		if err != nil {
			return fmt.Errorf("list policies: %w", err)
		}

		if GetOutput() == "json" {
			data, _ := json.MarshalIndent(policies, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(policies) == 0 {
			fmt.Println("No policies found.")
			return nil
		}

		for _, p := range policies {
			fmt.Printf("%s (%s)\n", p.Name, p.ID)
			for i, step := range p.Steps {
				fmt.Printf("  step %d: after %v notify %s %s via %s\n",
					i, step.Wait, step.Responder.Kind, step.Responder.ID, step.Channel)
			}
		}
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List on-call schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		schedules, err := store.Schedules().List(context.Background())
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}

		if GetOutput() == "json" {
			data, _ := json.MarshalIndent(schedules, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(schedules) == 0 {
			fmt.Println("No schedules found.")
			return nil
		}

		for _, s := range schedules {
			fmt.Printf("%s (%s): rotation %v, overlap %v, members %s\n",
				s.Name, s.ID, s.RotationPeriod, s.HandoffOverlap, strings.Join(s.Members, ", "))
		}
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyListCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(scheduleListCmd)
}
