package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calm-otter-ops/siren/internal/lifecycle"
	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

var (
	alertState    string
	alertSeverity string
	alertLimit    int
	alertActor    string
	alertNote     string
)

// alertCmd represents the alert command group
var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Alert management commands",
	Long: `Commands for inspecting alerts and driving their lifecycle.

Examples:
  # List unacknowledged alerts
  sirenctl alert list --state new

  # Show one alert with its transition history
  sirenctl alert get 4f7c...

  # Acknowledge, resolve, close
  sirenctl alert ack 4f7c... --note "looking into it"
  sirenctl alert resolve 4f7c...
  sirenctl alert close 4f7c...`,
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		filter := storage.AlertFilter{Limit: alertLimit}
		if alertState != "" {
			state := models.AlertState(alertState)
			if !state.Valid() {
				return fmt.Errorf("unknown state %q", alertState)
			}
			filter.State = state
		}
		if alertSeverity != "" {
			severity := models.Severity(alertSeverity)
			if !severity.Valid() {
				return fmt.Errorf("unknown severity %q", alertSeverity)
			}
			filter.Severity = severity
		}

		ctx := context.Background()
		alerts, total, err := store.Alerts().List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}

		if GetOutput() == "json" {
			data, _ := json.MarshalIndent(alerts, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-13s  %-8s  %6s  %-20s  %s\n",
			"ID", "STATE", "SEV", "COUNT", "LAST SEEN", "SOURCE/SIGNATURE")
		fmt.Println(strings.Repeat("-", 120))

		for _, a := range alerts {
			fmt.Printf("%-36s  %-13s  %-8s  %6d  %-20s  %s/%s\n",
				a.ID,
				a.State,
				a.Severity,
				a.OccurrenceCount,
				a.LastSeen.Format("2006-01-02 15:04:05"),
				a.Source,
				a.Signature,
			)
		}
		fmt.Printf("\nShowing %d of %d alert(s)\n", len(alerts), total)

		return nil
	},
}

var alertGetCmd = &cobra.Command{
	Use:   "get <alert-id>",
	Short: "Show one alert with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		alert, err := store.Alerts().GetByID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		history, _, err := store.Alerts().History(ctx, alert.ID, 100, 0)
		if err != nil {
			return fmt.Errorf("alert history: %w", err)
		}

		if GetOutput() == "json" {
			data, _ := json.MarshalIndent(map[string]any{
				"alert":   alert,
				"history": history,
			}, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("ID:          %s\n", alert.ID)
		fmt.Printf("State:       %s\n", alert.State)
		fmt.Printf("Severity:    %s\n", alert.Severity)
		fmt.Printf("Source:      %s\n", alert.Source)
		fmt.Printf("Signature:   %s\n", alert.Signature)
		fmt.Printf("Fingerprint: %s\n", alert.Fingerprint)
		fmt.Printf("Occurrences: %d\n", alert.OccurrenceCount)
		fmt.Printf("First seen:  %s\n", alert.FirstSeen.Format("2006-01-02 15:04:05"))
		fmt.Printf("Last seen:   %s\n", alert.LastSeen.Format("2006-01-02 15:04:05"))
		if len(alert.Metadata) > 0 {
			fmt.Println("Metadata:")
			for k, v := range alert.Metadata {
				fmt.Printf("  %s: %s\n", k, v)
			}
		}

		fmt.Println("\nHistory:")
		for _, rec := range history {
			line := fmt.Sprintf("  %s  %s -> %s  by %s",
				rec.CreatedAt.Format("2006-01-02 15:04:05"),
				rec.FromState, rec.ToState, rec.Actor)
			if rec.Note != "" {
				line += "  (" + rec.Note + ")"
			}
			fmt.Println(line)
		}

		return nil
	},
}

var alertAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Long: `Acknowledge an alert. Stops the time-to-acknowledge clock and
halts escalation. Acknowledging twice is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionAlert(args[0], models.StateAcknowledged)
	},
}

var alertResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionAlert(args[0], models.StateResolved)
	},
}

var alertCloseCmd = &cobra.Command{
	Use:   "close <alert-id>",
	Short: "Close an alert without resolving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionAlert(args[0], models.StateClosed)
	},
}

func transitionAlert(alertID string, to models.AlertState) error {
	store, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	tracker := sla.NewTracker(store, nil)
	machine := lifecycle.NewMachine(store, tracker)

	ctx := context.Background()
	var alert *models.Alert
	switch to {
	case models.StateAcknowledged:
		alert, err = machine.Acknowledge(ctx, alertID, actorName(), alertNote)
	case models.StateResolved:
		alert, err = machine.Resolve(ctx, alertID, actorName(), alertNote)
	case models.StateClosed:
		alert, err = machine.Close(ctx, alertID, actorName(), alertNote)
	default:
		alert, err = machine.Transition(ctx, alertID, to, actorName(), alertNote)
	}
	if err != nil {
		return fmt.Errorf("transition alert: %w", err)
	}

	fmt.Printf("alert %s is now %s\n", alert.ID, alert.State)
	return nil
}

// actorName is the --actor flag, falling back to the OS user.
func actorName() string {
	if alertActor != "" {
		return alertActor
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func init() {
	alertListCmd.Flags().StringVar(&alertState, "state", "", "filter by state")
	alertListCmd.Flags().StringVar(&alertSeverity, "severity", "", "filter by severity")
	alertListCmd.Flags().IntVar(&alertLimit, "limit", 50, "maximum alerts to show")

	for _, c := range []*cobra.Command{alertAckCmd, alertResolveCmd, alertCloseCmd} {
		c.Flags().StringVar(&alertActor, "actor", "", "actor recorded on the transition (default: OS user)")
		c.Flags().StringVar(&alertNote, "note", "", "optional note")
	}

	alertCmd.AddCommand(alertListCmd)
	alertCmd.AddCommand(alertGetCmd)
	alertCmd.AddCommand(alertAckCmd)
	alertCmd.AddCommand(alertResolveCmd)
	alertCmd.AddCommand(alertCloseCmd)
	rootCmd.AddCommand(alertCmd)
}
