package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/ThreatWatch/internal/broadcast"
	"github.com/TobiSchelling/ThreatWatch/internal/database"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and triage alerts",
}

var alertFilter database.AlertFilter

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, highest priority first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertFilter.Status != "" && !database.ValidAlertStatus(alertFilter.Status) {
			return fmt.Errorf("unknown status %q", alertFilter.Status)
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		alerts, err := db.GetAlerts(alertFilter)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts.")
			return nil
		}

		for _, a := range alerts {
			fmt.Printf("  %s  [%s] %-14s sev %.2f  pri %.2f  %s\n",
				a.ID, a.Status, a.Category, a.Severity, a.Priority, a.Title)
			if a.Notes != nil && *a.Notes != "" {
				fmt.Printf("        notes: %s\n", *a.Notes)
			}
		}
		return nil
	},
}

var ackUser string

var alertsAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()
		rt, err := newServices(ctx, db)
		if err != nil {
			return err
		}
		defer rt.Close()

		alert, err := rt.monitor.Acknowledge(ctx, args[0], ackUser)
		if err != nil {
			return err
		}
		fmt.Printf("Alert %s acknowledged: %s\n", alert.ID, alert.Title)
		return nil
	},
}

var setStatusAssignee string

var alertsSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status> [notes]",
	Short: "Move an alert to new|acknowledged|investigating|resolved|false_positive",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()
		rt, err := newServices(ctx, db)
		if err != nil {
			return err
		}
		defer rt.Close()

		var notes, assignee *string
		if len(args) > 2 {
			notes = &args[2]
		}
		if setStatusAssignee != "" {
			assignee = &setStatusAssignee
		}

		alert, err := rt.monitor.SetStatus(ctx, args[0], args[1], notes, assignee)
		if err != nil {
			return err
		}
		fmt.Printf("Alert %s is now %s\n", alert.ID, alert.Status)
		return nil
	},
}

var alertsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print alert and pattern events as they are broadcast (requires broadcast mode redis)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		pub, err := broadcast.New(ctx, cfg.Broadcast)
		if err != nil {
			return err
		}
		defer pub.Close()

		redisPub, ok := pub.(*broadcast.RedisPublisher)
		if !ok {
			return errors.New("alerts watch needs broadcast.mode: redis")
		}

		sub := redisPub.Subscribe(ctx,
			broadcast.ChannelNewAlert,
			broadcast.ChannelAlertUpdated,
			broadcast.ChannelThreatPatterns,
		)
		defer sub.Close()

		fmt.Println("Listening for events. Press Ctrl+C to stop")
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				fmt.Printf("%s %s\n", msg.Channel, msg.Payload)
			}
		}
	},
}

func init() {
	alertsListCmd.Flags().StringVar(&alertFilter.Status, "status", "", "Filter by status")
	alertsListCmd.Flags().StringVar(&alertFilter.Category, "category", "", "Filter by category")
	alertsListCmd.Flags().StringVar(&alertFilter.PeriodID, "period", "", "Filter by period ID")
	alertsListCmd.Flags().Float64Var(&alertFilter.MinSeverity, "min-severity", 0, "Minimum severity")
	alertsListCmd.Flags().IntVar(&alertFilter.Limit, "limit", 50, "Maximum alerts to show")

	alertsAckCmd.Flags().StringVar(&ackUser, "user", "", "Assign the alert to this user")
	alertsSetStatusCmd.Flags().StringVar(&setStatusAssignee, "assign", "", "Assign the alert to this user")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAckCmd)
	alertsCmd.AddCommand(alertsSetStatusCmd)
	alertsCmd.AddCommand(alertsWatchCmd)
}
