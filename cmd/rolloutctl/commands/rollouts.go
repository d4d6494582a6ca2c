package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeward/fleet-backend/internal/client"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

var lifecycleCommands = []struct {
	cmd   rollouts.Command
	short string
}{
	{rollouts.CommandStart, "Start a pending rollout"},
	{rollouts.CommandPause, "Pause an in-progress rollout"},
	{rollouts.CommandResume, "Resume a paused rollout"},
	{rollouts.CommandAdvance, "Complete the current phase and start the next"},
	{rollouts.CommandRollback, "Roll every touched device back to the previous version"},
	{rollouts.CommandCancel, "Cancel a rollout"},
	{rollouts.CommandFail, "Mark a rollout failed"},
}

func newRolloutsCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rollouts",
		Aliases: []string{"rollout", "ro"},
		Short:   "Manage phased rollouts",
	}
	cmd.AddCommand(
		newRolloutCreateCommand(g),
		newRolloutGetCommand(g),
		newRolloutListCommand(g),
		newRolloutActiveCommand(g),
		newRolloutHistoryCommand(g),
		newRolloutEventsCommand(g),
	)
	for _, lc := range lifecycleCommands {
		cmd.AddCommand(newRolloutLifecycleCommand(g, lc.cmd, lc.short))
	}
	return cmd
}

func newRolloutCreateCommand(g *Globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create -f plan.yaml",
		Short: "Create a phased rollout from a plan file",
		Long: `Create a phased rollout from a YAML plan.

Example plan:
  name: sensor-fw 2.0
  bundle_id: 6f1c...
  target_version: 2.0.0
  previous_version: 1.9.3
  target_device_group_id: 0a7e...
  failure_threshold: 0.1
  phases:
    - name: canary
      percentage: 5
      min_healthy_duration: 30m
    - name: fleet
      percentage: 95`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			req, err := loadPlan(file)
			if err != nil {
				return err
			}
			r, err := g.client.CreateRollout(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Plan file")
	return cmd
}

func newRolloutGetCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <rollout-id>",
		Short: "Show a rollout with its phases and assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rollout id")
			if err != nil {
				return err
			}
			r, err := g.client.GetRollout(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
}

func newRolloutListCommand(g *Globals) *cobra.Command {
	var (
		bundle   string
		status   string
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rollouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.ListRolloutsOptions{Status: status, Page: page, PageSize: pageSize}
			if bundle != "" {
				id, err := parseID(bundle, "bundle id")
				if err != nil {
					return err
				}
				opts.BundleID = id
			}
			res, err := g.client.ListRollouts(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&bundle, "bundle", "", "Filter by bundle id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&page, "page", 0, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")
	return cmd
}

func newRolloutActiveCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List pending, in-progress and paused rollouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := g.client.ActiveRollouts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
}

func newRolloutHistoryCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "history <bundle-id>",
		Short: "List every rollout of a bundle, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "bundle id")
			if err != nil {
				return err
			}
			rows, err := g.client.RolloutHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
}

func newRolloutEventsCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "events <rollout-id>",
		Short: "Show the audit trail of a rollout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rollout id")
			if err != nil {
				return err
			}
			rows, err := g.client.RolloutEvents(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
}

func newRolloutLifecycleCommand(g *Globals, command rollouts.Command, short string) *cobra.Command {
	var (
		reason  string
		version int64
		phase   int
	)
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <rollout-id>", command),
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rollout id")
			if err != nil {
				return err
			}
			opts := client.CommandOptions{Reason: reason}
			if cmd.Flags().Changed("if-version") {
				opts.ExpectedVersion = &version
			}
			if cmd.Flags().Changed("expect-phase") {
				opts.ExpectedPhaseNumber = &phase
			}
			r, err := g.client.Command(cmd.Context(), id, command, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit trail")
	cmd.Flags().Int64Var(&version, "if-version", 0, "Only apply if the rollout is at this version")
	cmd.Flags().IntVar(&phase, "expect-phase", 0, "Only apply if the rollout is at this phase")
	return cmd
}
