package commands

import (
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/edgeward/fleet-backend/internal/client"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

func newFlatCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flat",
		Short: "Manage flat (all-at-once) rollouts",
	}
	cmd.AddCommand(
		newFlatCreateCommand(g),
		newFlatGetCommand(g),
		newFlatListCommand(g),
		newFlatCancelCommand(g),
		newFlatStatusCommand(g),
	)
	return cmd
}

func newFlatCreateCommand(g *Globals) *cobra.Command {
	var (
		bundle     string
		version    string
		targetType string
		targets    []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Assign a bundle version to devices or device groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bundleID, err := parseID(bundle, "bundle id")
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("at least one --target is required")
			}
			ids := make([]uuid.UUID, 0, len(targets))
			for _, raw := range targets {
				id, err := parseID(raw, "target id")
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			res, err := g.client.CreateFlatRollout(cmd.Context(), client.CreateFlatRolloutRequest{
				BundleID:   bundleID,
				Version:    version,
				TargetType: targetType,
				TargetIDs:  ids,
				AssignedBy: g.Actor,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&bundle, "bundle", "", "Bundle id")
	cmd.Flags().StringVar(&version, "version", "", "Bundle version to assign")
	cmd.Flags().StringVar(&targetType, "target-type", "device", "device or group")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Target id (repeatable)")
	return cmd
}

func newFlatGetCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <group-id>",
		Short: "Show a flat rollout group and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "group id")
			if err != nil {
				return err
			}
			res, err := g.client.GetFlatRollout(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newFlatListCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list <bundle-id>",
		Short: "List flat rollout groups of a bundle, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "bundle id")
			if err != nil {
				return err
			}
			res, err := g.client.FlatRolloutsByBundle(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newFlatCancelCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <group-id>",
		Short: "Cancel the pending and in-progress records of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "group id")
			if err != nil {
				return err
			}
			res, err := g.client.CancelFlatRollout(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newFlatStatusCommand(g *Globals) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "status <record-id> <status>",
		Short: "Set the status of one flat rollout record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "record id")
			if err != nil {
				return err
			}
			status, ok := rollouts.ParseFlatStatus(args[1])
			if !ok {
				return errors.New("status must be one of pending, in_progress, succeeded, failed, cancelled")
			}
			rec, err := g.client.UpdateFlatRecordStatus(cmd.Context(), id, status, message)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "Error message (required for failed)")
	return cmd
}
