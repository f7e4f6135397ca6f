package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/isb2026/bomrel/internal/engine"
	"github.com/isb2026/bomrel/internal/ir"
)

// expectVersion registers --expect-version on cmd. The returned func yields
// nil when the flag was not given.
func expectVersion(cmd *cobra.Command) func() *int64 {
	var v int64
	cmd.Flags().Int64Var(&v, "expect-version", 0, "fail unless the slot is at this version (0 = never assigned)")
	return func() *int64 {
		if !cmd.Flags().Changed("expect-version") {
			return nil
		}
		return &v
	}
}

// NewAssignCommand creates the assign command.
func NewAssignCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <leaf-id> <instance-id>",
		Short: "Bind an instance to a leaf slot",
		Long: `Bind an instance to a leaf slot. An occupied slot is reassigned in one
version step. An instance fills at most one leaf per tree.

Example:
  bomrel assign n7 mold-0042 --expect-version 3`,
		Args: cobra.ExactArgs(2),
	}
	expected := expectVersion(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
			receipt, err := e.Assign(ctx, ir.NodeID(args[0]), ir.InstanceID(args[1]), expected())
			if err != nil {
				return err
			}
			return out.Result(receipt, renderAssignment(receipt))
		})
	}
	return cmd
}

// NewUnassignCommand creates the unassign command.
func NewUnassignCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unassign <leaf-id>",
		Short: "Clear a leaf slot",
		Args:  cobra.ExactArgs(1),
	}
	expected := expectVersion(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
			receipt, err := e.Unassign(ctx, ir.NodeID(args[0]), expected())
			if err != nil {
				return err
			}
			return out.Result(receipt, renderAssignment(receipt))
		})
	}
	return cmd
}

// NewSlotsCommand creates the slots command.
func NewSlotsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "slots <root-id>",
		Short: "List the leaf slots of a tree with their instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				slots, err := e.Slots(ctx, ir.NodeID(args[0]))
				if err != nil {
					return err
				}
				return out.Result(slots, RenderSlots(slots))
			})
		},
	}
}
