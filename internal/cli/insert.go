package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/isb2026/bomrel/internal/engine"
	"github.com/isb2026/bomrel/internal/ir"
)

// NewInsertCommand creates the insert command.
func NewInsertCommand(opts *RootOptions) *cobra.Command {
	var parent, root string
	cmd := &cobra.Command{
		Use:   "insert --parent <id> <file>",
		Short: "Insert a subtree as the last child of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				sub, err := LoadSubtree(args[0])
				if err != nil {
					return err
				}
				receipt, err := e.InsertSubtreeInto(ctx, ir.NodeID(root), ir.NodeID(parent), sub)
				if err != nil {
					return err
				}
				return out.Result(receipt, renderMutation(receipt))
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent node id")
	cmd.Flags().StringVar(&root, "root", "", "reject the insert unless the parent is in this tree")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}

// NewCheckCommand creates the check command.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	var parent, payload, root string
	cmd := &cobra.Command{
		Use:   "check --parent <id> --payload <ref>",
		Short: "Ask whether a payload may be attached under a node",
		Long: `Ask whether a payload may be attached under a node without writing
anything. A rejection exits with status 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				d, err := e.CanAttach(ctx, ir.AttachRequest{
					ParentID: ir.NodeID(parent),
					Payload:  ir.PayloadRef(payload),
					RootID:   ir.NodeID(root),
				})
				if err != nil {
					return err
				}
				if err := out.Result(d, renderDecision(d)); err != nil {
					return err
				}
				if !d.Accept {
					return NewExitError(ExitFailure, "attach rejected")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent node id")
	cmd.Flags().StringVar(&payload, "payload", "", "payload ref of the candidate child")
	cmd.Flags().StringVar(&root, "root", "", "tree the caller intends to edit")
	_ = cmd.MarkFlagRequired("parent")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

// NewDetachCommand creates the detach command.
func NewDetachCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <node-id>",
		Short: "Detach a node and its descendants, clearing their assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				receipt, err := e.DetachSubtree(ctx, ir.NodeID(args[0]))
				if err != nil {
					return err
				}
				return out.Result(receipt, renderMutation(receipt))
			})
		},
	}
}
