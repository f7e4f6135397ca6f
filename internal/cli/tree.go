package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isb2026/bomrel/internal/engine"
	"github.com/isb2026/bomrel/internal/ir"
)

// NewTreeCommand creates the tree command group.
func NewTreeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Create and list trees",
	}
	cmd.AddCommand(newTreeCreateCommand(opts))
	cmd.AddCommand(newTreeListCommand(opts))
	return cmd
}

func newTreeCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <file>",
		Short: "Create a tree from a YAML or CUE subtree file",
		Long: `Create a tree from a subtree file. The top node becomes the ROOT.

Example:
  bomrel tree create mold-bom.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				sub, err := LoadSubtree(args[0])
				if err != nil {
					return err
				}
				out.VerboseLog("creating tree from %s (%d nodes)", args[0], sub.Size())
				receipt, err := e.CreateTree(ctx, sub)
				if err != nil {
					return err
				}
				return out.Result(receipt, renderMutation(receipt))
			})
		},
	}
}

func newTreeListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every tree with status and structural version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				roots, err := e.Roots(ctx)
				if err != nil {
					return err
				}
				var b strings.Builder
				for _, r := range roots {
					fmt.Fprintf(&b, "%s %s v%d\n", r.ID, r.Status, r.StructVersion)
				}
				return out.Result(roots, b.String())
			})
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	var ancestors bool
	cmd := &cobra.Command{
		Use:   "show <node-id>",
		Short: "Show a node and its descendants in pre-order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				var (
					views []ir.NodeView
					err   error
				)
				if ancestors {
					views, err = e.AncestorsOf(ctx, ir.NodeID(args[0]))
				} else {
					views, err = e.DescendantsOf(ctx, ir.NodeID(args[0]))
				}
				if err != nil {
					return err
				}
				return out.Result(views, RenderTree(views))
			})
		},
	}
	cmd.Flags().BoolVar(&ancestors, "ancestors", false, "show the path from the root instead")
	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <root-id>",
		Short: "Check the nested-set invariants of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				if err := e.Verify(ctx, ir.NodeID(args[0])); err != nil {
					return err
				}
				return out.Result(map[string]any{"root_id": args[0], "ok": true}, fmt.Sprintf("%s: ok\n", args[0]))
			})
		},
	}
}

// NewFinalizeCommand creates the finalize command.
func NewFinalizeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <root-id>",
		Short: "Freeze the structure of a tree; assignments stay writable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				receipt, err := e.FinalizeRoot(ctx, ir.NodeID(args[0]))
				if err != nil {
					return err
				}
				return out.Result(receipt, renderMutation(receipt))
			})
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a tree from legacy parent/item BOM rows",
		Long: `Create a tree from a legacy adjacency file.

The file lists edges; the single item without a parent becomes the ROOT.
Cycles, repeated edges and extra roots are rejected before anything is
written.

Example file:
  payload_kind: item
  edges:
    - item: "100"
    - parent: "100"
      item: "210"
      order: 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error {
				sub, err := LoadImport(args[0], opts.Config.MaxSubtreeNodes)
				if err != nil {
					return err
				}
				if dryRun {
					return out.Result(sub, fmt.Sprintf("%s: %d nodes, ok\n", sub.Payload, sub.Size()))
				}
				receipt, err := e.CreateTree(ctx, sub)
				if err != nil {
					return err
				}
				return out.Result(receipt, renderMutation(receipt))
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}
