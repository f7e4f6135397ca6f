package cli

import (
	"fmt"
	"strings"

	"github.com/isb2026/bomrel/internal/ir"
)

// RenderTree draws pre-ordered node views as an indented outline, one node
// per line. Used by the CLI and by the scenario harness golden files.
func RenderTree(views []ir.NodeView) string {
	var b strings.Builder
	for _, v := range views {
		fmt.Fprintf(&b, "%s%s %s [%d,%d] %s\n",
			strings.Repeat("  ", v.Depth), v.ID, v.Kind, v.Left, v.Right, v.Payload)
	}
	return b.String()
}

// RenderSlots draws one line per leaf slot.
func RenderSlots(slots []ir.Slot) string {
	var b strings.Builder
	for _, s := range slots {
		fmt.Fprintf(&b, "%s %s -> %s (v%d)\n", s.LeafID, s.Payload, instanceText(s.InstanceID), s.Version)
	}
	return b.String()
}

func renderMutation(r ir.MutationReceipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s in %s: range [%d,%d], struct version %d\n",
		r.Op, r.NodeID, r.RootID, r.Range.Left, r.Range.Right, r.StructVersion)
	if !r.Plan.IsNoop() {
		fmt.Fprintf(&b, "shift from %d by %+d moved %d nodes\n", r.Plan.From, r.Plan.Delta, r.ShiftedNodes)
	}
	if len(r.Inserted) > 1 {
		fmt.Fprintf(&b, "inserted %d nodes\n", len(r.Inserted))
	}
	for _, u := range r.Unassigned {
		fmt.Fprintf(&b, "unassigned %s (was %s)\n", u.LeafID, instanceText(u.Previous))
	}
	fmt.Fprintf(&b, "receipt %s\n", r.ID)
	return b.String()
}

func renderAssignment(r ir.AssignmentReceipt) string {
	return fmt.Sprintf("%s: %s -> %s (v%d)\n", r.LeafID, instanceText(r.Previous), instanceText(r.Current), r.Version)
}

func renderDecision(d ir.Decision) string {
	if d.Accept {
		return "accept\n"
	}
	return fmt.Sprintf("reject %s: %s\n", d.Reject.Code, d.Reject.Message)
}

func instanceText(id *ir.InstanceID) string {
	if id == nil {
		return "-"
	}
	return string(*id)
}
