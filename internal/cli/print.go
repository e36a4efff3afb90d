package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stackforge-io/stackforge/internal/orchestrator"
	"github.com/stackforge-io/stackforge/internal/snapshot"
	"github.com/stackforge-io/stackforge/internal/state"
)

// printPlan renders the dependency layers of a plan, one line per wave of
// stages that may run together.
func printPlan(w io.Writer, plan [][]string) {
	fmt.Fprintln(w, "Plan:")
	for i, layer := range plan {
		fmt.Fprintf(w, "  %d. %s\n", i+1, strings.Join(layer, ", "))
	}
}

func printDeployResult(w io.Writer, res *orchestrator.DeployResult) {
	printPlan(w, res.Plan)
	if res.Run == nil {
		fmt.Fprintln(w, "Dry run, nothing executed.")
		return
	}
	printRunReport(w, res.Run)
	if res.RestoredTo != "" {
		fmt.Fprintf(w, "Environment rolled back to snapshot %s.\n", res.RestoredTo)
	}
}

func printRunReport(w io.Writer, r *orchestrator.RunReport) {
	fmt.Fprintf(w, "Run %s: pipeline %q on %q %s\n", r.ID, r.Pipeline, r.Environment, r.Status)
	if r.PreSnapshotID != "" {
		fmt.Fprintf(w, "  pre-deployment snapshot %s\n", r.PreSnapshotID)
	}
	for _, st := range r.Stages {
		line := fmt.Sprintf("  %-20s %-10s", st.Name, st.Status)
		if st.Duration > 0 {
			line += " " + st.Duration.Round(time.Millisecond).String()
		}
		if st.Reason != "" {
			line += "  (" + st.Reason + ")"
		}
		if len(st.Artifacts) > 0 {
			line += "  artifacts: " + strings.Join(st.Artifacts, ", ")
		}
		fmt.Fprintln(w, line)
	}
}

func printRunList(w io.Writer, recs []state.RunRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-16s  %-10s  %s\n", "RUN", "PIPELINE", "STATUS", "STARTED")
	for _, rec := range recs {
		fmt.Fprintf(w, "%-36s  %-16s  %-10s  %s\n",
			rec.ID, rec.Pipeline, rec.Status, rec.StartedAt.Format(time.RFC3339))
	}
}

func printSnapshotList(w io.Writer, snaps []*snapshot.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots recorded.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-6s  %s\n", "SNAPSHOT", "CREATED", "PINNED", "DESCRIPTION")
	for _, s := range snaps {
		pinned := ""
		if s.Pinned {
			pinned = "yes"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-6s  %s\n",
			s.ID, s.CreatedAt.Format(time.RFC3339), pinned, s.Description)
	}
}

func printDiff(w io.Writer, d snapshot.Diff) {
	if d.Empty() {
		fmt.Fprintln(w, "Snapshots are identical.")
		return
	}
	for _, u := range d.Added {
		fmt.Fprintf(w, "+ %s@%s\n", u.Name, u.Version)
	}
	for _, u := range d.Removed {
		fmt.Fprintf(w, "- %s@%s\n", u.Name, u.Version)
	}
	for _, m := range d.Modified {
		fmt.Fprintf(w, "~ %s %s -> %s\n", m.Name, m.From.Version, m.To.Version)
	}
}

func printRestoreReport(w io.Writer, rep *snapshot.RestoreReport) {
	if len(rep.Planned) == 0 {
		fmt.Fprintf(w, "Environment %q already matches snapshot %s.\n", rep.Environment, rep.SnapshotID)
		return
	}

	header := "Applied"
	if rep.DryRun {
		header = "Planned"
	}
	fmt.Fprintf(w, "%s changes for environment %q from snapshot %s:\n", header, rep.Environment, rep.SnapshotID)
	for _, c := range rep.Planned {
		switch c.Action {
		case snapshot.ActionReplace:
			fmt.Fprintf(w, "  ~ %s %s -> %s\n", c.Unit.Name, c.Previous.Version, c.Unit.Version)
		case snapshot.ActionRemove:
			fmt.Fprintf(w, "  - %s@%s\n", c.Unit.Name, c.Unit.Version)
		default:
			fmt.Fprintf(w, "  + %s@%s\n", c.Unit.Name, c.Unit.Version)
		}
	}
	for _, f := range rep.Failed {
		fmt.Fprintf(w, "  ! %s of %s failed: %v\n", f.Action, f.Unit, f.Err)
	}
}
