package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/stackforge-io/stackforge/internal/app"
	"github.com/stackforge-io/stackforge/internal/snapshot"
)

// snapshotCmd dispatches the snapshot subcommands.
func snapshotCmd(ctx context.Context, output io.Writer, args []string) error {
	if len(args) == 0 {
		printSnapshotUsage(output)
		return nil
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		return snapshotCreateCmd(ctx, output, rest)
	case "list":
		return snapshotListCmd(ctx, output, rest)
	case "diff":
		return snapshotDiffCmd(ctx, output, rest)
	case "restore":
		return snapshotRestoreCmd(ctx, output, rest)
	case "delete":
		return snapshotDeleteCmd(ctx, output, rest)
	case "pin":
		return snapshotPinCmd(ctx, output, rest, true)
	case "unpin":
		return snapshotPinCmd(ctx, output, rest, false)
	case "cleanup":
		return snapshotCleanupCmd(ctx, output, rest)
	case "help", "-h", "--help":
		printSnapshotUsage(output)
		return nil
	default:
		return usageError("unknown snapshot command %q; run \"stackforge snapshot help\"", sub)
	}
}

func printSnapshotUsage(output io.Writer) {
	fmt.Fprint(output, `
Usage:
  stackforge snapshot <command> [options]

Commands:
  create   Capture the current state of an environment.
  list     List recorded snapshots, oldest first.
  diff     Compare two snapshots by id.
  restore  Reconcile an environment back to a snapshot.
  delete   Remove a snapshot record.
  pin      Protect a snapshot from deletion and retention sweeps.
  unpin    Lift a snapshot's pin.
  cleanup  Apply a retention policy to recorded snapshots.
`)
}

func snapshotCreateCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge snapshot create", output)
	env := fs.String("env", "", "Environment to capture. Defaults to the configured one.")
	description := fs.String("description", "", "Free-text note stored on the snapshot.")
	tags := fs.String("tags", "", "Comma separated tags stored on the snapshot.")
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageError("snapshot create takes no positional arguments")
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.Orchestrator().SnapshotCreate(a.Context(ctx), *env, *description, splitList(*tags))
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Snapshot %s captured for environment %q (%d units).\n",
		snap.ID, snap.Environment, len(snap.Units))
	return nil
}

func snapshotListCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge snapshot list", output)
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageError("snapshot list takes no positional arguments")
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	snaps, err := a.Orchestrator().SnapshotList(a.Context(ctx))
	if err != nil {
		return err
	}
	printSnapshotList(output, snaps)
	return nil
}

func snapshotDiffCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge snapshot diff", output)
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageError("snapshot diff takes exactly two snapshot ids, got %d", fs.NArg())
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.Orchestrator().SnapshotDiff(a.Context(ctx), fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	printDiff(output, d)
	return nil
}

func snapshotRestoreCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge snapshot restore", output)
	env := fs.String("env", "", "Environment to reconcile. Defaults to the configured one.")
	dryRun := fs.Bool("dry-run", false, "Print the reconciliation plan without touching the environment.")
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("snapshot restore takes exactly one snapshot id, got %d", fs.NArg())
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.Orchestrator().SnapshotRestore(a.Context(ctx), *env, fs.Arg(0), *dryRun)
	if rep != nil {
		// Partial failures come back with both a report and an error;
		// show what was applied before surfacing the error.
		printRestoreReport(output, rep)
	}
	return err
}

func snapshotDeleteCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge snapshot delete", output)
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("snapshot delete takes exactly one snapshot id, got %d", fs.NArg())
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Orchestrator().SnapshotDelete(a.Context(ctx), fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(output, "Snapshot %s deleted.\n", fs.Arg(0))
	return nil
}

func snapshotPinCmd(ctx context.Context, output io.Writer, args []string, pinned bool) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	name := "stackforge snapshot pin"
	if !pinned {
		name = "stackforge snapshot unpin"
	}
	fs := newFlagSet(name, output)
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("%s takes exactly one snapshot id, got %d", name, fs.NArg())
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Orchestrator().SnapshotPin(a.Context(ctx), fs.Arg(0), pinned); err != nil {
		return err
	}
	if pinned {
		fmt.Fprintf(output, "Snapshot %s pinned.\n", fs.Arg(0))
	} else {
		fmt.Fprintf(output, "Snapshot %s unpinned.\n", fs.Arg(0))
	}
	return nil
}

func snapshotCleanupCmd(ctx context.Context, output io.Writer, args []string) error {
	settings, err := envSettings()
	if err != nil {
		return err
	}

	fs := newFlagSet("stackforge snapshot cleanup", output)
	policyPath := fs.String("policy", "", "Retention policy YAML file. Conflicts with -max-age and -max-count.")
	maxAge := fs.Duration("max-age", 0, "Delete snapshots older than this, e.g. 720h.")
	maxCount := fs.Int("max-count", 0, "Keep only this many newest snapshots.")
	settingsFlags(fs, &settings)

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageError("snapshot cleanup takes no positional arguments")
	}

	var policy snapshot.RetentionPolicy
	if *policyPath != "" {
		if *maxAge != 0 || *maxCount != 0 {
			return usageError("-policy conflicts with -max-age and -max-count")
		}
		policy, err = snapshot.LoadRetentionPolicy(*policyPath)
		if err != nil {
			return usageError("%s", err)
		}
	} else {
		policy = snapshot.RetentionPolicy{MaxAge: *maxAge, MaxCount: *maxCount}
	}
	if err := policy.Validate(); err != nil {
		return usageError("%s", err)
	}
	if err := validateSettings(&settings); err != nil {
		return err
	}

	a, err := app.New(ctx, output, &settings)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.Orchestrator().SnapshotCleanup(a.Context(ctx), policy)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Deleted %d snapshot(s), kept %d (%d pinned).\n",
		len(rep.Deleted), rep.Kept, rep.Pinned)
	for _, id := range rep.Deleted {
		fmt.Fprintf(output, "  - %s\n", id)
	}
	return nil
}
