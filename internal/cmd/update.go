package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scribeapp/scribeup/internal/backup"
	"github.com/scribeapp/scribeup/internal/interactive"
	"github.com/scribeapp/scribeup/internal/output"
	"github.com/scribeapp/scribeup/internal/update"
)

func newUpdateCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download and install the latest Scribe version",
		Long: `Update fetches the release manifest and, when a newer version is
published, downloads the release artifact, verifies its digest, snapshots
the current installation, and installs the new version.

A failed install is rolled back from the snapshot. Close Scribe before
updating; the install is refused while the application is running.

Examples:
  scribeup update            # Prompt before installing
  scribeup update --yes      # Install without prompting
  scribeup update --check    # Only report whether an update exists`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkOnly {
				return runCheck(cmd.Context())
			}
			return runUpdate(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Check for updates without installing")

	return cmd
}

func runUpdate(ctx context.Context) error {
	cfg, st, exec, err := loadEnvironment()
	if err != nil {
		return err
	}

	writer, err := newOutputWriter()
	if err != nil {
		return err
	}

	result, err := exec.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	if !result.UpdateAvailable {
		return writer.Write(output.UpdateReport{
			PreviousVersion: result.CurrentVersion,
			NewVersion:      result.CurrentVersion,
			Outcome:         "up-to-date",
		})
	}

	if !assumeYes {
		if !result.Mandatory && !interactive.IsTerminal() {
			return fmt.Errorf("standard input is not a terminal; re-run with --yes to update without confirmation")
		}
		prompter := interactive.NewPrompter()
		if !prompter.ConfirmUpdate(result.CurrentVersion, result.Descriptor, result.Mandatory) {
			info("Update deferred.")
			return nil
		}
	}

	previous := st.CurrentVersion
	exec.WithObserver(progressObserver(os.Stdout))

	final, err := exec.PerformUpdate(ctx, result.Descriptor)
	switch final {
	case update.StateDone:
		report := output.UpdateReport{
			PreviousVersion: previous,
			NewVersion:      result.Descriptor.Version,
			Outcome:         "updated",
		}
		mgr := backup.NewManager(cfg.BackupDir)
		if backups, listErr := mgr.List(); listErr == nil && len(backups) > 0 {
			report.BackupID = backups[0].ID
		}
		if pruned, pruneErr := mgr.Prune(cfg.KeepBackups); pruneErr == nil && len(pruned.Deleted) > 0 {
			info("Pruned %d old backup(s).", len(pruned.Deleted))
		}
		return writer.Write(report)

	case update.StateRolledBack:
		_ = writer.Write(output.UpdateReport{
			PreviousVersion: previous,
			NewVersion:      result.Descriptor.Version,
			Outcome:         "rolled-back",
		})
		return err

	default:
		if errors.Is(err, update.ErrRollbackFailed) {
			return fmt.Errorf("%w; the installation may be damaged, restore a backup with 'scribeup backup restore latest'", err)
		}
		if err != nil && update.Retryable(err) {
			return fmt.Errorf("%w (safe to retry)", err)
		}
		return err
	}
}

// progressObserver prints pipeline state transitions and coarse download
// progress unless quiet mode is on.
func progressObserver(w io.Writer) update.Observer {
	lastPct := -1
	return func(ev update.Event) {
		if quiet {
			return
		}
		switch ev.Kind {
		case update.EventStateChanged:
			switch ev.State {
			case update.StateDownloading:
				fmt.Fprintln(w, "Downloading update...")
			case update.StateVerifying:
				fmt.Fprintln(w, "Verifying digest...")
			case update.StateBackingUp:
				fmt.Fprintln(w, "Backing up current version...")
			case update.StateInstalling:
				fmt.Fprintln(w, "Installing...")
			}
		case update.EventDownloadProgress:
			pct := int(ev.Percent)
			if pct/20 > lastPct/20 || (verbose && pct > lastPct) {
				fmt.Fprintf(w, "  %d%%\n", pct)
				lastPct = pct
			}
		}
	}
}
