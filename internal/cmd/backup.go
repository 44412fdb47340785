package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scribeapp/scribeup/internal/backup"
	"github.com/scribeapp/scribeup/internal/config"
	"github.com/scribeapp/scribeup/internal/install"
	"github.com/scribeapp/scribeup/internal/interactive"
	"github.com/scribeapp/scribeup/internal/output"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage snapshots of the Scribe installation",
		Long: `Backup manages snapshots of the Scribe install directory.

A snapshot is taken automatically before every update. Use 'scribeup backup
create' to take one manually before risky changes, and 'scribeup backup
restore' to return to a previous version.`,
	}

	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupRestoreCmd())
	cmd.AddCommand(newBackupDeleteCmd())
	cmd.AddCommand(newBackupPruneCmd())

	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot",
		Long:  `Create copies the current install directory into a timestamped snapshot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupCreate(note)
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Add a note to describe this backup")

	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all snapshots",
		Long:  `List displays all snapshots with their version and creation time, newest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupList()
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore the installation from a snapshot",
		Long: `Restore replaces the install directory with a snapshot's contents.

Use 'latest' as the ID to restore the most recent snapshot. Scribe must be
closed before restoring.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupRestore(args[0])
		},
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupDelete(args[0])
		},
	}
}

func newBackupPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old snapshots",
		Long:  `Prune deletes old snapshots, keeping only the most recent N.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupPrune(keep)
		},
	}

	cmd.Flags().IntVar(&keep, "keep", backup.DefaultKeepCount, "Number of snapshots to keep")

	return cmd
}

// backupEnvironment loads the config and returns a manager over its backup
// directory. The install state is loaded only by subcommands that touch the
// install tree.
func backupEnvironment() (*config.Config, *backup.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, backup.NewManager(cfg.BackupDir), nil
}

func runBackupCreate(note string) error {
	cfg, mgr, err := backupEnvironment()
	if err != nil {
		return err
	}

	st, err := install.Load(cfg.InstallDir, cfg.BackupDir)
	if err != nil {
		return err
	}

	snap, err := mgr.Create(st.Root, st.CurrentVersion, note)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	info("Created backup %s (version %s)", snap.ID, snap.Version)
	return nil
}

func runBackupList() error {
	_, mgr, err := backupEnvironment()
	if err != nil {
		return err
	}

	infos, err := mgr.List()
	if err != nil {
		return err
	}

	writer, err := newOutputWriter()
	if err != nil {
		return err
	}

	list := output.BackupList{Backups: make([]output.BackupEntry, 0, len(infos))}
	for _, b := range infos {
		list.Backups = append(list.Backups, output.BackupEntry{
			ID:        b.ID,
			Version:   b.Version,
			CreatedAt: b.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return writer.Write(list)
}

func runBackupRestore(id string) error {
	cfg, mgr, err := backupEnvironment()
	if err != nil {
		return err
	}

	snap, err := mgr.Get(id)
	if err != nil {
		return err
	}

	if err := install.EnsureStopped(cfg.InstallDir); err != nil {
		return err
	}

	if !assumeYes {
		if !interactive.IsTerminal() {
			return fmt.Errorf("standard input is not a terminal; re-run with --yes to restore without confirmation")
		}
		prompter := interactive.NewPrompter()
		if !prompter.ConfirmRestore(snap.ID, snap.Version) {
			info("Restore aborted.")
			return nil
		}
	}

	if err := mgr.Restore(snap.ID, cfg.InstallDir); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	info("Restored version %s from backup %s", snap.Version, snap.ID)
	return nil
}

func runBackupDelete(id string) error {
	_, mgr, err := backupEnvironment()
	if err != nil {
		return err
	}

	snap, err := mgr.Get(id)
	if err != nil {
		return err
	}

	if !assumeYes {
		if !interactive.IsTerminal() {
			return fmt.Errorf("standard input is not a terminal; re-run with --yes to delete without confirmation")
		}
		prompter := interactive.NewPrompter()
		if !prompter.ConfirmDelete(snap.ID) {
			info("Delete aborted.")
			return nil
		}
	}

	if err := mgr.Delete(snap.ID); err != nil {
		return err
	}

	info("Deleted backup %s", snap.ID)
	return nil
}

func runBackupPrune(keep int) error {
	_, mgr, err := backupEnvironment()
	if err != nil {
		return err
	}

	result, err := mgr.Prune(keep)
	if err != nil {
		return err
	}

	if len(result.Deleted) == 0 {
		info("Nothing to prune (%d snapshot(s) kept).", result.Kept)
		return nil
	}

	for _, b := range result.Deleted {
		info("Deleted backup %s", b.ID)
	}
	info("Kept %d snapshot(s).", result.Kept)
	return nil
}
