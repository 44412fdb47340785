package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/scribeapp/scribeup/internal/output"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check whether a Scribe update is available",
		Long: `Check fetches the release manifest and compares it against the installed
version. The installation is never modified.

Exit status is 0 whether or not an update is available; a failed manifest
fetch or a malformed manifest is an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context())
		},
	}
}

func runCheck(ctx context.Context) error {
	_, _, exec, err := loadEnvironment()
	if err != nil {
		return err
	}

	result, err := exec.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	writer, err := newOutputWriter()
	if err != nil {
		return err
	}

	report := output.CheckReport{
		CurrentVersion:  result.CurrentVersion,
		LatestVersion:   result.Descriptor.Version,
		UpdateAvailable: result.UpdateAvailable,
		Mandatory:       result.Mandatory,
		ReleaseDate:     result.Descriptor.ReleaseDate,
		Changelog:       result.Descriptor.Changelog,
	}
	return writer.Write(report)
}
