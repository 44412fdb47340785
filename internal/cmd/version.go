package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show scribeup version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				fmt.Printf("scribeup version %s (commit %s, built %s)\n", scribeupVersion, commit, date)
			} else {
				fmt.Printf("scribeup version %s\n", scribeupVersion)
			}
			return nil
		},
	}
}
