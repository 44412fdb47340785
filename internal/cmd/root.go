package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	assumeYes    bool
	verbose      bool
	quiet        bool
)

func Execute(version, commit, date string) error {
	scribeupVersion = version

	rootCmd := &cobra.Command{
		Use:   "scribeup",
		Short: "Update manager for the Scribe guide recorder",
		Long: `scribeup checks for, downloads, and installs updates for a Scribe
installation. Every update is verified against its published digest and the
previous version is snapshotted before any file is replaced, so a failed
install rolls back cleanly.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to scribeup config file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation prompts")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newVersionCmd(commit, date))
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd.Execute()
}
