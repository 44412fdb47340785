package cmd

import (
	"fmt"
	"os"

	"github.com/scribeapp/scribeup/internal/config"
	"github.com/scribeapp/scribeup/internal/fetch"
	"github.com/scribeapp/scribeup/internal/install"
	"github.com/scribeapp/scribeup/internal/output"
	"github.com/scribeapp/scribeup/internal/update"
)

// scribeupVersion is set during command initialization.
var scribeupVersion = "dev"

// newOutputWriter builds a writer for the configured output format.
func newOutputWriter() (*output.Writer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(os.Stdout, format), nil
}

// loadEnvironment loads the config and installation state, then builds an
// executor wired to them. Shared by check and update.
func loadEnvironment() (*config.Config, *install.State, *update.Executor, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := install.Load(cfg.InstallDir, cfg.BackupDir)
	if err != nil {
		return nil, nil, nil, err
	}

	exec := update.NewExecutor(st, cfg.ManifestURL).
		WithFetcher(fetch.NewClient(cfg.Timeout())).
		WithMaxRetries(cfg.Retries())

	return cfg, st, exec, nil
}

// info prints a progress line unless quiet mode is on.
func info(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}
