package main

import (
	"fmt"

	"github.com/raphi011/allureboard/internal/config"
	"github.com/raphi011/allureboard/internal/logging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var flags struct {
	configFile  string
	logLevel    string
	logFormat   string
	reportsPath string
	resultsDir  string
	dbPath      string

	host        string
	port        int
	mode        string
	watch       bool
	ingest      bool
	refreshCron string

	runID string
}

// loadConfig reads the configuration file and applies the flags that were
// set explicitly on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(afero.NewOsFs(), flags.configFile)
	if err != nil {
		return cfg, err
	}

	changed := func(name string) bool {
		return cmd.Flags().Changed(name)
	}

	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}
	if changed("reports-path") {
		cfg.ReportsPath = flags.reportsPath
	}
	if changed("results-dir") {
		cfg.ResultsDir = flags.resultsDir
		cfg.Ingest.ResultsDir = flags.resultsDir
	}
	if changed("db") {
		cfg.Database.Path = flags.dbPath
	}
	if changed("host") {
		cfg.Host = flags.host
	}
	if changed("port") {
		cfg.Port = flags.port
	}
	if changed("mode") {
		cfg.Source.Mode = modeFlag()
	}
	if changed("watch") {
		cfg.Watch.Enabled = flags.watch
	}
	if changed("ingest") {
		cfg.Ingest.Enabled = flags.ingest
	}
	if changed("refresh-schedule") {
		cfg.Refresh.Schedule = flags.refreshCron
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return cfg, err
	}

	logging.Init(level, cfg.Log.Format, cmd.ErrOrStderr())

	return cfg, nil
}
