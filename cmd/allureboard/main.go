// allureboard serves a dashboard over allure test results.
//
// Usage:
//
//	allureboard serve  [--config=<file>] [--port=<port>] [--reports-path=<dir>] [--mode=file|database]
//	allureboard ingest [--config=<file>] [--results-dir=<dir>] [--db=<file>] [--run-id=<id>]
//	allureboard version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "allureboard",
	Short: "Dashboard for allure test results",
	Long:  "allureboard aggregates allure result files by project, tag, status and time\nand serves the aggregates as json api and html dashboard.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "path of the yaml configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&flags.reportsPath, "reports-path", "", "base directory of the reports")
	rootCmd.PersistentFlags().StringVar(&flags.resultsDir, "results-dir", "", "directory of the allure result files")
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "path of the sqlite database")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version

	// serve is the default command
	rootCmd.RunE = serveCmd.RunE
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
