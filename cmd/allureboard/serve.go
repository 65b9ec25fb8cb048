package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/raphi011/allureboard"
	"github.com/raphi011/allureboard/internal/logging"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard",
	Long: `Loads the allure results into memory and serves the dashboard.

In file mode the results directory is watched and every new or changed
result file triggers a refresh. In database mode the results are read from
the sqlite database that the ingest job fills.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()

	f.StringVar(&flags.host, "host", "", "interface the server listens on")
	f.IntVarP(&flags.port, "port", "p", 1337, "port the server listens on")
	f.StringVar(&flags.mode, "mode", string(model.SourceModeFile), "where results are read from (file, database)")
	f.BoolVar(&flags.watch, "watch", true, "refresh when result files change (file mode only)")
	f.BoolVar(&flags.ingest, "ingest", false, "persist result files into the database on the ingest schedule")
	f.StringVar(&flags.refreshCron, "refresh-schedule", "", "cron expression with seconds that triggers a refresh")

	rootCmd.Flags().AddFlagSet(f)
}

func modeFlag() model.SourceMode {
	return model.SourceMode(flags.mode)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := allureboard.New(cfg, allureboard.WithLogger(logging.New("server")))

	return s.Run(ctx)
}
