package main

import (
	"encoding/json"

	"github.com/raphi011/allureboard/internal/ingest"
	"github.com/raphi011/allureboard/internal/logging"
	"github.com/raphi011/allureboard/internal/storage"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Persist allure result files into the database once",
	Long: `Reads every result file of the results directory and persists the results
that are not yet stored in the sqlite database. Containers, fixtures and
hook results are skipped. Prints a summary as json.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&flags.runID, "run-id", "", "id of the test run stored with every result")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logging.New("ingest")

	s, err := storage.New(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer s.Close()

	job := ingest.New(afero.NewOsFs(), cfg.EffectiveIngestDir(), s,
		ingest.WithRunID(flags.runID),
		ingest.WithLogger(log))

	summary, err := job.Run(cmd.Context())
	if err != nil {
		return err
	}

	e := json.NewEncoder(cmd.OutOrStdout())
	e.SetIndent("", "  ")

	return e.Encode(summary)
}
