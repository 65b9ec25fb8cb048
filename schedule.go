package allureboard

import (
	"context"

	"github.com/robfig/cron/v3"
)

type scheduledRun struct {
	// Name identifies the run in logs, e.g. "refresh" or "ingest".
	Name string
	// Schedule defines how often a run is scheduled. For the format see
	// https://pkg.go.dev/github.com/robfig/cron#hdr-CRON_Expression_Format
	// (with a leading seconds field).
	Schedule string
	// EntryID identifies the cronjob
	EntryID cron.EntryID

	run func(ctx context.Context) error
}
