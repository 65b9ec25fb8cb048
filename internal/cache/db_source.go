package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphi011/allureboard/internal/aggregate"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/report"
	"github.com/raphi011/allureboard/internal/storage"
	"github.com/raphi011/allureboard/internal/tags"
)

// ResultStore is the part of the storage the database source reads from.
type ResultStore interface {
	LoadResults(ctx context.Context) ([]storage.ResultRow, error)
	LoadSteps(ctx context.Context, resultID int64) ([]storage.StepRow, error)
	DistinctTags(ctx context.Context) ([]string, error)
}

// ScreenshotPath is the api path a persisted step screenshot is served from.
func ScreenshotPath(stepID int64) string {
	return fmt.Sprintf("/api/screenshots/%d", stepID)
}

// DBSource loads results persisted by the ingest job. Results are grouped
// by the calendar day they started on.
type DBSource struct {
	store ResultStore
	log   *slog.Logger
}

func NewDBSource(store ResultStore, log *slog.Logger) *DBSource {
	return &DBSource{store: store, log: log}
}

func (s *DBSource) Mode() model.SourceMode {
	return model.SourceModeDatabase
}

func (s *DBSource) Load(ctx context.Context) (Batch, error) {
	rows, err := s.store.LoadResults(ctx)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{
		Results: make([]*model.Result, 0, len(rows)),
		Group:   aggregate.GroupByDate,
	}

	for _, row := range rows {
		if strings.TrimSpace(row.UUID) == "" {
			continue
		}

		r := ResultFromRow(row)

		steps, err := s.store.LoadSteps(ctx, row.ID)
		if err != nil {
			s.log.Warn("Loading steps failed", "source", row.UUID, "error", err)
			batch.Failures++
		}

		r.Steps = StepsFromRows(steps)

		batch.Results = append(batch.Results, r)
	}

	extra, err := s.store.DistinctTags(ctx)
	if err != nil {
		s.log.Warn("Loading distinct tags failed", "error", err)
	}
	batch.ExtraTags = extra

	return batch, nil
}

// ResultFromRow converts a persisted result. The feature column holds the
// title path, its first segment is the project.
func ResultFromRow(row storage.ResultRow) *model.Result {
	project := report.FirstPathSegment(row.Feature)
	if project == "" {
		project = report.DefaultProject
	}

	duration := row.DurationMS
	if duration == 0 && row.EndTime != 0 {
		duration = row.EndTime - row.StartTime
	}

	return &model.Result{
		ID:          row.UUID,
		Name:        row.Name,
		FullName:    row.FullName,
		HistoryID:   row.HistoryID,
		Status:      model.NormalizeStatus(row.Status),
		Project:     project,
		Tags:        tags.FromString(row.Labels),
		Timestamp:   time.UnixMilli(row.StartTime).Local(),
		DurationMS:  duration,
		Source:      row.UUID,
		Steps:       []model.Step{},
		Attachments: []model.Attachment{},
		Known:       row.Known,
		Muted:       row.Muted,
		Flaky:       row.Flaky,
		Message:     row.ErrorMessage,
		Trace:       row.StackTrace,
	}
}

// StepsFromRows converts persisted steps. They were flattened on ingest, so
// the result is a flat list in execution order.
func StepsFromRows(rows []storage.StepRow) []model.Step {
	steps := make([]model.Step, 0, len(rows))

	for _, row := range rows {
		st := model.Step{
			Name:       row.Name,
			Status:     row.Status,
			Stage:      row.Stage,
			Start:      row.StartTime,
			Stop:       row.EndTime,
			DurationMS: row.DurationMS,
			Message:    row.Message,
			Trace:      row.Trace,
		}

		if row.HasScreenshot {
			st.ScreenshotPath = ScreenshotPath(row.ID)
		}

		steps = append(steps, st)
	}

	return steps
}
