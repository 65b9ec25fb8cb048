// Package ingest persists allure result files into the relational store so
// that the dashboard can be served from the database.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/raphi011/allureboard/internal/metric"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/report"
	"github.com/raphi011/allureboard/internal/storage"
	"github.com/raphi011/allureboard/internal/tags"
	"github.com/spf13/afero"
)

const (
	maxErrorMessage = 2000
	maxStackTrace   = 4000
	maxStepMessage  = 1000
	maxStepTrace    = 2000

	unknownFeature = "Unknown"
)

type Store interface {
	ResultExists(ctx context.Context, uuid string) (bool, error)
	InsertResult(ctx context.Context, r storage.ResultRow) (int64, error)
	InsertSteps(ctx context.Context, steps []storage.StepRow) error

	StartTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context)
}

// Summary counts what happened to the reports of one run.
type Summary struct {
	Files     int `json:"files"`
	Persisted int `json:"persisted"`
	// Existing counts reports whose uuid was persisted before.
	Existing int `json:"existing"`
	// Skipped counts containers, fixtures and reports without uuid.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Job struct {
	fs    afero.Fs
	dir   string
	store Store
	runID string

	log *slog.Logger
}

type Option func(*Job)

// WithRunID tags every persisted result with the id of the test run that
// produced it.
func WithRunID(id string) Option {
	return func(j *Job) {
		j.runID = id
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(j *Job) {
		j.log = l
	}
}

func New(fsys afero.Fs, dir string, store Store, opts ...Option) *Job {
	j := &Job{
		fs:    fsys,
		dir:   dir,
		store: store,
		log:   slog.Default(),
	}

	for _, o := range opts {
		o(j)
	}

	return j
}

// Run persists every result file of the results directory that has not been
// persisted yet. A file that fails is logged and counted, it never aborts
// the run.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	files, err := j.resultFiles()
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Files: len(files)}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := j.ingestFile(ctx, file, &summary); err != nil {
			j.log.Warn("Ingesting result file failed", "source", file, "error", err)
			summary.Failed++
			metric.IngestedResultsTotal.WithLabelValues("failed").Inc()
		}
	}

	j.log.Info("Ingest finished",
		"files", summary.Files,
		"persisted", summary.Persisted,
		"existing", summary.Existing,
		"skipped", summary.Skipped,
		"failed", summary.Failed)

	return summary, nil
}

// resultFiles lists the json files of the results directory whose name
// contains "result". Sub directories are not searched.
func (j *Job) resultFiles() ([]string, error) {
	entries, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, model.SourceUnavailableError{Source: j.dir, Err: err}
		}
		return nil, fmt.Errorf("listing results directory %s: %w", j.dir, err)
	}

	files := []string{}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		if !strings.Contains(strings.ToLower(name), "result") {
			continue
		}

		files = append(files, filepath.Join(j.dir, name))
	}

	return files, nil
}

func (j *Job) ingestFile(ctx context.Context, file string, summary *Summary) error {
	data, err := afero.ReadFile(j.fs, file)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	reports, err := report.ParseReport(data)
	if err != nil {
		return model.ParseError{Source: file, Err: err}
	}

	for _, r := range reports {
		if !report.Keep(r) {
			summary.Skipped++
			metric.IngestedResultsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		exists, err := j.store.ResultExists(ctx, r.UUID)
		if err != nil {
			return err
		}

		if exists {
			j.log.Debug("Result already persisted", "uuid", r.UUID)
			summary.Existing++
			metric.IngestedResultsTotal.WithLabelValues("existing").Inc()
			continue
		}

		if err := j.persist(ctx, r); err != nil {
			return fmt.Errorf("persisting result %s: %w", r.UUID, err)
		}

		summary.Persisted++
		metric.IngestedResultsTotal.WithLabelValues("persisted").Inc()
	}

	return nil
}

func (j *Job) persist(ctx context.Context, r report.RawReport) error {
	ctx, err := j.store.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer j.store.RollbackTransaction(ctx)

	row := ResultRow(r)
	row.RunID = j.runID

	id, err := j.store.InsertResult(ctx, row)
	if err != nil {
		return err
	}

	screenshot := j.screenshot(r.Attachments)

	if steps := StepRows(r.Steps, id, screenshot); len(steps) > 0 {
		if err := j.store.InsertSteps(ctx, steps); err != nil {
			return err
		}
	}

	return j.store.CommitTransaction(ctx)
}

// ResultRow converts a raw report into its persisted form.
func ResultRow(r report.RawReport) storage.ResultRow {
	feature := unknownFeature
	if len(r.TitlePath) > 0 {
		feature = strings.Join(r.TitlePath, "/")
	}

	name := r.Name
	if name == "" {
		name = "Unknown"
	}

	status := r.Status
	if status == "" {
		status = "unknown"
	}

	row := storage.ResultRow{
		UUID:             r.UUID,
		HistoryID:        r.HistoryID,
		TestCaseID:       r.TestCaseID,
		FullName:         r.FullName,
		Name:             name,
		Status:           status,
		DurationMS:       r.Stop - r.Start,
		Feature:          feature,
		Labels:           tags.Join(tags.FromLabels(r.Labels)),
		StepsCount:       len(r.Steps),
		AttachmentsCount: len(r.Attachments),
		StartTime:        r.Start,
		EndTime:          r.Stop,
	}

	if d := r.StatusDetails; d != nil {
		row.ErrorMessage = truncate(d.Message, maxErrorMessage)
		row.StackTrace = truncate(d.Trace, maxStackTrace)
		row.Known = d.Known
		row.Muted = d.Muted
		row.Flaky = d.Flaky
	}

	return row
}

type stepFrame struct {
	step  *report.RawStep
	level int
}

// StepRows flattens the step tree depth first. Steps deeper than
// report.MaxStepDepth are dropped. Failed and broken steps carry the
// screenshot of the report.
func StepRows(steps []report.RawStep, resultID int64, screenshot []byte) []storage.StepRow {
	rows := []storage.StepRow{}

	stack := make([]stepFrame, 0, len(steps))
	for i := len(steps) - 1; i >= 0; i-- {
		stack = append(stack, stepFrame{step: &steps[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		st := f.step

		name := st.Name
		if name == "" {
			name = "Unknown"
		}

		status := st.Status
		if status == "" {
			status = "unknown"
		}

		row := storage.StepRow{
			ResultID:         resultID,
			Name:             name,
			Status:           status,
			StartTime:        st.Start,
			EndTime:          st.Stop,
			DurationMS:       st.Stop - st.Start,
			Stage:            st.Stage,
			AttachmentsCount: len(st.Attachments),
			NestedStepsCount: len(st.Steps),
		}

		if d := st.StatusDetails; d != nil {
			row.Message = truncate(d.Message, maxStepMessage)
			row.Trace = truncate(d.Trace, maxStepTrace)
		}

		if failedOrBroken(status) {
			row.Screenshot = screenshot
		}

		rows = append(rows, row)

		if f.level >= report.MaxStepDepth {
			continue
		}

		for i := len(st.Steps) - 1; i >= 0; i-- {
			stack = append(stack, stepFrame{step: &st.Steps[i], level: f.level + 1})
		}
	}

	return rows
}

func failedOrBroken(status string) bool {
	return model.NormalizeStatus(status) == model.StatusFailed ||
		model.NormalizeStatus(status) == model.StatusBroken
}

var imageExtensions = []string{".png", ".jpg", ".jpeg"}

func isImage(a report.RawAttachment) bool {
	if strings.TrimSpace(a.Type) == "" {
		return false
	}

	if strings.HasPrefix(strings.ToLower(a.Type), "image/") {
		return true
	}

	for _, ext := range imageExtensions {
		if strings.HasSuffix(strings.ToLower(a.Name), ext) || strings.HasSuffix(strings.ToLower(a.Source), ext) {
			return true
		}
	}

	return false
}

// screenshot reads the first image attachment of a report from the results
// directory. Missing files yield no screenshot.
func (j *Job) screenshot(attachments []report.RawAttachment) []byte {
	for _, a := range attachments {
		if !isImage(a) {
			continue
		}

		for _, candidate := range screenshotCandidates(a) {
			data, err := afero.ReadFile(j.fs, filepath.Join(j.dir, candidate))
			if err == nil {
				return data
			}
		}

		j.log.Debug("Screenshot attachment not found", "name", a.Name, "source", a.Source)

		return nil
	}

	return nil
}

func screenshotCandidates(a report.RawAttachment) []string {
	candidates := []string{}

	for _, c := range []string{a.Source, a.Name} {
		c = strings.TrimSpace(strings.ReplaceAll(c, `\`, "/"))
		if c == "" || strings.Contains(c, "..") {
			continue
		}

		candidates = append(candidates, filepath.FromSlash(c))

		if base := path.Base(c); base != c {
			candidates = append(candidates, base)
		}
	}

	return candidates
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}

	return string(r[:max])
}
