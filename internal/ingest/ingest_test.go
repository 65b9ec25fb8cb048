package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/raphi011/allureboard/internal/ingest"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/report"
	"github.com/raphi011/allureboard/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dir = "/allure-results"

const failedReport = `{
	"uuid": "a",
	"name": "Checkout",
	"status": "failed",
	"start": 1000,
	"stop": 1800,
	"titlePath": ["Nova", "Cart"],
	"labels": [{"name": "tag", "value": "smoke"}, {"name": "tag", "value": "nightly"}, {"name": "suite", "value": "x"}],
	"statusDetails": {"message": "boom", "trace": "at checkout", "flaky": true},
	"attachments": [
		{"name": "log", "source": "log.txt", "type": "text/plain"},
		{"name": "Screenshot", "source": "shots/shot-attachment.png", "type": "image/png"}
	],
	"steps": [
		{"name": "open cart", "status": "passed", "start": 1000, "stop": 1100},
		{"name": "pay", "status": "failed", "start": 1100, "stop": 1800,
			"steps": [{"name": "enter card", "status": "broken", "start": 1100, "stop": 1200}]}
	]
}`

func setup(t *testing.T) (afero.Fs, *storage.Storage) {
	t.Helper()

	fs := afero.NewMemMapFs()
	write := func(name, content string) {
		require.NoError(t, afero.WriteFile(fs, dir+"/"+name, []byte(content), 0o644))
	}

	write("a-result.json", failedReport)
	write("b-container.json", `{"uuid": "c", "children": ["a"], "befores": [{"name": "setup"}]}`)
	write("c-result.json", `{"uuid": "h", "name": "Hooks.BeforeScenario", "status": "passed"}`)
	write("d-result.json", `{"uuid": "broken"`)
	write("e-result.txt", failedReport)
	write("shot-attachment.png", "\x89PNG")

	s, err := storage.New("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return fs, s
}

func TestRun(t *testing.T) {
	fs, s := setup(t)
	ctx := context.Background()

	summary, err := ingest.New(fs, dir, s, ingest.WithRunID("run-1")).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, ingest.Summary{Files: 3, Persisted: 1, Skipped: 1, Failed: 1}, summary)

	rows, err := s.LoadResults(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "a", row.UUID)
	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, "Nova/Cart", row.Feature)
	assert.Equal(t, "smoke; nightly", row.Labels)
	assert.Equal(t, int64(800), row.DurationMS)
	assert.Equal(t, "boom", row.ErrorMessage)
	assert.True(t, row.Flaky)
	assert.Equal(t, 2, row.StepsCount)
	assert.Equal(t, 2, row.AttachmentsCount)

	steps, err := s.LoadSteps(ctx, row.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.False(t, steps[0].HasScreenshot)
	assert.True(t, steps[1].HasScreenshot)
	assert.True(t, steps[2].HasScreenshot)

	data, err := s.LoadScreenshot(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data)
}

func TestRunSkipsPersistedResults(t *testing.T) {
	fs, s := setup(t)
	job := ingest.New(fs, dir, s)

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Persisted)
	assert.Equal(t, 1, summary.Existing)
}

func TestRunMissingDirectory(t *testing.T) {
	_, s := setup(t)

	_, err := ingest.New(afero.NewMemMapFs(), "/missing", s).Run(context.Background())

	var unavailable model.SourceUnavailableError
	assert.True(t, errors.As(err, &unavailable))
}

func TestResultRowTruncatesDetails(t *testing.T) {
	r := report.RawReport{
		UUID:          "a",
		StatusDetails: &report.StatusDetails{Message: strings.Repeat("ü", 2500), Trace: strings.Repeat("x", 5000)},
	}

	row := ingest.ResultRow(r)

	assert.Equal(t, 2000, len([]rune(row.ErrorMessage)))
	assert.Equal(t, 4000, len(row.StackTrace))
	assert.Equal(t, "Unknown", row.Feature)
	assert.Equal(t, "Unknown", row.Name)
	assert.Equal(t, "unknown", row.Status)
}

func TestStepRowsFlattensDepthFirst(t *testing.T) {
	var nested func(level int) report.RawStep
	nested = func(level int) report.RawStep {
		st := report.RawStep{Name: fmt.Sprintf("level %d", level), Status: "passed"}
		if level < 8 {
			st.Steps = []report.RawStep{nested(level + 1)}
		}
		return st
	}

	steps := []report.RawStep{
		{Name: "first", Status: "passed", Steps: []report.RawStep{{Name: "first.1", Status: "passed"}}},
		nested(0),
	}

	rows := ingest.StepRows(steps, 7, nil)

	names := []string{}
	for _, r := range rows {
		names = append(names, r.Name)
		assert.Equal(t, int64(7), r.ResultID)
	}

	assert.Equal(t, []string{"first", "first.1", "level 0", "level 1", "level 2", "level 3", "level 4", "level 5"}, names)
	assert.Equal(t, 1, rows[0].NestedStepsCount)
}
