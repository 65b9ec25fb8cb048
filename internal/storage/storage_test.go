package storage_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *storage.Storage {
	t.Helper()

	s, err := storage.New("", slog.Default())
	require.NoError(t, err, "creating new storage instance should succeed")

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestMigration(t *testing.T) {
	s := newStorage(t)

	results, err := s.LoadResults(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsertAndLoadResults(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	older := storage.ResultRow{UUID: "a", Name: "Login", Status: "passed", Feature: "Nova/Login", Labels: "smoke; nightly", StartTime: 1000, EndTime: 1500, DurationMS: 500, Known: true}
	newer := storage.ResultRow{UUID: "b", Name: "Logout", Status: "failed", Feature: "Nova/Logout", Labels: "smoke|regression", StartTime: 2000, EndTime: 2100, DurationMS: 100}

	_, err := s.InsertResult(ctx, older)
	require.NoError(t, err)
	_, err = s.InsertResult(ctx, newer)
	require.NoError(t, err)

	rows, err := s.LoadResults(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "b", rows[0].UUID)
	assert.Equal(t, "a", rows[1].UUID)
	assert.True(t, rows[1].Known)
	assert.Equal(t, int64(500), rows[1].DurationMS)

	row, err := s.LoadResult(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Login", row.Name)

	_, err = s.LoadResult(ctx, "missing")
	assert.True(t, errors.As(err, &model.NotFoundError{}))
}

func TestResultExists(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	exists, err := s.ResultExists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.InsertResult(ctx, storage.ResultRow{UUID: "a", Name: "x", Status: "passed"})
	require.NoError(t, err)

	exists, err = s.ResultExists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.InsertResult(ctx, storage.ResultRow{UUID: "a", Name: "x", Status: "passed"})
	assert.Error(t, err, "uuids are unique")
}

func TestDistinctTagsAndFeatures(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	for _, r := range []storage.ResultRow{
		{UUID: "1", Name: "a", Status: "passed", Feature: "Shop", Labels: "smoke; nightly"},
		{UUID: "2", Name: "b", Status: "passed", Feature: "Nova", Labels: "smoke|regression"},
		{UUID: "3", Name: "c", Status: "passed", Feature: "Nova"},
	} {
		_, err := s.InsertResult(ctx, r)
		require.NoError(t, err)
	}

	features, err := s.DistinctFeatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Nova", "Shop"}, features)

	tags, err := s.DistinctTags(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"smoke", "nightly", "regression"}, tags)
}

func TestStepsInTransaction(t *testing.T) {
	s := newStorage(t)

	ctx, err := s.StartTransaction(context.Background())
	require.NoError(t, err)
	defer s.RollbackTransaction(ctx)

	id, err := s.InsertResult(ctx, storage.ResultRow{UUID: "a", Name: "x", Status: "failed"})
	require.NoError(t, err)

	err = s.InsertSteps(ctx, []storage.StepRow{
		{ResultID: id, Name: "second", Status: "failed", StartTime: 20, EndTime: 30, DurationMS: 10, Screenshot: []byte{0x89, 'P', 'N', 'G'}},
		{ResultID: id, Name: "first", Status: "passed", StartTime: 10, EndTime: 20, DurationMS: 10},
	})
	require.NoError(t, err)

	require.NoError(t, s.CommitTransaction(ctx))

	steps, err := s.LoadSteps(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "first", steps[0].Name)
	assert.False(t, steps[0].HasScreenshot)
	assert.True(t, steps[1].HasScreenshot)
	assert.Nil(t, steps[1].Screenshot)

	data, err := s.LoadScreenshot(context.Background(), steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, err = s.LoadScreenshot(context.Background(), steps[0].ID)
	assert.True(t, errors.As(err, &model.NotFoundError{}))
}

func TestRollbackDiscardsInserts(t *testing.T) {
	s := newStorage(t)

	ctx, err := s.StartTransaction(context.Background())
	require.NoError(t, err)

	_, err = s.InsertResult(ctx, storage.ResultRow{UUID: "a", Name: "x", Status: "passed"})
	require.NoError(t, err)

	s.RollbackTransaction(ctx)

	exists, err := s.ResultExists(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, exists)
}
