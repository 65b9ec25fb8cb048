package dashboard_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/raphi011/allureboard/internal/aggregate"
	"github.com/raphi011/allureboard/internal/cache"
	"github.com/raphi011/allureboard/internal/dashboard"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	results []*model.Result
}

func (s staticSource) Mode() model.SourceMode {
	return model.SourceModeFile
}

func (s staticSource) Load(context.Context) (cache.Batch, error) {
	return cache.Batch{Results: s.results, Group: aggregate.GroupByFile}, nil
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

func newService(t *testing.T) *dashboard.Service {
	t.Helper()

	results := []*model.Result{
		{ID: "a", Name: "Checkout", Status: model.StatusPassed, Project: "Nova", Tags: []string{"smoke"}, Timestamp: base, Source: "a-result.json"},
		{ID: "b", Name: "Login", Status: model.StatusFailed, Project: "Nova", Tags: []string{"smoke", "nightly"}, Timestamp: base.Add(time.Minute), Source: "b-result.json"},
		{ID: "c", Name: "Search", Status: model.StatusSkipped, Project: "Shop", Timestamp: base.Add(2 * time.Minute), Source: "c-result.json"},
	}

	c := cache.New(staticSource{results: results})
	require.NoError(t, c.Refresh(context.Background()))

	return dashboard.New(c, slog.Default())
}

func TestDashboard(t *testing.T) {
	d, err := newService(t).Dashboard(model.Filter{Projects: []string{"Nova"}})
	require.NoError(t, err)

	assert.Equal(t, 2, d.TotalTests)
	assert.Equal(t, 50.0, d.PassRate)
	assert.Equal(t, 1, d.StatusCounts[model.StatusPassed])
	assert.Equal(t, 1, d.StatusCounts[model.StatusFailed])
	assert.Equal(t, 0, d.StatusCounts[model.StatusSkipped])
	assert.Len(t, d.RunGroups, 2)
	assert.Equal(t, []string{"Shop", "Nova"}, d.Projects)
	assert.Equal(t, []string{"smoke", "nightly"}, d.Tags)
}

func TestDashboardWithoutResults(t *testing.T) {
	d, err := newService(t).Dashboard(model.Filter{Projects: []string{"Missing"}})
	require.NoError(t, err)

	assert.Equal(t, 0, d.TotalTests)
	assert.Equal(t, 0.0, d.PassRate)
	assert.NotNil(t, d.Results)
	assert.NotNil(t, d.RunGroups)
}

func TestInvalidFilter(t *testing.T) {
	s := newService(t)

	start := base.Add(time.Hour)
	end := base

	_, err := s.Dashboard(model.Filter{Start: &start, End: &end})

	var qe model.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "startDate", qe.Param)

	_, err = s.Results(model.Filter{TagMatch: "most"})
	assert.True(t, errors.As(err, &qe))
}

func TestTimeBuckets(t *testing.T) {
	buckets, err := newService(t).TimeBuckets(model.Filter{Tags: []string{"smoke"}})
	require.NoError(t, err)

	require.Len(t, buckets, 2)
	assert.Equal(t, "b", buckets[0].Results[0].ID)
}

func TestResult(t *testing.T) {
	s := newService(t)

	r, err := s.Result("b")
	require.NoError(t, err)
	assert.Equal(t, "Login", r.Name)

	_, err = s.Result("missing")
	assert.True(t, errors.As(err, &model.NotFoundError{}))
}

func TestStatusAndRefresh(t *testing.T) {
	s := newService(t)

	assert.Equal(t, uint64(1), s.Status().Generation)
	require.NoError(t, s.Refresh(context.Background()))

	status := s.Status()
	assert.Equal(t, uint64(2), status.Generation)
	assert.Equal(t, 3, status.Results)
	assert.Equal(t, 3, status.RunGroups)
	assert.Equal(t, model.SourceModeFile, status.Mode)
}
