// Package dashboard answers the queries of the dashboard from the current
// cache snapshot.
package dashboard

import (
	"context"
	"log/slog"

	"github.com/raphi011/allureboard/internal/aggregate"
	"github.com/raphi011/allureboard/internal/model"
)

// Snapshotter is the read and refresh side of the result cache.
type Snapshotter interface {
	Snapshot() *model.Snapshot
	Refresh(ctx context.Context) error
}

type Service struct {
	cache Snapshotter
	log   *slog.Logger
}

func New(cache Snapshotter, log *slog.Logger) *Service {
	return &Service{cache: cache, log: log}
}

// Dashboard returns the filtered results together with the run groups that
// contain them and their statistics.
func (s *Service) Dashboard(f model.Filter) (model.Dashboard, error) {
	if err := f.Validate(); err != nil {
		return model.Dashboard{}, err
	}

	snapshot := s.cache.Snapshot()

	results := aggregate.FilterResults(snapshot.Results, f)
	counts, passRate := aggregate.Summarize(results)

	return model.Dashboard{
		RunGroups:    aggregate.FilterRunGroups(snapshot.RunGroups, f),
		Results:      results,
		StatusCounts: counts.Map(),
		Projects:     snapshot.Projects,
		Tags:         snapshot.Tags,
		TotalTests:   counts.Total,
		PassRate:     passRate,
	}, nil
}

func (s *Service) Results(f model.Filter) ([]*model.Result, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	return aggregate.FilterResults(s.cache.Snapshot().Results, f), nil
}

func (s *Service) RunGroups(f model.Filter) ([]*model.RunGroup, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	return aggregate.FilterRunGroups(s.cache.Snapshot().RunGroups, f), nil
}

// TimeBuckets groups the filtered results by the minute they started in.
func (s *Service) TimeBuckets(f model.Filter) ([]*model.TimeBucket, error) {
	results, err := s.Results(f)
	if err != nil {
		return nil, err
	}

	return aggregate.GroupByTimeBucket(results), nil
}

// Result returns a single result or a NotFoundError.
func (s *Service) Result(id string) (*model.Result, error) {
	r, ok := s.cache.Snapshot().ResultByID(id)
	if !ok {
		return nil, model.NotFoundError{}
	}

	return r, nil
}

func (s *Service) Projects() []string {
	return s.cache.Snapshot().Projects
}

func (s *Service) Tags() []string {
	return s.cache.Snapshot().Tags
}

// Refresh reloads the cache and waits for it to finish.
func (s *Service) Refresh(ctx context.Context) error {
	s.log.Info("Refresh requested")

	return s.cache.Refresh(ctx)
}

func (s *Service) Status() model.CacheStatus {
	snapshot := s.cache.Snapshot()

	return model.CacheStatus{
		Generation:  snapshot.Generation,
		Mode:        snapshot.Mode,
		RefreshedAt: snapshot.RefreshedAt,
		Results:     len(snapshot.Results),
		RunGroups:   len(snapshot.RunGroups),
		Failures:    snapshot.Failures,
		Duplicates:  snapshot.Duplicates,
	}
}
