// Package cache holds the in-memory snapshot of all loaded results. A
// refresh builds a complete new snapshot and publishes it with a single
// pointer swap, readers never observe a partially built snapshot.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/raphi011/allureboard/internal/aggregate"
	"github.com/raphi011/allureboard/internal/metric"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/tags"
)

// Source loads the raw material of a snapshot.
type Source interface {
	Mode() model.SourceMode
	Load(ctx context.Context) (Batch, error)
}

// Grouping builds the run groups of a snapshot from its sorted results.
type Grouping func(results []*model.Result) []*model.RunGroup

// Batch is the output of a source. Results are in the order the source read
// them, the first result of an id wins.
type Batch struct {
	Results []*model.Result
	Group   Grouping
	// ExtraTags are merged into the tag index after the tags of the
	// results.
	ExtraTags []string
	// Failures counts sources that could not be read or parsed.
	Failures int
}

type RefreshListener func(snapshot *model.Snapshot)

type Cache struct {
	src     Source
	timeout time.Duration

	snapshot   atomic.Pointer[model.Snapshot]
	generation atomic.Uint64

	listeners []RefreshListener

	log *slog.Logger
}

type Option func(*Cache)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.log = l
	}
}

// WithRefreshTimeout bounds a whole refresh, zero disables the limit.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

// WithRefreshListener registers a function that is called with every newly
// published snapshot.
func WithRefreshListener(l RefreshListener) Option {
	return func(c *Cache) {
		c.listeners = append(c.listeners, l)
	}
}

const DefaultRefreshTimeout = 2 * time.Minute

func New(src Source, opts ...Option) *Cache {
	c := &Cache{
		src:     src,
		timeout: DefaultRefreshTimeout,
		log:     slog.Default(),
	}

	for _, o := range opts {
		o(c)
	}

	c.snapshot.Store(model.EmptySnapshot(src.Mode()))

	return c
}

// Snapshot returns the currently published snapshot. It is never nil and
// must not be modified.
func (c *Cache) Snapshot() *model.Snapshot {
	return c.snapshot.Load()
}

// Refresh reloads all results from the source and publishes a new snapshot.
// A missing source publishes an empty snapshot, any other failure keeps the
// previous snapshot and is returned. Concurrent refreshes are allowed, the
// one that completes last wins.
func (c *Cache) Refresh(ctx context.Context) error {
	mode := string(c.src.Mode())
	start := time.Now()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	batch, err := c.src.Load(ctx)

	var unavailable model.SourceUnavailableError

	switch {
	case errors.As(err, &unavailable):
		c.log.Warn("Result source unavailable, publishing empty snapshot", "source", unavailable.Source, "error", unavailable.Err)
		batch = Batch{}
	case err != nil:
		c.log.Warn("Refreshing results failed, keeping previous snapshot", "error", err)
		metric.RefreshesTotal.WithLabelValues(mode, "failed").Inc()
		return fmt.Errorf("loading results: %w", err)
	}

	snapshot := Build(c.src.Mode(), batch)
	snapshot.Generation = c.generation.Add(1)
	snapshot.RefreshedAt = time.Now()

	c.snapshot.Store(snapshot)

	metric.RefreshDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	metric.RefreshesTotal.WithLabelValues(mode, "success").Inc()
	metric.ResultsLoaded.WithLabelValues(mode).Set(float64(len(snapshot.Results)))
	metric.SourceFailuresTotal.WithLabelValues(mode).Add(float64(snapshot.Failures))

	c.log.Info("Refreshed results",
		"generation", snapshot.Generation,
		"results", len(snapshot.Results),
		"runGroups", len(snapshot.RunGroups),
		"failures", snapshot.Failures,
		"duplicates", snapshot.Duplicates,
		"duration", time.Since(start))

	for _, l := range c.listeners {
		l(snapshot)
	}

	return nil
}

// Build turns a batch into a snapshot. Generation and refresh time are left
// to the caller.
func Build(mode model.SourceMode, batch Batch) *model.Snapshot {
	s := model.EmptySnapshot(mode)
	s.Failures = batch.Failures

	seen := make(map[string]struct{}, len(batch.Results))

	for _, r := range batch.Results {
		if _, ok := seen[r.ID]; ok {
			s.Duplicates++
			continue
		}

		seen[r.ID] = struct{}{}
		s.Results = append(s.Results, r)
	}

	aggregate.SortByTimestamp(s.Results)

	group := batch.Group
	if group == nil {
		group = aggregate.GroupByFile
	}
	s.RunGroups = group(s.Results)

	projects := index{}
	resultTags := index{}

	for _, r := range s.Results {
		s.Projects = projects.add(s.Projects, r.Project)
		for _, t := range r.Tags {
			s.Tags = resultTags.add(s.Tags, t)
		}
	}
	s.Tags = tags.Merge(s.Tags, batch.ExtraTags...)

	return s
}

type index map[string]struct{}

func (i index) add(list []string, v string) []string {
	if v == "" {
		return list
	}
	if _, ok := i[v]; ok {
		return list
	}

	i[v] = struct{}{}
	return append(list, v)
}
