// Package aggregate filters results and computes the derived views of the
// dashboard. All functions are pure, they never modify their input.
package aggregate

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/raphi011/allureboard/internal/model"
)

// FilterResults returns the results that match every predicate of f. The
// order of results is kept.
func FilterResults(results []*model.Result, f model.Filter) []*model.Result {
	filtered := make([]*model.Result, 0, len(results))

	for _, r := range results {
		if matches(r, f) && inRange(r.Timestamp, f) {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// FilterRunGroups returns the groups that contain at least one result
// matching the project, status and tag predicates of f and that lie within
// its time range.
func FilterRunGroups(groups []*model.RunGroup, f model.Filter) []*model.RunGroup {
	filtered := make([]*model.RunGroup, 0, len(groups))

	for _, g := range groups {
		if f.Start != nil && g.StartTime.Before(*f.Start) {
			continue
		}
		if f.End != nil && g.EndTime.After(*f.End) {
			continue
		}

		for _, r := range g.Results {
			if matches(r, f) {
				filtered = append(filtered, g)
				break
			}
		}
	}

	return filtered
}

func matches(r *model.Result, f model.Filter) bool {
	if len(f.Projects) > 0 && !contains(f.Projects, r.Project) {
		return false
	}

	if len(f.Statuses) > 0 && !statusIn(r.Status, f.Statuses) {
		return false
	}

	return MatchTags(r, f.Tags, f.TagMatch)
}

func inRange(ts time.Time, f model.Filter) bool {
	if f.Start != nil && ts.Before(*f.Start) {
		return false
	}

	if f.End != nil && ts.After(*f.End) {
		return false
	}

	return true
}

// MatchTags applies the tag predicate. Without tags every result matches.
func MatchTags(r *model.Result, tags []string, mode model.TagMatchMode) bool {
	if len(tags) == 0 {
		return true
	}

	if mode == model.TagMatchAny {
		for _, t := range tags {
			if r.HasTag(t) {
				return true
			}
		}

		return false
	}

	for _, t := range tags {
		if !r.HasTag(t) {
			return false
		}
	}

	return true
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}

	return false
}

func statusIn(s model.Status, statuses []string) bool {
	for _, st := range statuses {
		if s.Is(st) {
			return true
		}
	}

	return false
}

// CountStatuses counts results per canonical status. Results with other
// statuses only count toward the total.
func CountStatuses(results []*model.Result) model.StatusCounts {
	c := model.StatusCounts{Total: len(results)}

	for _, r := range results {
		switch {
		case r.Status.Is(string(model.StatusPassed)):
			c.Passed++
		case r.Status.Is(string(model.StatusFailed)):
			c.Failed++
		case r.Status.Is(string(model.StatusSkipped)):
			c.Skipped++
		case r.Status.Is(string(model.StatusBroken)):
			c.Broken++
		}
	}

	return c
}

// PassRate is the percentage of passed results or 0 for no results. The
// value is not rounded.
func PassRate(results []*model.Result) float64 {
	return passRate(CountStatuses(results))
}

func passRate(c model.StatusCounts) float64 {
	if c.Total == 0 {
		return 0
	}

	return 100 * float64(c.Passed) / float64(c.Total)
}

// Summarize returns the status counts and the pass rate in one pass.
func Summarize(results []*model.Result) (model.StatusCounts, float64) {
	c := CountStatuses(results)
	return c, passRate(c)
}

// SortByTimestamp sorts results most recent first, ties are ordered by id
// so that the order is deterministic.
func SortByTimestamp(results []*model.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].ID < results[j].ID
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
}

// GroupByTimeBucket groups results by the minute they started in. Buckets
// and the results within a bucket are ordered most recent first.
func GroupByTimeBucket(results []*model.Result) []*model.TimeBucket {
	sorted := make([]*model.Result, len(results))
	copy(sorted, results)
	SortByTimestamp(sorted)

	buckets := []*model.TimeBucket{}
	byKey := map[string]*model.TimeBucket{}

	for _, r := range sorted {
		t := r.Timestamp.Truncate(time.Minute)
		key := t.Format(model.TimeBucketLayout)

		b, ok := byKey[key]
		if !ok {
			b = &model.TimeBucket{Key: key, Time: t, Results: []*model.Result{}}
			byKey[key] = b
			buckets = append(buckets, b)
		}

		b.Results = append(b.Results, r)
	}

	for _, b := range buckets {
		b.StatusCounts, b.PassRate = Summarize(b.Results)
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Time.After(buckets[j].Time)
	})

	return buckets
}

// GroupByFile builds one run group per result source file.
func GroupByFile(results []*model.Result) []*model.RunGroup {
	return groupBy(results, func(r *model.Result) (string, string) {
		name := strings.TrimSuffix(filepath.Base(r.Source), filepath.Ext(r.Source))
		return r.Source, name
	})
}

const dateLayout = "2006-01-02"

// GroupByDate builds one run group per calendar day (local time).
func GroupByDate(results []*model.Result) []*model.RunGroup {
	return groupBy(results, func(r *model.Result) (string, string) {
		day := r.Timestamp.Format(dateLayout)
		return day, "Test Run - " + day
	})
}

func groupBy(results []*model.Result, key func(*model.Result) (id, name string)) []*model.RunGroup {
	groups := []*model.RunGroup{}
	byID := map[string]*model.RunGroup{}

	for _, r := range results {
		id, name := key(r)

		g, ok := byID[id]
		if !ok {
			g = &model.RunGroup{ID: id, Name: name, StartTime: r.Timestamp, EndTime: r.End(), Results: []*model.Result{}}
			byID[id] = g
			groups = append(groups, g)
		}

		g.Results = append(g.Results, r)

		if r.Timestamp.Before(g.StartTime) {
			g.StartTime = r.Timestamp
		}
		if end := r.End(); end.After(g.EndTime) {
			g.EndTime = end
		}
	}

	for _, g := range groups {
		g.StatusCounts, g.PassRate = Summarize(g.Results)
	}

	SortRunGroups(groups)

	return groups
}

// SortRunGroups sorts groups by start time, most recent first.
func SortRunGroups(groups []*model.RunGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].StartTime.Equal(groups[j].StartTime) {
			return groups[i].ID < groups[j].ID
		}
		return groups[i].StartTime.After(groups[j].StartTime)
	})
}
