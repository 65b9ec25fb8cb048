package model

import (
	"strings"
	"time"
)

// TagMatchMode decides how the tags of a filter are matched against the
// tags of a result.
type TagMatchMode string

const (
	// TagMatchAll requires every filter tag to be present on a result.
	TagMatchAll TagMatchMode = "all"
	// TagMatchAny requires at least one filter tag to be present. This is
	// the behavior of the first dashboard versions.
	TagMatchAny TagMatchMode = "any"
)

// ParseTagMatchMode parses a tag match mode, an empty string defaults to
// TagMatchAll.
func ParseTagMatchMode(s string) (TagMatchMode, error) {
	switch TagMatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TagMatchAll:
		return TagMatchAll, nil
	case TagMatchAny:
		return TagMatchAny, nil
	}

	return "", QueryError{Param: "tagMatch", Reason: "must be one of all, any"}
}

// Filter restricts the results returned by a query. Zero values disable
// the respective predicate.
type Filter struct {
	Projects []string
	Tags     []string
	Statuses []string
	// Start is inclusive.
	Start *time.Time
	// End is inclusive. Callers wanting a whole day have to pass the end
	// of that day.
	End      *time.Time
	TagMatch TagMatchMode
}

// Validate checks the shape of a filter before it is used for aggregation.
func (f Filter) Validate() error {
	switch f.TagMatch {
	case "", TagMatchAll, TagMatchAny:
	default:
		return QueryError{Param: "tagMatch", Reason: "must be one of all, any"}
	}

	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return QueryError{Param: "startDate", Reason: "must not be after endDate"}
	}

	return nil
}

// Empty reports whether the filter has no predicates.
func (f Filter) Empty() bool {
	return len(f.Projects) == 0 && len(f.Tags) == 0 && len(f.Statuses) == 0 &&
		f.Start == nil && f.End == nil
}
