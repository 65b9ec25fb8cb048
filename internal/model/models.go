// The `model` package holds the types shared by the parser, the cache, the
// aggregations and the http layer. Keeping them in one leaf package avoids
// cyclic imports between those packages.
package model

import (
	"strings"
	"time"
)

// Status is the canonical, uppercased outcome of a test result.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusBroken  Status = "BROKEN"
	StatusUnknown Status = "UNKNOWN"
)

// NormalizeStatus uppercases a raw report status. An empty status becomes
// StatusUnknown, anything else is kept as is (uppercased) even if it is not
// one of the canonical values.
func NormalizeStatus(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return StatusUnknown
	}

	return Status(s)
}

// Is compares two statuses case-insensitively.
func (s Status) Is(other string) bool {
	return strings.EqualFold(string(s), strings.TrimSpace(other))
}

// Canonical reports whether s is one of the four counted statuses.
func (s Status) Canonical() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusBroken:
		return true
	}

	return false
}

// Result is a normalized test result. Results are created during a cache
// refresh and never modified afterwards.
type Result struct {
	// ID is the uuid of the source report, it is never empty.
	ID        string `json:"id"`
	Name      string `json:"name"`
	FullName  string `json:"fullName,omitempty"`
	HistoryID string `json:"historyId,omitempty"`
	Status    Status `json:"status"`
	// Project is derived from the title path, the full name or falls back
	// to "Default".
	Project string   `json:"project"`
	Tags    []string `json:"tags"`
	// Timestamp is the start of the test converted to local time.
	Timestamp time.Time `json:"timestamp"`
	// DurationMS is stop-start. It is not validated and can be negative
	// for malformed reports.
	DurationMS int64 `json:"durationMs"`
	// Source is the file the result was read from, or the uuid for
	// results loaded from the database.
	Source      string       `json:"source"`
	Steps       []Step       `json:"steps"`
	Attachments []Attachment `json:"attachments"`
	Known       bool         `json:"known"`
	Muted       bool         `json:"muted"`
	Flaky       bool         `json:"flaky"`
	Message     string       `json:"message,omitempty"`
	Trace       string       `json:"trace,omitempty"`
}

// End is the point in time the result finished.
func (r *Result) End() time.Time {
	return r.Timestamp.Add(time.Duration(r.DurationMS) * time.Millisecond)
}

// HasTag reports whether the result is labeled with tag.
func (r *Result) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

type Step struct {
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Stage       string       `json:"stage,omitempty"`
	Start       int64        `json:"start"`
	Stop        int64        `json:"stop"`
	DurationMS  int64        `json:"durationMs"`
	Message     string       `json:"message,omitempty"`
	Trace       string       `json:"trace,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Steps       []Step       `json:"steps,omitempty"`
	// ScreenshotPath points to the screenshot of a failed step that was
	// persisted to the database, empty otherwise.
	ScreenshotPath string `json:"screenshotPath,omitempty"`
}

type Attachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StatusCounts counts results per canonical status. Total also includes
// results with non-canonical statuses, so the sum of the four buckets can be
// lower than Total.
type StatusCounts struct {
	Passed  int `json:"passedCount"`
	Failed  int `json:"failedCount"`
	Skipped int `json:"skippedCount"`
	Broken  int `json:"brokenCount"`
	Total   int `json:"totalCount"`
}

// Map returns the counts keyed by status, the shape the dashboard expects.
func (c StatusCounts) Map() map[Status]int {
	return map[Status]int{
		StatusPassed:  c.Passed,
		StatusFailed:  c.Failed,
		StatusSkipped: c.Skipped,
		StatusBroken:  c.Broken,
	}
}

// RunGroup aggregates the results of one result file or, for results
// loaded from the database, of one calendar day.
type RunGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Results   []*Result `json:"results"`
	StatusCounts
	PassRate float64 `json:"passRate"`
}

// TimeBucket aggregates results that started within the same minute.
type TimeBucket struct {
	// Key is the bucket time formatted with TimeBucketLayout.
	Key     string    `json:"timeGroup"`
	Time    time.Time `json:"groupTime"`
	Results []*Result `json:"testCases"`
	StatusCounts
	PassRate float64 `json:"passRate"`
}

const TimeBucketLayout = "2006-01-02 15:04"

// SourceMode selects where a refresh reads results from.
type SourceMode string

const (
	SourceModeFile     SourceMode = "file"
	SourceModeDatabase SourceMode = "database"
)

// Snapshot is an immutable view of all loaded results. A new snapshot is
// built on every refresh and published as a whole.
type Snapshot struct {
	Generation  uint64      `json:"generation"`
	Mode        SourceMode  `json:"mode"`
	RefreshedAt time.Time   `json:"refreshedAt"`
	Results     []*Result   `json:"results"`
	RunGroups   []*RunGroup `json:"runGroups"`
	Projects    []string    `json:"projects"`
	Tags        []string    `json:"tags"`
	// Failures counts sources (files or rows) that could not be read.
	Failures int `json:"failures"`
	// Duplicates counts results dropped because their id was already seen.
	Duplicates int `json:"duplicates"`
}

// EmptySnapshot is used before the first refresh finished.
func EmptySnapshot(mode SourceMode) *Snapshot {
	return &Snapshot{
		Mode:      mode,
		Results:   []*Result{},
		RunGroups: []*RunGroup{},
		Projects:  []string{},
		Tags:      []string{},
	}
}

// ResultByID looks up a result of the snapshot.
func (s *Snapshot) ResultByID(id string) (*Result, bool) {
	for _, r := range s.Results {
		if r.ID == id {
			return r, true
		}
	}

	return nil, false
}
