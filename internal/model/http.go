package model

import "time"

// Dashboard is the aggregated view rendered by the dashboard page.
type Dashboard struct {
	// RunGroups are the cached run groups that contain at least one
	// result matching the filter.
	RunGroups []*RunGroup `json:"testRuns"`
	// Results are all results matching the filter, most recent first.
	Results []*Result `json:"results"`
	// StatusCounts counts the filtered results per canonical status.
	StatusCounts map[Status]int `json:"statusCounts"`
	// Projects lists every known project, independent of the filter.
	Projects []string `json:"projects"`
	// Tags lists every known tag, independent of the filter.
	Tags []string `json:"availableTags"`
	// TotalTests is the number of filtered results.
	TotalTests int `json:"totalTests"`
	// PassRate is the percentage of passed results, 0 without results.
	PassRate float64 `json:"passRate"`
}

// CacheStatus describes the currently published snapshot.
type CacheStatus struct {
	Generation  uint64     `json:"generation"`
	Mode        SourceMode `json:"mode"`
	RefreshedAt time.Time  `json:"refreshedAt"`
	Results     int        `json:"results"`
	RunGroups   int        `json:"runGroups"`
	Failures    int        `json:"failures"`
	Duplicates  int        `json:"duplicates"`
}
