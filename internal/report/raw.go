package report

import (
	"encoding/json"

	"github.com/raphi011/allureboard/internal/model"
)

// RawReport is an allure result document as written by the test framework.
type RawReport struct {
	UUID          string            `json:"uuid"`
	HistoryID     string            `json:"historyId"`
	TestCaseID    string            `json:"testCaseId"`
	Name          string            `json:"name"`
	FullName      string            `json:"fullName"`
	TitlePath     []string          `json:"titlePath"`
	Status        string            `json:"status"`
	Stage         string            `json:"stage"`
	Start         int64             `json:"start"`
	Stop          int64             `json:"stop"`
	Labels        []model.Label     `json:"labels"`
	Steps         []RawStep         `json:"steps"`
	Attachments   []RawAttachment   `json:"attachments"`
	StatusDetails *StatusDetails    `json:"statusDetails"`
	Parameters    []json.RawMessage `json:"parameters"`

	// Container documents group results and fixtures. They are only
	// needed to detect and skip them.
	Children []json.RawMessage `json:"children"`
	Befores  []json.RawMessage `json:"befores"`
	Afters   []json.RawMessage `json:"afters"`
}

type RawStep struct {
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	Stage         string            `json:"stage"`
	Start         int64             `json:"start"`
	Stop          int64             `json:"stop"`
	StatusDetails *StatusDetails    `json:"statusDetails"`
	Steps         []RawStep         `json:"steps"`
	Attachments   []RawAttachment   `json:"attachments"`
	Parameters    []json.RawMessage `json:"parameters"`
}

type RawAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

type StatusDetails struct {
	Known   bool   `json:"known"`
	Muted   bool   `json:"muted"`
	Flaky   bool   `json:"flaky"`
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

// IsContainer reports whether the document is a container that wraps
// results with before/after fixtures instead of being a result itself.
func (r RawReport) IsContainer() bool {
	return len(r.Children) > 0 && (len(r.Befores) > 0 || len(r.Afters) > 0)
}

func (d *StatusDetails) message() string {
	if d == nil {
		return ""
	}
	return d.Message
}

func (d *StatusDetails) trace() string {
	if d == nil {
		return ""
	}
	return d.Trace
}
