// Package report parses allure result documents into normalized results.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/tags"
)

// MaxStepDepth is the deepest step level that is kept, nested steps below
// it are dropped.
const MaxStepDepth = 5

const DefaultProject = "Default"

type Options struct {
	// Source is recorded on every result, usually the file path.
	Source string
	// AttachmentPrefix is prepended to the source of every attachment so
	// that the dashboard can load it from the attachment endpoint. Empty
	// leaves the sources unchanged.
	AttachmentPrefix string
}

var errNotJSON = errors.New("document is neither a json object nor an array")

type decoder func(data []byte) ([]RawReport, error)

// decoders is keyed by the first non whitespace character of a document.
var decoders = map[byte]decoder{
	'{': func(data []byte) ([]RawReport, error) {
		var r RawReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return []RawReport{r}, nil
	},
	'[': func(data []byte) ([]RawReport, error) {
		var r []RawReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	},
}

// ParseReport decodes a single report or an array of reports without
// normalizing them.
func ParseReport(data []byte) ([]RawReport, error) {
	// utf-8 byte order mark
	trimmed := bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")

	if len(trimmed) == 0 {
		return nil, errNotJSON
	}

	decode, ok := decoders[trimmed[0]]
	if !ok {
		return nil, errNotJSON
	}

	reports, err := decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	return reports, nil
}

// Parse decodes a document and returns the results that represent actual
// tests. Containers, fixtures and reports without an uuid are dropped
// without an error.
func Parse(data []byte, opts Options) ([]*model.Result, error) {
	reports, err := ParseReport(data)
	if err != nil {
		return nil, model.ParseError{Source: opts.Source, Err: err}
	}

	results := make([]*model.Result, 0, len(reports))

	for i := range reports {
		if !Keep(reports[i]) {
			continue
		}

		results = append(results, Normalize(reports[i], opts))
	}

	return results, nil
}

// Keep reports whether a raw report is a user facing test result.
func Keep(r RawReport) bool {
	if r.IsContainer() {
		return false
	}

	if IsHookName(r.Name) {
		return false
	}

	return strings.TrimSpace(r.UUID) != ""
}

var hookMarkers = []string{
	"BeforeScenario",
	"AfterScenario",
	"BeforeEach",
	"AfterEach",
	"BeforeFeature",
	"AfterFeature",
	"BeforeTestRun",
	"AfterTestRun",
}

// IsHookName reports whether name belongs to a setup or teardown fixture
// of the test framework, e.g. "PlaywrightHooks.BeforeScenarioAsync".
func IsHookName(name string) bool {
	for _, m := range hookMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}

	return strings.Contains(name, "Default") &&
		(strings.Contains(name, "Before") || strings.Contains(name, "After"))
}

// DeriveProject returns the first title path segment, the first segment of
// the full name or DefaultProject.
func DeriveProject(titlePath []string, fullName string) string {
	if len(titlePath) > 0 {
		if p := strings.TrimSpace(titlePath[0]); p != "" {
			return p
		}
	}

	if p := FirstPathSegment(fullName); p != "" {
		return p
	}

	return DefaultProject
}

// FirstPathSegment splits s on slashes and backslashes and returns the
// first non empty segment.
func FirstPathSegment(s string) string {
	segments := strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == '\\'
	})

	for _, seg := range segments {
		if seg = strings.TrimSpace(seg); seg != "" {
			return seg
		}
	}

	return ""
}

// Normalize converts a raw report into a result. It does not check whether
// the report should be kept, see Keep.
func Normalize(r RawReport, opts Options) *model.Result {
	return &model.Result{
		ID:          r.UUID,
		Name:        r.Name,
		FullName:    r.FullName,
		HistoryID:   r.HistoryID,
		Status:      model.NormalizeStatus(r.Status),
		Project:     DeriveProject(r.TitlePath, r.FullName),
		Tags:        tags.FromLabels(r.Labels),
		Timestamp:   time.UnixMilli(r.Start).Local(),
		DurationMS:  r.Stop - r.Start,
		Source:      opts.Source,
		Steps:       convertSteps(r.Steps, opts.AttachmentPrefix),
		Attachments: convertAttachments(r.Attachments, opts.AttachmentPrefix),
		Known:       r.StatusDetails != nil && r.StatusDetails.Known,
		Muted:       r.StatusDetails != nil && r.StatusDetails.Muted,
		Flaky:       r.StatusDetails != nil && r.StatusDetails.Flaky,
		Message:     r.StatusDetails.message(),
		Trace:       r.StatusDetails.trace(),
	}
}

type stepFrame struct {
	raw   *RawStep
	dst   *model.Step
	depth int
}

// convertSteps walks the step tree with an explicit stack. The destination
// slices are allocated up front so the pointers on the stack stay valid.
func convertSteps(raw []RawStep, prefix string) []model.Step {
	steps := make([]model.Step, len(raw))

	stack := make([]stepFrame, 0, len(raw))
	for i := range raw {
		stack = append(stack, stepFrame{raw: &raw[i], dst: &steps[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		*f.dst = model.Step{
			Name:        f.raw.Name,
			Status:      f.raw.Status,
			Stage:       f.raw.Stage,
			Start:       f.raw.Start,
			Stop:        f.raw.Stop,
			DurationMS:  f.raw.Stop - f.raw.Start,
			Message:     f.raw.StatusDetails.message(),
			Trace:       f.raw.StatusDetails.trace(),
			Attachments: convertAttachments(f.raw.Attachments, prefix),
		}

		if f.depth >= MaxStepDepth || len(f.raw.Steps) == 0 {
			continue
		}

		f.dst.Steps = make([]model.Step, len(f.raw.Steps))
		for i := range f.raw.Steps {
			stack = append(stack, stepFrame{raw: &f.raw.Steps[i], dst: &f.dst.Steps[i], depth: f.depth + 1})
		}
	}

	return steps
}

func convertAttachments(raw []RawAttachment, prefix string) []model.Attachment {
	attachments := make([]model.Attachment, 0, len(raw))

	for _, a := range raw {
		source := a.Source
		if prefix != "" && source != "" && !strings.HasPrefix(source, prefix) {
			source = prefix + source
		}

		attachments = append(attachments, model.Attachment{
			Name:   a.Name,
			Source: source,
			Type:   a.Type,
		})
	}

	return attachments
}
