// Package tags turns the different tag encodings found in allure results
// into a flat, ordered list of unique tags.
package tags

import (
	"regexp"
	"strings"

	"github.com/raphi011/allureboard/internal/model"
)

const labelNameTag = "tag"

// FromLabels returns the values of all "tag" labels in the order they
// first appear.
func FromLabels(labels []model.Label) []string {
	tags := newTagSet()

	for _, l := range labels {
		if l.Name != labelNameTag {
			continue
		}

		tags.add(l.Value)
	}

	return tags.list
}

var labelValueRegex = regexp.MustCompile(`"value"\s*:\s*"([^"]+)"`)

type extractor struct {
	// matches decides if the extractor is responsible for a label string.
	matches func(string) bool
	// extract returns the raw tags, nil means the next extractor is tried.
	extract func(string) []string
}

func splitOn(sep string) extractor {
	return extractor{
		matches: func(s string) bool { return strings.Contains(s, sep) },
		extract: func(s string) []string { return strings.Split(s, sep) },
	}
}

// extractors are evaluated in order, the first one that matches and
// returns tags wins.
var extractors = []extractor{
	{
		matches: func(s string) bool { return strings.Contains(s, "{") },
		extract: func(s string) []string {
			var values []string
			for _, m := range labelValueRegex.FindAllStringSubmatch(s, -1) {
				values = append(values, m[1])
			}
			return values
		},
	},
	splitOn(";"),
	splitOn("|"),
	// comma is the fallback and also handles single tags
	{
		matches: func(string) bool { return true },
		extract: func(s string) []string { return strings.Split(s, ",") },
	},
}

// FromString parses a tag list stored as a single string. Supported are
// json label objects (`{"name":"tag","value":"smoke"}`) as well as lists
// delimited by `;`, `|` or `,`.
func FromString(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}

	for _, e := range extractors {
		if !e.matches(s) {
			continue
		}

		raw := e.extract(s)
		if len(raw) == 0 {
			continue
		}

		tags := newTagSet()
		for _, t := range raw {
			tags.add(t)
		}

		return tags.list
	}

	return []string{}
}

// Join encodes tags the way they are persisted to the database.
func Join(tags []string) string {
	return strings.Join(tags, "; ")
}

// Merge appends all tags of other to list that are not part of it yet.
func Merge(list []string, other ...string) []string {
	tags := newTagSet()
	for _, t := range list {
		tags.add(t)
	}
	for _, t := range other {
		tags.add(t)
	}

	return tags.list
}

type tagSet struct {
	seen map[string]struct{}
	list []string
}

func newTagSet() *tagSet {
	return &tagSet{seen: map[string]struct{}{}, list: []string{}}
}

func (s *tagSet) add(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}

	if _, ok := s.seen[tag]; ok {
		return
	}

	s.seen[tag] = struct{}{}
	s.list = append(s.list, tag)
}
