package model

import "fmt"

type NotFoundError struct{}

func (e NotFoundError) Error() string {
	return "not found"
}

// QueryError is returned for malformed query input, e.g. an unparsable date.
type QueryError struct {
	Param  string
	Reason string
}

func (e QueryError) Error() string {
	if e.Reason == "" {
		return "malformed request param: " + e.Param
	}

	return fmt.Sprintf("malformed request param %s: %s", e.Param, e.Reason)
}

// SourceUnavailableError signals that the results directory or table does
// not exist. A refresh treats it as an empty source.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e SourceUnavailableError) Unwrap() error {
	return e.Err
}

// ParseError wraps a failure to read or decode a single report source.
type ParseError struct {
	Source string
	Err    error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Source, e.Err)
}

func (e ParseError) Unwrap() error {
	return e.Err
}
