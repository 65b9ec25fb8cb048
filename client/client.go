package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/raphi011/allureboard/internal/model"
)

type Dashboard = model.Dashboard
type Result = model.Result
type RunGroup = model.RunGroup
type TimeBucket = model.TimeBucket
type Status = model.CacheStatus

// IngestSummary counts what happened to the result files of an ingest run.
type IngestSummary struct {
	Files     int `json:"files"`
	Persisted int `json:"persisted"`
	Existing  int `json:"existing"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Client struct {
	http *http.Client
	host string
}

type RequestError struct {
	ResponseCode int
	// Message is the error returned by the server for malformed requests.
	Message string
}

func (e RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.ResponseCode, e.Message)
	}

	return fmt.Sprintf("request failed with status %d", e.ResponseCode)
}

// Query filters the results of a request. Zero values are omitted.
type Query struct {
	Projects  []string
	Tags      []string
	Statuses  []string
	StartDate string
	EndDate   string
	// TagMatch is either "all" or "any".
	TagMatch string
}

func (q Query) values() url.Values {
	v := url.Values{}

	if len(q.Projects) > 0 {
		v.Set("project", strings.Join(q.Projects, ","))
	}
	if len(q.Tags) > 0 {
		v.Set("tags", strings.Join(q.Tags, ","))
	}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.StartDate != "" {
		v.Set("startDate", q.StartDate)
	}
	if q.EndDate != "" {
		v.Set("endDate", q.EndDate)
	}
	if q.TagMatch != "" {
		v.Set("tagMatch", q.TagMatch)
	}

	return v
}

func New(host string, c *http.Client) Client {
	return Client{http: c, host: host}
}

func (c Client) GetDashboard(ctx context.Context, q Query) (Dashboard, error) {
	var d Dashboard

	if err := c.get(ctx, c.query("/api/dashboard", q), &d); err != nil {
		return Dashboard{}, err
	}

	return d, nil
}

func (c Client) GetResults(ctx context.Context, q Query) ([]Result, error) {
	var results []Result

	if err := c.get(ctx, c.query("/api/results", q), &results); err != nil {
		return []Result{}, err
	}

	return results, nil
}

func (c Client) GetResult(ctx context.Context, id string) (Result, error) {
	var r Result

	if err := c.get(ctx, c.url("/api/results/%s", url.PathEscape(id)), &r); err != nil {
		return Result{}, err
	}

	return r, nil
}

func (c Client) GetRunGroups(ctx context.Context, q Query) ([]RunGroup, error) {
	var groups []RunGroup

	if err := c.get(ctx, c.query("/api/runs", q), &groups); err != nil {
		return []RunGroup{}, err
	}

	return groups, nil
}

func (c Client) GetTimeline(ctx context.Context, q Query) ([]TimeBucket, error) {
	var buckets []TimeBucket

	if err := c.get(ctx, c.query("/api/timeline", q), &buckets); err != nil {
		return []TimeBucket{}, err
	}

	return buckets, nil
}

func (c Client) GetProjects(ctx context.Context) ([]string, error) {
	var projects []string

	if err := c.get(ctx, c.url("/api/projects"), &projects); err != nil {
		return []string{}, err
	}

	return projects, nil
}

func (c Client) GetTags(ctx context.Context) ([]string, error) {
	var tags []string

	if err := c.get(ctx, c.url("/api/tags"), &tags); err != nil {
		return []string{}, err
	}

	return tags, nil
}

func (c Client) GetStatus(ctx context.Context) (Status, error) {
	var s Status

	if err := c.get(ctx, c.url("/api/status"), &s); err != nil {
		return Status{}, err
	}

	return s, nil
}

// Refresh reloads the result cache of the server and returns its status
// afterwards.
func (c Client) Refresh(ctx context.Context) (Status, error) {
	req, err := http.NewRequest("POST", c.url("/api/refresh"), nil)
	if err != nil {
		return Status{}, err
	}

	var s Status

	if err = c.do(ctx, req, &s); err != nil {
		return Status{}, err
	}

	return s, nil
}

func (c Client) Ingest(ctx context.Context) (IngestSummary, error) {
	req, err := http.NewRequest("POST", c.url("/api/ingest"), nil)
	if err != nil {
		return IngestSummary{}, err
	}

	var s IngestSummary

	if err = c.do(ctx, req, &s); err != nil {
		return IngestSummary{}, err
	}

	return s, nil
}

// GetAttachment downloads an attachment relative to the reports path of the
// server.
func (c Client) GetAttachment(ctx context.Context, path string) ([]byte, string, error) {
	req, err := http.NewRequest("GET", c.url("/api/attachments/%s", strings.TrimPrefix(path, "/")), nil)
	if err != nil {
		return nil, "", err
	}

	res, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", requestError(res)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}

	return data, res.Header.Get("Content-Type"), nil
}

func (c Client) url(path string, args ...any) string {
	return fmt.Sprintf(c.host+path, args...)
}

func (c Client) query(path string, q Query) string {
	u := c.url(path)

	if v := q.values(); len(v) > 0 {
		u += "?" + v.Encode()
	}

	return u
}

func (c Client) get(ctx context.Context, u string, body any) error {
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return err
	}

	return c.do(ctx, req, body)
}

func (c Client) do(ctx context.Context, req *http.Request, body any) error {
	req = req.WithContext(ctx)
	req.Header.Add("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return requestError(res)
	}

	if body != nil {
		d := json.NewDecoder(res.Body)

		if err = d.Decode(body); err != nil {
			return err
		}
	}

	return nil
}

func requestError(res *http.Response) error {
	e := RequestError{ResponseCode: res.StatusCode}

	var body struct {
		Error string `json:"error"`
	}

	if json.NewDecoder(res.Body).Decode(&body) == nil {
		e.Message = body.Error
	}

	return e
}
