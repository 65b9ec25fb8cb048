package hook_test

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/raphi011/allureboard/internal/hook"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingSnapshot() *model.Snapshot {
	results := []*model.Result{
		{ID: "a", Name: "Checkout", Status: model.StatusFailed},
		{ID: "b", Name: "Login", Status: model.StatusPassed},
		{ID: "c", Name: "Search", Status: model.StatusBroken},
	}

	return &model.Snapshot{
		Generation: 3,
		Results:    results,
		RunGroups: []*model.RunGroup{{
			ID:           "a-result.json",
			Name:         "a-result",
			Results:      results,
			StatusCounts: model.StatusCounts{Passed: 1, Failed: 1, Broken: 1, Total: 3},
			PassRate:     33.3,
		}},
	}
}

func TestFailureSummary(t *testing.T) {
	msg := hook.FailureSummary(failingSnapshot().RunGroups[0], "http://dash")

	assert.Contains(t, msg, "<http://dash|a-result>")
	assert.Contains(t, msg, "1 failed and 1 broken of 3 tests (pass rate 33.3%)")
	assert.Contains(t, msg, "- Checkout (FAILED)")
	assert.Contains(t, msg, "- Search (BROKEN)")
	assert.NotContains(t, msg, "Login")
}

func TestSlackHookNotifiesOncePerOutcome(t *testing.T) {
	var posted atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "chat.postMessage") {
			posted.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "channel": "C1", "ts": "1"}`))
	}))
	defer server.Close()

	h := hook.NewSlackHook("C1", "token", "", slog.Default(), slack.OptionAPIURL(server.URL+"/"))

	s := failingSnapshot()
	h.RefreshFinishedAsync(context.Background(), s)
	h.RefreshFinishedAsync(context.Background(), s)

	assert.Equal(t, int32(1), posted.Load())

	s.RunGroups[0].Failed = 2
	h.RefreshFinishedAsync(context.Background(), s)

	assert.Equal(t, int32(2), posted.Load())
}

func TestSlackHookIgnoresPassingRuns(t *testing.T) {
	var posted atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted.Add(1)
	}))
	defer server.Close()

	h := hook.NewSlackHook("C1", "token", "", slog.Default(), slack.OptionAPIURL(server.URL+"/"))

	h.RefreshFinishedAsync(context.Background(), &model.Snapshot{RunGroups: []*model.RunGroup{{
		ID: "x", StatusCounts: model.StatusCounts{Passed: 2, Total: 2},
	}}})
	h.RefreshFinishedAsync(context.Background(), model.EmptySnapshot(model.SourceModeFile))

	assert.Equal(t, int32(0), posted.Load())
}

func TestElasticSearchHookIndexesResults(t *testing.T) {
	var docs atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		if !strings.HasSuffix(r.URL.Path, "_bulk") {
			_, _ = w.Write([]byte(`{}`))
			return
		}

		items := []string{}
		scanner := bufio.NewScanner(r.Body)
		for line := 0; scanner.Scan(); line++ {
			// action and document lines alternate
			if line%2 == 0 {
				docs.Add(1)
				items = append(items, `{"index": {"_id": "x", "status": 201}}`)
			}
		}

		_, _ = w.Write([]byte(`{"took": 1, "errors": false, "items": [` + strings.Join(items, ",") + `]}`))
	}))
	defer server.Close()

	h, err := hook.NewElasticSearchHook(elasticsearch.Config{Addresses: []string{server.URL}}, "", slog.Default())
	require.NoError(t, err)

	stats, err := h.Index(context.Background(), failingSnapshot())
	require.NoError(t, err)

	assert.Equal(t, int32(3), docs.Load())
	assert.Equal(t, uint64(3), stats.NumIndexed)
	assert.Equal(t, uint64(0), stats.NumFailed)
}
