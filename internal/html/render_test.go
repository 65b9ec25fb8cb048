package html_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/raphi011/allureboard/internal/html"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkout() *model.Result {
	return &model.Result{
		ID:         "a",
		Name:       "Checkout <script>",
		Status:     model.StatusFailed,
		Project:    "Nova",
		Tags:       []string{"smoke", "nightly"},
		Timestamp:  time.Now().Add(-time.Minute),
		DurationMS: 1500,
		Message:    "boom",
		Attachments: []model.Attachment{
			{Name: "Screenshot", Source: "data/test-results/shot.png", Type: "image/png"},
		},
		Steps: []model.Step{
			{Name: "pay", Status: "failed", DurationMS: 20, ScreenshotPath: "/api/screenshots/3",
				Steps: []model.Step{{Name: "enter card", Status: "broken"}}},
		},
	}
}

func TestRenderDashboard(t *testing.T) {
	r := checkout()

	page := html.DashboardPage{
		Dashboard: model.Dashboard{
			Results:      []*model.Result{r},
			RunGroups:    []*model.RunGroup{{ID: "a-result.json", Name: "a-result", Results: []*model.Result{r}, StatusCounts: model.StatusCounts{Failed: 1, Total: 1}}},
			StatusCounts: map[model.Status]int{model.StatusFailed: 1},
			Projects:     []string{"Nova", "Shop"},
			TotalTests:   1,
		},
		Status:  model.CacheStatus{Results: 1, Mode: model.SourceModeFile},
		Project: "Nova",
	}

	b := bytes.Buffer{}
	require.NoError(t, html.RenderDashboard(page, &b))

	out := b.String()
	assert.Contains(t, out, `<option value="Nova" selected>Nova</option>`)
	assert.Contains(t, out, "Checkout &lt;script&gt;")
	assert.Contains(t, out, `href="/results/a"`)
	assert.Contains(t, out, "1.5 s")
	assert.Contains(t, out, "smoke, nightly")
	assert.Contains(t, out, "Pass rate 0.0%")
	assert.NotContains(t, out, "No results")
}

func TestRenderEmptyDashboard(t *testing.T) {
	b := bytes.Buffer{}
	require.NoError(t, html.RenderDashboard(html.DashboardPage{}, &b))

	assert.Contains(t, b.String(), "No results")
	assert.Contains(t, b.String(), "No test runs")
}

func TestRenderResult(t *testing.T) {
	b := bytes.Buffer{}
	require.NoError(t, html.RenderResult(checkout(), &b))

	out := b.String()
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, `href="/api/screenshots/3"`)
	assert.Contains(t, out, `href="/api/attachments/data/test-results/shot.png"`)
	assert.Contains(t, out, "enter card")
}
