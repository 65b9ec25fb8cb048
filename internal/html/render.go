package html

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/raphi011/allureboard/internal/html/util"
	"github.com/raphi011/allureboard/internal/model"
)

//go:embed dashboard.tmpl
var dashboardTemplate string

//go:embed result.tmpl
var resultTemplate string

var templatesByName map[string]*template.Template

var funcs = template.FuncMap{
	"relativeTime": func(t time.Time) string { return util.FormatRelativeTime(t, time.Now()) },
	"duration":     util.FormatDuration,
	"percent":      func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"count":        func(m map[model.Status]int, s string) int { return m[model.Status(s)] },
	"join":         strings.Join,
	"upper":        strings.ToUpper,
}

func init() {
	templatesByName = make(map[string]*template.Template)

	templates := []struct {
		name     string
		template string
	}{
		{name: "dashboard", template: dashboardTemplate},
		{name: "result", template: resultTemplate},
	}

	for _, t := range templates {
		template, err := template.New(t.name).Funcs(funcs).Parse(t.template)
		if err != nil {
			panic(fmt.Sprintf("unable to parse html template %s: %v", t.name, err))
		}

		templatesByName[t.name] = template
	}
}

// DashboardPage is the data of the dashboard page. The filter values are
// echoed back into the filter form.
type DashboardPage struct {
	Dashboard model.Dashboard
	Status    model.CacheStatus

	Project   string
	Tags      string
	Statuses  string
	StartDate string
	EndDate   string
}

func RenderDashboard(page DashboardPage, w io.Writer) error {
	return templatesByName["dashboard"].Execute(w, page)
}

func RenderResult(result *model.Result, w io.Writer) error {
	return templatesByName["result"].Execute(w, result)
}
