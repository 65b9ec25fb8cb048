package allureboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raphi011/allureboard/internal/attachment"
	"github.com/raphi011/allureboard/internal/html"
	"github.com/raphi011/allureboard/internal/metric"
	"github.com/raphi011/allureboard/internal/model"
)

func (s *Server) router() *httprouter.Router {
	router := httprouter.New()

	router.GET("/", s.instrument("/", s.DashboardPage))
	router.GET("/results/:id", s.instrument("/results/:id", s.ResultPage))

	router.GET("/api/dashboard", s.instrument("/api/dashboard", s.GetDashboard))
	router.GET("/api/results", s.instrument("/api/results", s.GetResults))
	router.GET("/api/results/:id", s.instrument("/api/results/:id", s.GetResult))
	router.GET("/api/runs", s.instrument("/api/runs", s.GetRunGroups))
	router.GET("/api/timeline", s.instrument("/api/timeline", s.GetTimeline))
	router.GET("/api/projects", s.instrument("/api/projects", s.GetProjects))
	router.GET("/api/tags", s.instrument("/api/tags", s.GetTags))
	router.GET("/api/status", s.instrument("/api/status", s.GetStatus))
	router.POST("/api/refresh", s.instrument("/api/refresh", s.Refresh))
	router.POST("/api/ingest", s.instrument("/api/ingest", s.Ingest))
	router.GET("/api/attachments/*path", s.instrument("/api/attachments", s.GetAttachment))
	router.GET("/api/screenshots/:id", s.instrument("/api/screenshots/:id", s.GetScreenshot))

	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowCORS(w)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts requests per route and status code and allows cross
// origin requests from any origin.
func (s *Server) instrument(route string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		allowCORS(w)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r, p)

		metric.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

func allowCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) httpError(w http.ResponseWriter, err error) {
	var notFound model.NotFoundError
	var queryError model.QueryError
	var unavailable model.SourceUnavailableError

	if errors.As(err, &notFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	} else if errors.As(err, &queryError) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: queryError.Error()})
		return
	} else if errors.As(err, &unavailable) {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: unavailable.Error()})
		return
	}

	s.log.Error("Request failed", "error", err)

	w.WriteHeader(http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.Error("Encoding response failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err = w.Write(body); err != nil {
		s.log.Warn("Writing body failed", "error", err)
	}
}

func (s *Server) GetDashboard(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	f, err := s.parseFilter(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	d, err := s.dashboard.Dashboard(f)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) GetResults(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	f, err := s.parseFilter(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	results, err := s.dashboard.Results(f)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) GetResult(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	result, err := s.dashboard.Result(p.ByName("id"))
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) GetRunGroups(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	f, err := s.parseFilter(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	groups, err := s.dashboard.RunGroups(f)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) GetTimeline(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	f, err := s.parseFilter(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	buckets, err := s.dashboard.TimeBuckets(f)
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) GetProjects(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.dashboard.Projects())
}

func (s *Server) GetTags(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.dashboard.Tags())
}

func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.dashboard.Status())
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if err := s.dashboard.Refresh(r.Context()); err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.dashboard.Status())
}

func (s *Server) Ingest(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	summary, err := s.runIngest(r.Context())
	if err != nil {
		s.httpError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) GetAttachment(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	a, err := s.attachments.Open(strings.TrimPrefix(p.ByName("path"), "/"))
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))

	if _, err := w.Write(a.Data); err != nil {
		s.log.Warn("Writing attachment failed", "name", a.Name, "error", err)
	}
}

func (s *Server) GetScreenshot(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if s.storage == nil {
		s.httpError(w, model.NotFoundError{})
		return
	}

	id, err := strconv.ParseInt(p.ByName("id"), 10, 64)
	if err != nil {
		s.httpError(w, model.QueryError{Param: "id", Reason: "must be a number"})
		return
	}

	data, err := s.storage.LoadScreenshot(r.Context(), id)
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", attachment.ContentType("", data))

	if _, err := w.Write(data); err != nil {
		s.log.Warn("Writing screenshot failed", "step", id, "error", err)
	}
}

func (s *Server) DashboardPage(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	f, err := s.parseFilter(r)
	if err != nil {
		s.httpError(w, err)
		return
	}

	d, err := s.dashboard.Dashboard(f)
	if err != nil {
		s.httpError(w, err)
		return
	}

	q := r.URL.Query()

	page := html.DashboardPage{
		Dashboard: d,
		Status:    s.dashboard.Status(),
		Project:   q.Get("project"),
		Tags:      q.Get("tags"),
		Statuses:  q.Get("status"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := html.RenderDashboard(page, w); err != nil {
		s.log.Error("Rendering dashboard failed", "error", err)
	}
}

func (s *Server) ResultPage(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	result, err := s.dashboard.Result(p.ByName("id"))
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := html.RenderResult(result, w); err != nil {
		s.log.Error("Rendering result failed", "id", result.ID, "error", err)
	}
}

// parseFilter reads the filter query parameters. List parameters can be
// repeated or hold a comma separated list.
func (s *Server) parseFilter(r *http.Request) (model.Filter, error) {
	q := r.URL.Query()

	f := model.Filter{
		Projects: listParam(q["project"]),
		Tags:     listParam(q["tags"]),
		Statuses: listParam(q["status"]),
	}

	mode := q.Get("tagMatch")
	if mode == "" {
		mode = string(s.config.TagMatch)
	}

	tagMatch, err := model.ParseTagMatchMode(mode)
	if err != nil {
		return f, err
	}
	f.TagMatch = tagMatch

	if v := q.Get("startDate"); v != "" {
		start, _, err := ParseDate(v)
		if err != nil {
			return f, model.QueryError{Param: "startDate", Reason: err.Error()}
		}
		f.Start = &start
	}

	if v := q.Get("endDate"); v != "" {
		end, dateOnly, err := ParseDate(v)
		if err != nil {
			return f, model.QueryError{Param: "endDate", Reason: err.Error()}
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		f.End = &end
	}

	return f, nil
}

func listParam(values []string) []string {
	list := []string{}

	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}

	return list
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseDate accepts RFC3339 timestamps, local date times with or without
// seconds and plain dates. dateOnly reports whether v was a plain date.
func ParseDate(v string) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.Local(), false, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, false, nil
		}
	}

	if t, err := time.ParseInLocation(time.DateOnly, v, time.Local); err == nil {
		return t, true, nil
	}

	return time.Time{}, false, errors.New("unsupported date format")
}
