package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/pipeline"
	"github.com/JonMunkholm/propstage/internal/schema"
)

const (
	maxRunsLimit    = 500
	maxTriggerBytes = 1 << 16
	pingTimeout     = 2 * time.Second
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.opts.Ping(ctx); err != nil {
			s.respondError(w, r, err, nil)
			return
		}
	}
	s.writeJSON(w, r, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Limiter   *pipeline.LimiterStatus `json:"limiter,omitempty"`
	Schedules []pipeline.ScheduledJob `json:"schedules,omitempty"`
	LastRun   *pipeline.RunResult     `json:"last_run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	if s.opts.Limiter != nil {
		st := s.opts.Limiter.Status()
		resp.Limiter = &st
	}
	if s.opts.Schedules != nil {
		resp.Schedules = s.opts.Schedules.Entries()
	}
	if s.opts.History != nil {
		runs, err := s.opts.History.Recent(r.Context(), 1)
		if err != nil {
			s.respondError(w, r, err, nil)
			return
		}
		if len(runs) > 0 {
			resp.LastRun = &runs[0]
		}
	}
	s.writeJSON(w, r, resp)
}

type datasetView struct {
	Key       string            `json:"key"`
	Label     string            `json:"label"`
	Table     string            `json:"table"`
	UniqueKey string            `json:"unique_key,omitempty"`
	Types     map[string]string `json:"types"`
	Renames   map[string]string `json:"renames,omitempty"`
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	all := schema.All()
	views := make([]datasetView, 0, len(all))
	for _, ds := range all {
		types := make(map[string]string, len(ds.Types))
		for col, typ := range ds.Types {
			types[col] = typ.String()
		}
		views = append(views, datasetView{
			Key:       ds.Key,
			Label:     ds.Label,
			Table:     ds.QualifiedTable(),
			UniqueKey: ds.UniqueKey,
			Types:     types,
			Renames:   ds.Renames,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	s.writeJSON(w, r, views)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	entries := []pipeline.ScheduledJob{}
	if s.opts.Schedules != nil {
		entries = s.opts.Schedules.Entries()
	}
	s.writeJSON(w, r, entries)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		s.writeJSON(w, r, []pipeline.RunResult{})
		return
	}
	limit := parseIntParam(r, "limit", pipeline.DefaultHistoryLimit)
	runs, err := s.opts.History.Recent(r.Context(), min(limit, maxRunsLimit))
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	if runs == nil {
		runs = []pipeline.RunResult{}
	}
	s.writeJSON(w, r, runs)
}

// triggerRequest is the optional body of POST /api/runs.
type triggerRequest struct {
	Dataset   string `json:"dataset"`
	Mode      string `json:"mode"`
	Selection string `json:"selection"`
}

// handleTriggerRun runs a job and waits for it. A run that cannot get the
// run slot within the limiter's wait time answers 409.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	body := http.MaxBytesReader(w, r.Body, maxTriggerBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondMessage(w, r, msgBadRequest, err, nil)
		return
	}

	job, err := s.jobFor(req)
	if err != nil {
		s.respondMessage(w, r, msgBadRequest, err, nil)
		return
	}

	// The run continues if the client disconnects.
	result, err := s.opts.Runner.Run(context.WithoutCancel(r.Context()), job)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			s.respondError(w, r, err, nil)
			return
		}
		s.respondError(w, r, err, &result)
		return
	}
	s.writeJSON(w, r, result)
}

func (s *Server) jobFor(req triggerRequest) (pipeline.Job, error) {
	job := s.opts.DefaultJob
	job.Trigger = pipeline.TriggerAPI
	if req.Dataset != "" {
		job.Dataset = req.Dataset
	}
	if req.Mode != "" {
		mode, err := pipeline.ParseMode(req.Mode)
		if err != nil {
			return job, err
		}
		job.Mode = mode
	}
	if req.Selection != "" {
		sel, err := ingest.ParseSelection(req.Selection)
		if err != nil {
			return job, err
		}
		job.Selection = sel
	}
	return job, nil
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
