package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"magharvest/internal/sched"
	"magharvest/internal/task"
)

type startCrawlRequest struct {
	Mode string `json:"mode"`
}

type scheduleRequest struct {
	Cron    string `json:"cron"`
	Mode    string `json:"mode"`
	Enabled bool   `json:"enabled"`
}

type scheduleResponse struct {
	Cron    string     `json:"cron"`
	Mode    string     `json:"mode"`
	Enabled bool       `json:"enabled"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

type taskResponse struct {
	TaskID     string       `json:"task_id"`
	Mode       string       `json:"mode"`
	State      string       `json:"state"`
	Progress   int          `json:"progress"`
	Message    string       `json:"message,omitempty"`
	Result     *task.Result `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

func toTaskResponse(s task.Snapshot) taskResponse {
	resp := taskResponse{
		TaskID:    s.ID,
		Mode:      string(s.Mode),
		State:     string(s.State),
		Progress:  s.Progress,
		Message:   s.Message,
		Result:    s.Result,
		Error:     s.Err,
		CreatedAt: s.CreatedAt,
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		resp.StartedAt = &t
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snap, err := s.svc.StartCrawl(task.Mode(req.Mode))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toTaskResponse(snap))
}

func (s *Server) listCrawls(w http.ResponseWriter, _ *http.Request) {
	snaps := s.svc.Tasks()
	tasks := make([]taskResponse, 0, len(snaps))
	for _, snap := range snaps {
		tasks = append(tasks, toTaskResponse(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Task(chi.URLParam(r, "task_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(snap))
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.StopCrawl(chi.URLParam(r, "task_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(snap))
}

func (s *Server) getSchedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toScheduleResponse(s.scheduler.Current()))
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.scheduler.Update(req.Cron, req.Mode, req.Enabled); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(s.scheduler.Current()))
}

func toScheduleResponse(cur sched.Schedule) scheduleResponse {
	resp := scheduleResponse{
		Cron:    cur.Cron,
		Mode:    cur.Mode,
		Enabled: cur.Enabled,
	}
	if !cur.NextRun.IsZero() {
		t := cur.NextRun
		resp.NextRun = &t
	}
	return resp
}
