package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reedfamily/mcwarden/internal/scheduler"
)

type ScheduleHandler struct {
	sched *scheduler.Scheduler
}

func NewScheduleHandler(sched *scheduler.Scheduler) *ScheduleHandler {
	return &ScheduleHandler{sched: sched}
}

// List returns every configured schedule with its last and next run.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.List())
}

// Run fires a schedule now, outside its cron expression.
func (h *ScheduleHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.sched.RunNow(context.WithoutCancel(r.Context()), name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownSchedule) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "schedule started"})
}
