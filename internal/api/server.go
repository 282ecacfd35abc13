package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/instance"
	"github.com/reedfamily/mcwarden/internal/supervisor"
	"github.com/reedfamily/mcwarden/internal/worker"
)

// Controller is the supervised server as the API drives it.
type Controller interface {
	Status() instance.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Kill() error
	Send(line string) error
}

type ServerHandler struct {
	ctl Controller
	log *zap.SugaredLogger
	// grace bounds stop and restart requests, which outlive the HTTP request.
	grace time.Duration
}

func NewServerHandler(ctl Controller, grace time.Duration, log *zap.SugaredLogger) *ServerHandler {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return &ServerHandler{ctl: ctl, grace: grace, log: log}
}

func (h *ServerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *ServerHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Start(context.WithoutCancel(r.Context())); err != nil {
		h.fail(w, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

// Stop returns as soon as the stop command is on its way; the shutdown itself can take as
// long as the server needs to save.
func (h *ServerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.background(w, "stop", h.ctl.Stop)
}

func (h *ServerHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.background(w, "restart", h.ctl.Restart)
}

func (h *ServerHandler) background(w http.ResponseWriter, name string, fn func(context.Context) error) {
	if h.ctl.Status().State != supervisor.Running.String() {
		writeError(w, http.StatusConflict, supervisor.ErrNotRunning.Error())
		return
	}
	worker.Started(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, h.grace)
		defer cancel()
		return fn(ctx)
	}, worker.WithName("api:"+name), worker.WithLogger(h.log))
	writeJSON(w, http.StatusAccepted, map[string]string{"message": name + " requested"})
}

func (h *ServerHandler) Kill(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Kill(); err != nil {
		h.fail(w, "kill", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "server killed"})
}

func (h *ServerHandler) Command(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}
	if err := h.ctl.Send(req.Command); err != nil {
		h.fail(w, "command", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "command sent"})
}

func (h *ServerHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, instance.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, supervisor.ErrCommandTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Errorw(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, op+" failed: "+err.Error())
	}
}
