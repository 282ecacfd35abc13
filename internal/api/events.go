package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/reedfamily/mcwarden/internal/game"
	"github.com/reedfamily/mcwarden/internal/journal"
)

type EventHandler struct {
	journal *journal.Journal
	catalog *game.Catalog
	log     *zap.SugaredLogger
}

func NewEventHandler(j *journal.Journal, catalog *game.Catalog, log *zap.SugaredLogger) *EventHandler {
	return &EventHandler{journal: j, catalog: catalog, log: log}
}

// List returns journal entries, newest first. Query parameters: limit, type and before (an
// entry id, for paging).
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	before, err := queryInt(r, "before", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.journal.Find(r.Context(), journal.Query{
		Limit:  int(limit),
		Type:   r.URL.Query().Get("type"),
		Before: before,
	})
	if err != nil {
		h.log.Errorw("query journal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type eventType struct {
	ID       string   `json:"id"`
	Template string   `json:"template"`
	Pattern  string   `json:"pattern"`
	Args     []string `json:"args"`
	MatchRaw bool     `json:"match_raw,omitempty"`
	Custom   bool     `json:"custom,omitempty"`
}

// Types lists the catalog in matching order.
func (h *EventHandler) Types(w http.ResponseWriter, r *http.Request) {
	types := h.catalog.Types()
	out := make([]eventType, 0, len(types))
	for _, t := range types {
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.String()
		}
		out = append(out, eventType{
			ID:       t.ID,
			Template: t.Template,
			Pattern:  t.Pattern().String(),
			Args:     args,
			MatchRaw: t.MatchRaw,
			Custom:   t.Custom,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
