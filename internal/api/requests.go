package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/webintercept/proxycore/internal/store"
)

// handleRequests lists recorded flows (optionally filtered) or clears
// them.
func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := store.FlowFilter{
			Host:   r.URL.Query().Get("host"),
			Method: r.URL.Query().Get("method"),
			Tag:    r.URL.Query().Get("tag"),
		}
		if v := r.URL.Query().Get("statusMin"); v != "" {
			filter.StatusMin, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("statusMax"); v != "" {
			filter.StatusMax, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("since"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Since = t
			}
		}
		flows, err := h.opts.Flows.ListFlows(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, flows)
	case http.MethodDelete:
		flows, err := h.opts.Flows.ListFlows(r.Context(), store.FlowFilter{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, f := range flows {
			h.opts.Flows.DeleteFlow(r.Context(), f.ID)
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": len(flows)})
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

// handleRequestByID serves /api/requests/{id} and /api/requests/{id}/tags.
func (h *Handler) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	id, sub, hasSub := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}

	if hasSub && sub == "tags" {
		h.handleRequestTags(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := h.opts.Flows.GetFlow(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case http.MethodDelete:
		if err := h.opts.Flows.DeleteFlow(r.Context(), id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

func (h *Handler) handleRequestTags(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req struct {
		Tag string `json:"tag"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := h.opts.Flows.GetFlow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	snap.Tags = append(snap.Tags, req.Tag)
	if err := h.opts.Flows.SaveFlow(r.Context(), snap); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
