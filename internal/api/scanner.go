package api

import "net/http"

// handleScanIssues lists scan findings, optionally filtered by url.
func (h *Handler) handleScanIssues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	issues, err := h.opts.Scans.ListIssues(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

// handleScanRun runs every check against a single recorded flow,
// identified by flow_id, and returns the newly created issues.
func (h *Handler) handleScanRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req struct {
		FlowID string `json:"flow_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := h.opts.Flows.GetFlow(r.Context(), req.FlowID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	issues, err := h.opts.Scanner.ScanFlow(r.Context(), snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}
