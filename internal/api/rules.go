package api

import (
	"net/http"
	"strings"

	"github.com/webintercept/proxycore/internal/ruleengine"
)

// handleRules lists every rule in evaluation order, or accepts a new
// custom rule as a JSON body, matching the all-bodies-are-JSON contract
// the rest of the API follows.
func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.opts.Rules.ListRules())
	case http.MethodPost:
		var rule ruleengine.Rule
		if err := decodeJSON(r, &rule); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.opts.Rules.AddRuleValue(rule); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, h.opts.Rules.ListRules())
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

// handleRuleByID serves /api/rules/{name} and /api/rules/{name}/toggle.
func (h *Handler) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rules/")
	name, sub, hasSub := strings.Cut(rest, "/")
	if name == "" {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}

	if hasSub && sub == "toggle" {
		h.handleRuleToggle(w, r, name)
		return
	}

	switch r.Method {
	case http.MethodGet:
		for _, ri := range h.opts.Rules.ListRules() {
			if ri.Name == name {
				writeJSON(w, http.StatusOK, ri)
				return
			}
		}
		writeError(w, http.StatusNotFound, errBadID)
	case http.MethodPatch:
		var rule ruleengine.Rule
		if err := decodeJSON(r, &rule); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// Patching a custom rule is modeled as remove-then-add, matching
		// the teacher's "rules are data, not patched in place" shape.
		h.opts.Rules.RemoveRule(name)
		if err := h.opts.Rules.AddRuleValue(rule); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, h.opts.Rules.ListRules())
	case http.MethodDelete:
		if err := h.opts.Rules.RemoveRule(name); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

func (h *Handler) handleRuleToggle(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.opts.Rules.SetRuleEnabled(name, req.Enabled); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}
