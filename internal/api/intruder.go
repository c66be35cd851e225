package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/store"
)

// handleIntruderAttacks lists configured attacks or configures a new
// one.
func (h *Handler) handleIntruderAttacks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		attacks, err := h.opts.Attacks.ListAttacks(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, attacks)
	case http.MethodPost:
		var a store.Attack
		if err := decodeJSON(r, &a); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if err := h.opts.Intruder.Configure(r.Context(), a); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": a.ID})
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

// handleIntruderAttackByID serves /api/intruder/attacks/{id},
// /api/intruder/attacks/{id}/start|pause|resume|stop, and
// /api/intruder/attacks/{id}/results.
func (h *Handler) handleIntruderAttackByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/intruder/attacks/")
	id, sub, hasSub := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}

	if hasSub {
		switch sub {
		case "start", "pause", "resume", "stop":
			h.handleIntruderLifecycle(w, r, id, sub)
		case "results":
			h.handleIntruderResults(w, r, id)
		default:
			writeError(w, http.StatusNotFound, errBadID)
		}
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	a, err := h.opts.Attacks.GetAttack(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleIntruderLifecycle(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var err error
	switch action {
	case "start":
		err = h.opts.Intruder.Start(id)
	case "pause":
		err = h.opts.Intruder.Pause(id)
	case "resume":
		err = h.opts.Intruder.Resume(id)
	case "stop":
		err = h.opts.Intruder.Stop(id)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a, err := h.opts.Intruder.Status(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleIntruderResults(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	results, err := h.opts.Attacks.ListResults(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
