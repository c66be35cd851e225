package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/store"
)

// handleSpiderSessions lists configured crawl sessions or configures a
// new one.
func (h *Handler) handleSpiderSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := h.opts.Spiders.ListSessions(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	case http.MethodPost:
		var s store.SpiderSession
		if err := decodeJSON(r, &s); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if err := h.opts.Spider.Configure(r.Context(), s); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": s.ID})
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

// handleSpiderSessionByID serves /api/spider/sessions/{id},
// /api/spider/sessions/{id}/start|pause|resume|stop, and
// /api/spider/sessions/{id}/urls.
func (h *Handler) handleSpiderSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/spider/sessions/")
	id, sub, hasSub := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}

	if hasSub {
		switch sub {
		case "start", "pause", "resume", "stop":
			h.handleSpiderLifecycle(w, r, id, sub)
		case "urls":
			h.handleSpiderURLs(w, r, id)
		default:
			writeError(w, http.StatusNotFound, errBadID)
		}
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	s, err := h.opts.Spiders.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleSpiderLifecycle(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var err error
	switch action {
	case "start":
		err = h.opts.Spider.Start(id)
	case "pause":
		err = h.opts.Spider.Pause(id)
	case "resume":
		err = h.opts.Spider.Resume(id)
	case "stop":
		err = h.opts.Spider.Stop(id)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := h.opts.Spider.Status(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleSpiderURLs(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	urls, err := h.opts.Spiders.ListURLs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, urls)
}
