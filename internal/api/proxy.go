package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/intercept"
)

func (h *Handler) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	running, addr := h.opts.Proxy.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":            running,
		"addr":               addr,
		"intercept_enabled":  h.opts.Intercept.Enabled(),
		"intercept_pending":  h.opts.Intercept.PendingCount(),
	})
}

func (h *Handler) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req struct {
		Addr string `json:"addr"`
	}
	decodeJSON(r, &req)
	if req.Addr == "" {
		req.Addr = "127.0.0.1:8080"
	}
	if running, addr := h.opts.Proxy.Status(); running {
		writeJSON(w, http.StatusOK, map[string]any{"running": true, "addr": addr})
		return
	}
	go func() {
		if err := h.opts.Proxy.ListenAndServe(req.Addr); err != nil {
			writeError(w, http.StatusInternalServerError, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"starting": true, "addr": req.Addr})
}

func (h *Handler) handleProxyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.opts.Proxy.Close(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (h *Handler) handleInterceptToggle(w http.ResponseWriter, r *http.Request) {
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
	h.opts.Intercept.SetEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// handleInterceptAction lists pending slots (GET) or resolves one
// (POST): forward, drop, or modify-and-forward.
func (h *Handler) handleInterceptAction(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.opts.Intercept.List())
	case http.MethodPost:
		var req struct {
			SlotID          string              `json:"slot_id"`
			Action          string              `json:"action"`
			ModifiedHeaders map[string][]string `json:"modified_headers"`
			ModifiedBody    []byte              `json:"modified_body"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		d := intercept.Decision{Action: intercept.DecisionAction(req.Action)}
		if len(req.ModifiedHeaders) > 0 {
			hdr := flow.NewHeader()
			for name, values := range req.ModifiedHeaders {
				for _, v := range values {
					hdr.Add(name, v)
				}
			}
			d.ModifiedHeaders = hdr
		}
		if req.ModifiedBody != nil {
			d.ModifiedBody = req.ModifiedBody
		}
		if err := h.opts.Intercept.Decide(slotID, d); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"slot_id": req.SlotID, "action": req.Action})
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

func (h *Handler) handleCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="proxycore-ca.pem"`)
	w.Write(h.opts.CA.RootPEM())
}

// handleReplay re-issues a previously recorded flow's request through
// the upstream client, optionally with header/body overrides, and
// records the result as a new flow tagged replayed_from=<id>.
func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	var req struct {
		FlowID          string              `json:"flow_id"`
		OverrideHeaders map[string][]string `json:"override_headers"`
		OverrideBody    []byte              `json:"override_body"`
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

	body := snap.RequestBody
	if req.OverrideBody != nil {
		body = req.OverrideBody
	}
	targetURL := fmt.Sprintf("%s://%s%s", scheme(snap), hostPort(snap), snap.Path)
	if snap.Query != "" {
		targetURL += "?" + snap.Query
	}
	upReq, err := http.NewRequestWithContext(r.Context(), snap.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for name, values := range snap.RequestHeaders {
		for _, v := range values {
			upReq.Header.Add(name, v)
		}
	}
	for name, values := range req.OverrideHeaders {
		upReq.Header.Del(name)
		for _, v := range values {
			upReq.Header.Add(name, v)
		}
	}

	upResp, err := h.opts.Client.Do(upReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	defer upResp.Body.Close()
	respBody, err := io.ReadAll(upResp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	out := flow.New(snap.Scheme, snap.Method, snap.Host, snap.Port, snap.Path, snap.Query)
	out.RequestHeaders = headerFromMap(snap.RequestHeaders)
	out.RequestBody = body
	out.ResponseStatus = upResp.StatusCode
	out.ResponseReason = upResp.Status
	out.ResponseHeaders = headerFromMap(headerMapFrom(upResp.Header))
	out.ResponseBody = respBody
	out.AddTag("replayed_from=" + req.FlowID)
	out.Finalize()
	outSnap := out.Snapshot()

	if err := h.opts.Flows.SaveFlow(r.Context(), outSnap); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if h.opts.Bus != nil {
		h.opts.Bus.Publish("flow", outSnap)
	}
	writeJSON(w, http.StatusOK, outSnap)
}

func scheme(snap flow.Snapshot) string {
	return string(snap.Scheme)
}

func hostPort(snap flow.Snapshot) string {
	if snap.Port == 0 {
		return snap.Host
	}
	if (snap.Scheme == "https" && snap.Port == 443) || (snap.Scheme == "http" && snap.Port == 80) {
		return snap.Host
	}
	return fmt.Sprintf("%s:%d", snap.Host, snap.Port)
}

func headerFromMap(m map[string][]string) *flow.Header {
	h := flow.NewHeader()
	for name, values := range m {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

func headerMapFrom(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		out[name] = values
	}
	return out
}
