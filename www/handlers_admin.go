package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

// readReason reads an optional {"reason": "..."} body.
func readReason(r *http.Request) string {
	var req reasonRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	return req.Reason
}

func (h *Handlers) apiCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := readReason(r)
	if reason == "" {
		reason = "cancelled by " + h.getUsername(r)
	}
	if err := h.engine.CancelOrder(r.Context(), id, reason); err != nil {
		h.engineError(w, err)
		return
	}
	h.log.Infof("www: order %s cancelled by %s", id, h.getUsername(r))
	h.jsonOK(w, map[string]string{"id": id, "status": "cancelled"})
}

func (h *Handlers) apiReleaseOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.ReleaseOrder(r.Context(), id); err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"id": id, "status": "released"})
}

func (h *Handlers) apiFaultUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := readReason(r)
	if reason == "" {
		reason = "faulted by " + h.getUsername(r)
	}
	h.unitAction(w, r, id, "fault", func() error { return h.engine.FaultUnit(r.Context(), id, reason) })
}

func (h *Handlers) apiResetUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.unitAction(w, r, id, "reset", func() error { return h.engine.ResetUnit(r.Context(), id) })
}

func (h *Handlers) apiBlockUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := readReason(r)
	h.unitAction(w, r, id, "block", func() error { return h.engine.BlockUnit(r.Context(), id, reason) })
}

func (h *Handlers) apiUnblockUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.unitAction(w, r, id, "unblock", func() error { return h.engine.UnblockUnit(r.Context(), id) })
}

func (h *Handlers) unitAction(w http.ResponseWriter, r *http.Request, id, action string, fn func() error) {
	if err := fn(); err != nil {
		h.engineError(w, err)
		return
	}
	h.log.Infof("www: unit %s %s by %s", id, action, h.getUsername(r))
	unit, err := h.engine.Unit(r.Context(), id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonOK(w, unit)
}
