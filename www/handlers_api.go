package www

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"floorcore/dispatch"
	"floorcore/engine"
	"floorcore/inventory"
	"floorcore/resource"
)

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	msgOK := false
	if c := h.engine.MsgClient(); c != nil {
		msgOK = c.IsConnected()
	}
	h.jsonOK(w, map[string]any{
		"status":    "ok",
		"running":   h.engine.Running(),
		"database":  h.engine.DB() != nil,
		"messaging": msgOK,
	})
}

func (h *Handlers) apiListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.engine.Units(r.Context())
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonOK(w, units)
}

func (h *Handlers) apiGetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := h.engine.Unit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonOK(w, unit)
}

func (h *Handlers) apiUnitInventory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.engine.Inventory(r.Context(), id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	if entries == nil {
		entries = []inventory.Entry{}
	}
	h.jsonOK(w, map[string]any{"unit_id": id, "entries": entries})
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	status := dispatch.Status(r.URL.Query().Get("status"))
	orders, err := h.engine.Orders(r.Context())
	if err != nil {
		h.engineError(w, err)
		return
	}
	out := make([]dispatch.Order, 0, len(orders))
	for _, o := range orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	h.jsonOK(w, out)
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.engineError(w, err)
		return
	}
	h.jsonOK(w, order)
}

type submitRequest struct {
	ID      string           `json:"id"`
	Kind    string           `json:"kind"`
	Payload dispatch.Payload `json:"payload"`
}

func (h *Handlers) apiSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ID != "" {
		_, err := h.engine.Order(r.Context(), req.ID)
		if err == nil {
			h.jsonError(w, "order "+req.ID+" already exists", http.StatusConflict)
			return
		}
		if !errors.Is(err, dispatch.ErrUnknownOrder) {
			h.engineError(w, err)
			return
		}
	}
	id, err := h.engine.SubmitOrder(dispatch.Order{
		ID:      req.ID,
		Kind:    resource.Kind(req.Kind),
		Payload: req.Payload,
	})
	if err != nil {
		h.engineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": string(dispatch.StatusPending)})
}

func (h *Handlers) apiListEvents(w http.ResponseWriter, r *http.Request) {
	if h.engine.DB() == nil {
		h.jsonError(w, "event journal not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.engine.DB().ListEvents(limit, r.URL.Query().Get("source"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, events)
}

func (h *Handlers) apiNodeState(w http.ResponseWriter, r *http.Request) {
	if h.engine.NodeState() == nil {
		h.jsonError(w, "redis mirror not configured", http.StatusServiceUnavailable)
		return
	}
	states, err := h.engine.NodeState().GetAllUnitStates(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, states)
}

func (h *Handlers) apiDiagnostics(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"running":          h.engine.Running(),
		"events_published": h.engine.Events.Published(),
		"handler_failures": h.engine.Events.Failures(),
		"subscribers":      h.engine.Events.SubscriberCount(),
		"orders_enqueued":  h.engine.Dispatcher().Intake().Enqueued(),
	}
	if db := h.engine.DB(); db != nil {
		if n, err := db.CountPendingOutbox(); err == nil {
			data["outbox_pending"] = n
		}
		if n, err := db.CountEvents(); err == nil {
			data["events_journaled"] = n
		}
	}
	if c := h.engine.MsgClient(); c != nil {
		data["messaging_backend"] = c.Backend()
		data["messaging_connected"] = c.IsConnected()
	}
	if h.engine.Running() {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		if st, err := h.engine.SchedulerStatus(ctx); err == nil {
			data["scheduler"] = st
		}
		cancel()
	}
	if ns := h.engine.NodeState(); ns != nil {
		data["mirror_written"] = ns.Written()
		data["mirror_dropped"] = ns.Dropped()
	}
	h.jsonOK(w, data)
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// engineError maps dispatch core errors onto HTTP status codes.
func (h *Handlers) engineError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrUnknownUnit), errors.Is(err, dispatch.ErrUnknownOrder):
		code = http.StatusNotFound
	case errors.Is(err, dispatch.ErrInvalidPayload), errors.Is(err, resource.ErrUnknownKind):
		code = http.StatusBadRequest
	case errors.Is(err, resource.ErrNotIdle), errors.Is(err, resource.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrOrderNotPending), errors.Is(err, dispatch.ErrOrderNotTerminal),
		errors.Is(err, dispatch.ErrNotWarehouse):
		code = http.StatusConflict
	case errors.Is(err, dispatch.ErrIntakeClosed), errors.Is(err, engine.ErrStopped):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = http.StatusGatewayTimeout
	}
	h.jsonError(w, err.Error(), code)
}

func (h *Handlers) apiExportEvents(w http.ResponseWriter, r *http.Request) {
	if h.engine.DB() == nil {
		h.jsonError(w, "event journal not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 10000
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.engine.DB().ListEvents(limit, r.URL.Query().Get("source"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f, err := eventsWorkbook(events)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="floorcore-events.xlsx"`)
	if err := f.Write(w); err != nil {
		h.log.Warnf("www: write events export: %v", err)
	}
}
