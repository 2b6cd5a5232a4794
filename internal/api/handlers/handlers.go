// Package handlers implements the thin HTTP surface over the control
// plane's core: translation to/from JSON only, no business logic (spec §5).
// Every state change still goes through OrderManager or the mode
// Controller, exactly as if this package were an external collaborator.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/barbrew/control-plane/internal/mode"
	"github.com/barbrew/control-plane/internal/notify"
	"github.com/barbrew/control-plane/internal/ordermanager"
	"github.com/barbrew/control-plane/pkg/models"
)

// Handlers bundles the core components the HTTP shell translates requests
// against.
type Handlers struct {
	Orders  *ordermanager.Manager
	Mode    *mode.Controller
	Notify  *notify.Service
	Version string
}

// New builds a Handlers bundle.
func New(orders *ordermanager.Manager, modeCtl *mode.Controller, notifySvc *notify.Service, version string) *Handlers {
	return &Handlers{Orders: orders, Mode: modeCtl, Notify: notifySvc, Version: version}
}

// ── Orders ───────────────────────────────────────────────────

type createOrderRequest struct {
	MenuCode int    `json:"menu_code"`
	OrderNo  string `json:"order_no"`
}

// CreateOrder handles POST /orders.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderNo == "" {
		respondError(w, http.StatusBadRequest, "order_no is required")
		return
	}

	order := h.Orders.Add(req.MenuCode, req.OrderNo)
	respondJSON(w, http.StatusCreated, order)
}

// ListOrders handles GET /orders.
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Orders.List())
}

// GetOrder handles GET /orders/{id}.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "id")
	order, ok := h.Orders.Get(uuid)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /orders/{id}.
func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "id")
	if !h.Orders.Cancel(uuid) {
		respondError(w, http.StatusNotFound, "order not found or already terminal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Mode ─────────────────────────────────────────────────────

type setModeRequest struct {
	Mode string `json:"mode"`
}

// SetMode handles POST /mode, body {"mode": "AUTO"|"MANUAL"}.
func (h *Handlers) SetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var target models.SystemMode
	switch strings.ToUpper(req.Mode) {
	case "AUTO":
		target = models.ModeAuto
	case "MANUAL":
		target = models.ModeManual
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q, want AUTO or MANUAL", req.Mode))
		return
	}

	if err := h.Mode.Set(r.Context(), target); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"mode": target.String()})
}

// ── Events ───────────────────────────────────────────────────

// Events handles GET /events: an SSE stream of order and mode changes, the
// out-of-band web UI signal spec.md §2 mentions.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch := h.Notify.Subscribe()
	defer h.Notify.Unsubscribe(ch)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				log.Warn().Err(err).Msg("events: failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// ── Health / version ─────────────────────────────────────────

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "barbot-control-plane",
	})
}

// VersionInfo handles GET /version.
func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
		"service": "barbot-control-plane",
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
