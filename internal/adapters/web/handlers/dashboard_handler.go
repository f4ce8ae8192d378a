package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
	"github.com/lcalzada-xor/chira/internal/core/services/dashboard"
)

const maxBodyBytes = 1 << 20

// DashboardHandler serves the dashboard read model and the chart selector.
type DashboardHandler struct {
	Service ports.DashboardService
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(service ports.DashboardService) *DashboardHandler {
	return &DashboardHandler{Service: service}
}

type granularityRequest struct {
	Granularity string `json:"granularity"`
}

type granularityResponse struct {
	Granularity domain.Granularity `json:"granularity"`
	Title       string             `json:"title"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleDashboard returns the latest assembled view.
func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.View())
}

// HandleLiveness returns only the liveness part of the view.
func (h *DashboardHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.View().Liveness)
}

func (h *DashboardHandler) HandleGetGranularity(w http.ResponseWriter, r *http.Request) {
	g := h.Service.Granularity()
	writeJSON(w, http.StatusOK, granularityResponse{Granularity: g, Title: g.Title()})
}

// HandleSetGranularity switches the chart resolution.
func (h *DashboardHandler) HandleSetGranularity(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req granularityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	g, err := domain.ParseGranularity(req.Granularity)
	if err != nil {
		http.Error(w, "Unknown granularity: "+req.Granularity, http.StatusBadRequest)
		return
	}

	if err := h.Service.SetGranularity(r.Context(), g); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownGranularity):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, dashboard.ErrNotRunning):
			http.Error(w, "Dashboard is not running", http.StatusServiceUnavailable)
		default:
			http.Error(w, "Failed to change granularity: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, granularityResponse{Granularity: g, Title: g.Title()})
}

// HandleTransitions lists recent online/offline changes. ?limit=N caps the result.
func (h *DashboardHandler) HandleTransitions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	transitions, err := h.Service.Transitions(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to load transitions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

// HandleHealth reports process health. Robot liveness does not affect it.
func (h *DashboardHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"robot_online": h.Service.View().Liveness.IsOnline,
	})
}
