package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/baicaiyihao/quant/internal/balancer"
	"github.com/baicaiyihao/quant/internal/domain"
	apperrors "github.com/baicaiyihao/quant/internal/errors"
	"github.com/baicaiyihao/quant/pkg/logger"
)

// ControlHandler exposes the balancer's read-only snapshots plus the strategy
// switch over HTTP for operational visibility
type ControlHandler struct {
	balancer  *balancer.Balancer
	log       *logger.Logger
	startTime time.Time
}

// NewControlHandler creates a control API handler
func NewControlHandler(b *balancer.Balancer, log *logger.Logger) *ControlHandler {
	return &ControlHandler{
		balancer:  b,
		log:       log.ControlLogger(),
		startTime: time.Now(),
	}
}

// RegisterRoutes attaches the control endpoints to the router
func (h *ControlHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.MetricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/strategy", h.StrategyHandler).Methods(http.MethodPut)
	r.HandleFunc("/healthz", h.HealthzHandler).Methods(http.MethodGet)
}

// StrategyRequest is the body of PUT /strategy
type StrategyRequest struct {
	Strategy string `json:"strategy"`
}

// HealthzResponse reports liveness of the balancer process itself
type HealthzResponse struct {
	Status           string    `json:"status"`
	Uptime           string    `json:"uptime"`
	TotalEndpoints   int       `json:"total_endpoints"`
	HealthyEndpoints int       `json:"healthy_endpoints"`
	Timestamp        time.Time `json:"timestamp"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusHandler handles GET /status
func (h *ControlHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.balancer.Status())
}

// MetricsHandler handles GET /metrics
func (h *ControlHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.balancer.Metrics())
}

// StrategyHandler handles PUT /strategy
func (h *ControlHandler) StrategyHandler(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.balancer.SetStrategy(domain.StrategyName(req.Strategy)); err != nil {
		h.log.WithError(err).WithField("strategy", req.Strategy).
			Warn("Rejected strategy change")
		h.writeError(w, apperrors.GetHTTPStatusCode(err), err.Error())
		return
	}

	h.log.WithField("strategy", req.Strategy).Info("Strategy changed")
	h.writeJSON(w, http.StatusOK, map[string]string{"strategy": req.Strategy})
}

// HealthzHandler handles GET /healthz
func (h *ControlHandler) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	status := h.balancer.Status()

	resp := HealthzResponse{
		Status:           "ok",
		Uptime:           time.Since(h.startTime).String(),
		TotalEndpoints:   status.TotalEndpoints,
		HealthyEndpoints: status.HealthyEndpoints,
		Timestamp:        time.Now(),
	}
	code := http.StatusOK
	if status.HealthyEndpoints == 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

func (h *ControlHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("Failed to encode response")
	}
}

func (h *ControlHandler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	})
}
