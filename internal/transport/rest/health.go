package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db                Pinger
	gatewayConfigured func() bool
}

func NewHealthHandler(db Pinger, gatewayConfigured func() bool) *HealthHandler {
	return &HealthHandler{db: db, gatewayConfigured: gatewayConfigured}
}

var _ Pinger = (*sql.DB)(nil)

// pingHandler reports liveness only.
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// healthCheckHandler reports readiness. A missing gateway secret degrades the
// service without failing it: listings and cancellation still work.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := h.db.PingContext(ctx)

	db := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		db.Status = HealthUnhealthy
		db.Message = "database unreachable"
	}

	gateway := CheckEntry{Status: HealthHealthy, CheckedAt: time.Now()}
	if h.gatewayConfigured != nil && !h.gatewayConfigured() {
		gateway.Status = HealthDegraded
		gateway.Message = "payment gateway secret is not configured"
	}

	resp := HealthResponse{
		Status:    HealthHealthy,
		CheckedAt: time.Now(),
		Components: map[string]CheckEntry{
			"postgres":        db,
			"payment_gateway": gateway,
		},
	}

	statusCode := http.StatusOK
	switch {
	case db.Status == HealthUnhealthy:
		resp.Status = HealthUnhealthy
		statusCode = http.StatusServiceUnavailable
	case gateway.Status == HealthDegraded:
		resp.Status = HealthDegraded
	}

	writeHealthJSON(w, statusCode, resp)
}

func writeHealthJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
