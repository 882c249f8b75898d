package api

import (
	"net/http"
	"time"

	"github.com/motor-control/mcn/internal/telemetry"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Watchdog      string `json:"watchdog"`
	Driver        string `json:"driver,omitempty"`

	Telemetry *telemetry.Stats `json:"telemetry,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()

	status := "ok"
	if snap.Driver.Status == "fault" || snap.Driver.Status == "closed" {
		status = "degraded"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Watchdog:      snap.State.String(),
		Driver:        snap.Driver.Status,
	}
	if s.telemetry != nil {
		stats := s.telemetry.Stats()
		resp.Telemetry = &stats
	}
	WriteSuccess(w, r, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, s.state.Snapshot())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		WriteError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "Telemetry is disabled", nil)
		return
	}
	if err := s.telemetry.Subscribe(r.Context(), w, r); err != nil {
		s.log.Debug("Telemetry stream ended", "remote", r.RemoteAddr, "error", err)
	}
}
