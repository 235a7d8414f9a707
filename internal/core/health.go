package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/dentar/internal/fit"
	"github.com/e7canasta/dentar/internal/types"
)

// HealthStatus represents the health state of the dentar service
type HealthStatus struct {
	Status        string            `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64             `json:"uptime_seconds"`
	InstanceID    string            `json:"instance_id"`
	StreamReady   bool              `json:"stream_ready"`
	MQTTConnected bool              `json:"mqtt_connected"`
	Fit           fit.Status        `json:"fit"`
	Stream        types.StreamStats `json:"stream"`
}

// HealthCheck returns the current health status of the service
func (d *Dentar) HealthCheck() HealthStatus {
	d.mu.RLock()
	running := d.isRunning
	started := d.started
	d.mu.RUnlock()

	status := HealthStatus{
		Status:      "healthy",
		InstanceID:  d.cfg.InstanceID,
		StreamReady: d.source.Ready(),
		Fit:         d.controller.Status(),
		Stream:      d.source.Stats(),
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if d.emitter != nil {
		status.MQTTConnected = d.emitter.Stats().Connected
	}

	tracking := status.Fit.State == fit.StateRunning.String() || status.Fit.Frozen
	switch {
	case !running || status.Fit.State == fit.StateStopped.String():
		status.Status = "unhealthy"
	case !status.StreamReady || !tracking:
		status.Status = "degraded"
	case d.emitter != nil && !status.MQTTConnected:
		status.Status = "degraded"
	}
	return status
}

func healthJSON(h HealthStatus) ([]byte, error) {
	return json.Marshal(h)
}

// LivenessHandler handles /health: 200 while the process is alive.
func (d *Dentar) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness: 503 while unhealthy, 200 otherwise.
func (d *Dentar) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := d.HealthCheck()
	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StatusHandler handles /status with the full control-plane status.
func (d *Dentar) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(d.getStatus())
}

// healthMux registers the health endpoints.
func (d *Dentar) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.LivenessHandler)
	mux.HandleFunc("/readiness", d.ReadinessHandler)
	mux.HandleFunc("/status", d.StatusHandler)
	return mux
}

// StartHealthServer starts the HTTP health check server on addr. It does not
// block; Shutdown stops it.
func (d *Dentar) StartHealthServer(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      d.healthMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	d.mu.Lock()
	d.httpServer = server
	d.mu.Unlock()

	slog.Info("starting health check server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/status"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()
	return nil
}
