package core

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/e7canasta/dentar/internal/control"
	"github.com/e7canasta/dentar/internal/inference"
)

// callbacks maps control plane commands onto the service.
func (d *Dentar) callbacks() control.Callbacks {
	return control.Callbacks{
		OnGetStatus:      d.getStatus,
		OnFreeze:         d.freeze,
		OnZoom:           d.zoom,
		OnResume:         d.resume,
		OnSetSensitivity: d.setSensitivity,
		OnSetParams:      d.controller.SetParams,
		OnResetParams:    d.controller.ResetParams,
		OnShutdown:       d.shutdownViaControl,
	}
}

func (d *Dentar) getStatus() map[string]any {
	d.mu.RLock()
	uptime := time.Since(d.started)
	running := d.isRunning
	d.mu.RUnlock()

	lo, hi := d.sens.Range()
	status := map[string]any{
		"instance_id":     d.cfg.InstanceID,
		"uptime_s":        uptime.Seconds(),
		"running":         running,
		"fit":             d.controller.Status(),
		"stream":          d.source.Stats(),
		"camera":          d.rig.Active().Projection.String(),
		"scene":           d.anchor.Snapshot(),
		"sensitivity_min": lo,
		"sensitivity_max": hi,
	}
	if d.emitter != nil {
		status["mqtt"] = d.emitter.Stats()
	}
	if d.poseSink != nil {
		status["pose_sink"] = d.poseSink.Stats()
	}
	if e, ok := d.engines.Landmarks.(interface{ Stats() inference.EngineStats }); ok {
		status["engine"] = e.Stats()
	}
	return status
}

func (d *Dentar) freeze() ([3]float64, error) {
	pos, err := d.controller.Freeze()
	if err != nil {
		return [3]float64{}, err
	}
	return [3]float64(pos), nil
}

func (d *Dentar) zoom(level float64, dur time.Duration, center [3]float64) error {
	return d.controller.Zoom(level, dur, mgl64.Vec3(center))
}

// resume restarts tracking after a freeze.
func (d *Dentar) resume() error {
	d.mu.RLock()
	ctx := d.runCtx
	d.mu.RUnlock()
	if ctx == nil {
		return errors.New("service is not running")
	}
	return d.startTracking(ctx)
}

func (d *Dentar) setSensitivity(v float64) (float64, error) {
	got := d.sens.Set(v)
	slog.Info("sensitivity updated", "requested", v, "applied", got)
	return got, nil
}

func (d *Dentar) shutdownViaControl() error {
	d.mu.RLock()
	cancel := d.cancelCtx
	d.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
