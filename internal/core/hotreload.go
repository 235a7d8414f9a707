package core

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/fit"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// watchConfig reloads the fit section whenever the config file changes.
// The directory is watched so atomic renames by editors are seen too.
func (d *Dentar) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	path := filepath.Clean(d.cfgPath)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	slog.Info("config hot reload enabled", "path", path)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer watcher.Close()

		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				debounce = time.After(reloadDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-debounce:
				debounce = nil
				if err := d.reloadFit(); err != nil {
					slog.Warn("config reload rejected, keeping previous fit settings", "error", err)
				}
			}
		}
	}()
	return nil
}

// reloadFit re-reads the config file and applies its fit section. Other
// sections need a restart and are ignored.
func (d *Dentar) reloadFit() error {
	cfg, err := config.Load(d.cfgPath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	old := d.cfg.Fit
	d.cfg.Fit = cfg.Fit
	d.mu.Unlock()

	changes := fitChanges(old, cfg.Fit)
	if len(changes) == 0 {
		slog.Debug("config changed outside the fit section, nothing to apply")
		return nil
	}
	if err := d.controller.ReloadParams(fit.ParamsFromConfig(cfg.Fit)); err != nil {
		return err
	}

	for _, change := range changes {
		slog.Info("config changed", "change", change)
	}
	slog.Info("config update applied", "changes_count", len(changes))
	return nil
}

func fitChanges(old, cur config.FitConfig) []string {
	fields := []struct {
		name     string
		old, cur float64
	}{
		{"offset_x", old.OffsetX, cur.OffsetX},
		{"offset_y", old.OffsetY, cur.OffsetY},
		{"offset_z", old.OffsetZ, cur.OffsetZ},
		{"screen_scale_x", old.ScreenScaleX, cur.ScreenScaleX},
		{"screen_scale_y", old.ScreenScaleY, cur.ScreenScaleY},
		{"depth_lift_y", old.DepthLiftY, cur.DepthLiftY},
		{"smoothing", old.Smoothing, cur.Smoothing},
		{"openness_threshold", old.OpennessThreshold, cur.OpennessThreshold},
		{"max_jaw_rotation_deg", old.MaxJawRotationDeg, cur.MaxJawRotationDeg},
		{"jaw_rest_offset", old.JawRestOffset, cur.JawRestOffset},
		{"max_yaw_deg", old.MaxYawDeg, cur.MaxYawDeg},
		{"max_pitch_deg", old.MaxPitchDeg, cur.MaxPitchDeg},
		{"rotation_normalization", old.RotationNormalization, cur.RotationNormalization},
		{"sensitivity_divisor", old.SensitivityDivisor, cur.SensitivityDivisor},
	}

	var changes []string
	for _, f := range fields {
		if f.old != f.cur {
			changes = append(changes, fmt.Sprintf("fit.%s: %v → %v", f.name, f.old, f.cur))
		}
	}
	if old.FrameIntervalMS != cur.FrameIntervalMS {
		slog.Warn("fit.frame_interval_ms change requires restart",
			"old", old.FrameIntervalMS, "new", cur.FrameIntervalMS)
	}
	return changes
}
