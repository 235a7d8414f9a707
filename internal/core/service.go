// Package core wires the camera, inference engines, fit controller and the
// MQTT surfaces into the dentar service.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/control"
	"github.com/e7canasta/dentar/internal/emitter"
	"github.com/e7canasta/dentar/internal/fit"
	"github.com/e7canasta/dentar/internal/inference"
	"github.com/e7canasta/dentar/internal/recorder"
	"github.com/e7canasta/dentar/internal/scene"
	"github.com/e7canasta/dentar/internal/sensitivity"
	"github.com/e7canasta/dentar/internal/stream"
)

// healthInterval is how often health is published over MQTT.
const healthInterval = 10 * time.Second

// Option customizes service construction.
type Option func(*options)

type options struct {
	engines *inference.Engines
	source  stream.Source
}

// WithEngines replaces the configured inference backend.
func WithEngines(e inference.Engines) Option {
	return func(o *options) { o.engines = &e }
}

// WithSource replaces the configured camera.
func WithSource(s stream.Source) Option {
	return func(o *options) { o.source = s }
}

// Dentar is the main service orchestrator
type Dentar struct {
	cfg     *config.Config
	cfgPath string

	// Core components
	sens       *sensitivity.Store
	anchor     *scene.Anchor
	rig        *scene.Rig
	source     stream.Source
	engines    inference.Engines
	controller *fit.Controller
	emitter    *emitter.MQTTEmitter
	poseSink   *emitter.PoseSink
	recorder   *recorder.Writer
	control    *control.Handler
	httpServer *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context
	cancelCtx context.CancelFunc
}

// NewDentar loads the configuration at configPath and builds the service.
func NewDentar(configPath string, opts ...Option) (*Dentar, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("configuration loaded", "instance_id", cfg.InstanceID, "path", configPath)
	return New(cfg, configPath, opts...)
}

// New builds the service from a validated configuration. configPath may be
// empty, which disables hot reload.
func New(cfg *config.Config, configPath string, opts ...Option) (*Dentar, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	sens, err := sensitivity.New(cfg.Sensitivity.Default, cfg.Sensitivity.Min, cfg.Sensitivity.Max)
	if err != nil {
		return nil, err
	}

	d := &Dentar{
		cfg:     cfg,
		cfgPath: configPath,
		sens:    sens,
		source:  o.source,
	}
	d.anchor, d.rig = buildScene(cfg)

	if d.source == nil {
		if d.source, err = buildSource(cfg.Camera); err != nil {
			return nil, fmt.Errorf("failed to create camera source: %w", err)
		}
	}

	var engines inference.Engines
	if o.engines != nil {
		engines = *o.engines
	} else if engines, err = buildEngines(cfg.Models, cfg.InstanceID); err != nil {
		return nil, err
	}
	d.engines = engines

	var sinks []fit.Sink
	if cfg.MQTT.Enabled {
		d.emitter = emitter.NewMQTTEmitter(cfg.MQTT, cfg.InstanceID)
		d.poseSink = emitter.NewPoseSink(d.emitter, cfg.InstanceID, cfg.MQTT.Topics.Pose, d.emitter.QoS("pose"), 16)
		sinks = append(sinks, d.poseSink)
	}

	var viewport fit.Viewport
	if cfg.Viewport.Marker {
		viewport = fit.Viewport{
			Width:    cfg.Viewport.Width,
			Height:   cfg.Viewport.Height,
			HalfSize: cfg.Viewport.MarkerHalfSize,
		}
	}

	d.controller, err = fit.New(fit.Options{
		Engines:       engines,
		Source:        d.source,
		Scene:         d.anchor,
		Rig:           d.rig,
		Sensitivity:   sens,
		Params:        fit.ParamsFromConfig(cfg.Fit),
		Zoom:          cfg.Zoom,
		Viewport:      viewport,
		Sinks:         sinks,
		FrameInterval: cfg.Fit.FrameInterval(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fit controller: %w", err)
	}

	if cfg.Recorder.Enabled {
		d.recorder, err = recorder.Create(cfg.Recorder.Path, recorder.Header{
			SessionID:  d.controller.SessionID(),
			InstanceID: cfg.InstanceID,
			Params:     d.controller.Params(),
		})
		if err != nil {
			return nil, err
		}
		d.controller.AddSink(d.recorder)
	}

	return d, nil
}

// Controller exposes the fit controller.
func (d *Dentar) Controller() *fit.Controller {
	return d.controller
}

// Run starts the service and blocks until ctx is cancelled or a shutdown
// command arrives.
func (d *Dentar) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	d.isRunning = true
	d.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	d.runCtx = ctx
	d.cancelCtx = cancel
	d.mu.Unlock()
	defer cancel()

	slog.Info("dentar service starting", "instance_id", d.cfg.InstanceID)

	// Engines load while the camera opens.
	preloadErr := make(chan error, 1)
	go func() { preloadErr <- d.controller.Preload(ctx) }()

	if err := d.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}

	if d.emitter != nil {
		if err := d.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		d.control = control.NewHandler(d.cfg.MQTT, d.emitter.Client, d.emitter, d.callbacks())
		if err := d.control.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.publishHealth(ctx)
		}()
	}

	if d.cfg.Fit.HotReload && d.cfgPath != "" {
		if err := d.watchConfig(ctx); err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		}
	}

	if err := <-preloadErr; err != nil {
		return err
	}
	if err := d.startTracking(ctx); err != nil {
		return err
	}

	slog.Info("dentar service running", "session_id", d.controller.SessionID())

	<-ctx.Done()

	slog.Info("dentar service run loop exiting")
	return nil
}

// startTracking waits for the camera within the configured budget and
// starts the fit loop.
func (d *Dentar) startTracking(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, d.cfg.Camera.ReadyTimeout())
	defer cancel()
	if err := d.controller.Init(readyCtx); err != nil {
		return fmt.Errorf("failed to start tracking: %w", err)
	}
	return nil
}

// Shutdown performs graceful shutdown of all components
func (d *Dentar) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	cancel := d.cancelCtx
	d.mu.Unlock()

	slog.Info("shutting down dentar service")
	if cancel != nil {
		cancel()
	}

	// 1. Stop the fit loop FIRST (it reads camera frames)
	if err := d.controller.Stop(); err != nil {
		slog.Error("failed to stop fit controller", "error", err)
	}

	// 2. Stop camera
	if err := d.source.Stop(); err != nil {
		slog.Error("failed to stop camera", "error", err)
	}

	// 3. Stop control plane and flush sinks
	if d.control != nil {
		if err := d.control.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}
	if d.poseSink != nil {
		d.poseSink.Close()
	}
	if d.recorder != nil {
		if err := d.recorder.Close(); err != nil {
			slog.Error("failed to close recorder", "error", err)
		}
	}

	// 4. Wait for goroutines to finish
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for goroutines")
	}

	// 5. Disconnect MQTT and the health endpoint
	if d.emitter != nil {
		if err := d.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}

	slog.Info("dentar service shutdown complete", "uptime", time.Since(d.started))
	return nil
}

// HealthAddr returns the configured health endpoint address.
func (d *Dentar) HealthAddr() string {
	return d.cfg.Health.Addr
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (d *Dentar) ShutdownTimeout() time.Duration {
	if t := d.cfg.ShutdownTimeout(); t > 0 {
		return t
	}
	return 5 * time.Second
}

func (d *Dentar) publishHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := healthJSON(d.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health", "error", err)
				continue
			}
			if err := d.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health publish failed", "error", err)
			}
		}
	}
}
