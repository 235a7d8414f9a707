// Package fit fits the dental model to a tracked face.
//
// The Controller owns the inference engines and the per-frame loop:
// every tick it takes the newest video frame, runs landmark detection and
// segmentation in series, and writes the derived transform onto the scene
// anchor. A failed frame hides the model and the loop simply tries again on
// the next tick.
//
// Lifecycle: Unloaded → Loading → Loaded → Running → Stopped. Freeze moves
// Running back to Loaded; Stop is terminal.
package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/inference"
	"github.com/e7canasta/dentar/internal/scene"
	"github.com/e7canasta/dentar/internal/stream"
	"github.com/e7canasta/dentar/internal/tween"
	"github.com/e7canasta/dentar/internal/types"
)

var (
	// ErrStopped is returned by every operation after Stop.
	ErrStopped = errors.New("fit: controller stopped")
	// ErrNotLoaded is returned when the loop is started before Preload.
	ErrNotLoaded = errors.New("fit: engines not loaded")
)

// haltTimeout bounds how long Freeze and Stop wait for an in-flight frame.
const haltTimeout = 2 * time.Second

// State is the controller lifecycle stage.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SensitivitySource supplies the depth sensitivity, read once per frame.
type SensitivitySource interface {
	Value() float64
}

// Options wires a Controller. Engines.Landmarks, Source, Scene and
// Sensitivity are required.
type Options struct {
	Engines     inference.Engines
	Source      stream.Source
	Scene       *scene.Anchor
	Rig         *scene.Rig
	Sensitivity SensitivitySource
	Params      Params
	Zoom        config.ZoomConfig
	Viewport    Viewport
	Overlay     Overlay
	Sinks       []Sink
	Tweener     *tween.Tweener

	// FrameInterval is the loop tick; defaults to 16ms.
	FrameInterval time.Duration
}

// Controller runs the face fit for one tracked face. It is single-use.
type Controller struct {
	id       string
	engines  inference.Engines
	source   stream.Source
	scene    *scene.Anchor
	sens     SensitivitySource
	viewport Viewport
	overlay  Overlay
	sinks    []Sink
	zoom     *ZoomDirector
	interval time.Duration
	epoch    time.Time

	state   atomic.Int32
	running atomic.Bool
	preload singleflight.Group
	lastSeq atomic.Uint64

	// mu serializes scene writes between the loop and the control surface.
	mu         sync.Mutex
	params     Params
	defaults   Params
	last       *types.Landmarks
	videoW     int
	videoH     int
	masks      maskSlot
	calibrated bool
	frozen     bool

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	loads    atomic.Uint64
	frames   atomic.Uint64
	misses   atomic.Uint64
	failures atomic.Uint64
	stopOnce sync.Once
}

// New validates opts and builds an Unloaded controller.
func New(opts Options) (*Controller, error) {
	if opts.Engines.Landmarks == nil {
		return nil, fmt.Errorf("fit: landmark engine is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("fit: video source is required")
	}
	if opts.Scene == nil {
		return nil, fmt.Errorf("fit: scene anchor is required")
	}
	if opts.Sensitivity == nil {
		return nil, fmt.Errorf("fit: sensitivity source is required")
	}
	if opts.Params == (Params{}) {
		opts.Params = DefaultParams()
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 16 * time.Millisecond
	}

	c := &Controller{
		id:       uuid.New().String(),
		engines:  opts.Engines,
		source:   opts.Source,
		scene:    opts.Scene,
		sens:     opts.Sensitivity,
		viewport: opts.Viewport,
		overlay:  opts.Overlay,
		sinks:    opts.Sinks,
		interval: opts.FrameInterval,
		epoch:    time.Now(),
		params:   opts.Params,
		defaults: opts.Params,
	}
	c.zoom = NewZoomDirector(opts.Zoom, opts.Scene.Pivot(), opts.Rig, opts.Tweener)

	slog.Info("fit: controller created",
		"session_id", c.id,
		"segmenter", opts.Engines.Segmenter != nil,
		"frame_interval", c.interval,
		"smoothing", opts.Params.Smoothing,
	)
	return c, nil
}

// SessionID identifies this controller in logs and emitted poses.
func (c *Controller) SessionID() string {
	return c.id
}

// AddSink registers another observer of handled frames.
func (c *Controller) AddSink(s Sink) {
	c.mu.Lock()
	c.sinks = append(c.sinks[:len(c.sinks):len(c.sinks)], s)
	c.mu.Unlock()
}

// State returns the lifecycle stage.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Preload initializes the engines and runs a warm-up pass. Concurrent calls
// share one initialization; calls after success return immediately. A
// failure returns the controller to Unloaded so a later call can retry.
func (c *Controller) Preload(ctx context.Context) error {
	switch c.State() {
	case StateStopped:
		return ErrStopped
	case StateLoaded, StateRunning:
		return nil
	}

	_, err, shared := c.preload.Do("preload", func() (any, error) {
		return nil, c.load(ctx)
	})
	if shared {
		slog.Debug("fit: preload coalesced", "session_id", c.id)
	}
	return err
}

func (c *Controller) load(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUnloaded), int32(StateLoading)) {
		// A previous flight finished between the state check and Do.
		if c.State() == StateStopped {
			return ErrStopped
		}
		return nil
	}

	start := time.Now()
	slog.Info("fit: loading engines", "session_id", c.id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.engines.Landmarks.Load(gctx); err != nil {
			return fmt.Errorf("landmarker: %w", err)
		}
		return nil
	})
	if seg := c.engines.Segmenter; seg != nil {
		g.Go(func() error {
			if err := seg.Load(gctx); err != nil {
				return fmt.Errorf("segmenter: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.state.CompareAndSwap(int32(StateLoading), int32(StateUnloaded))
		slog.Error("fit: preload failed", "session_id", c.id, "error", err)
		return fmt.Errorf("fit: preload: %w", err)
	}
	c.loads.Add(1)

	c.warmUp(ctx)

	if !c.state.CompareAndSwap(int32(StateLoading), int32(StateLoaded)) {
		return ErrStopped
	}
	slog.Info("fit: engines loaded", "session_id", c.id, "duration", time.Since(start))
	return nil
}

// warmUp pushes a 1x1 frame through both engines. Failures only warn.
func (c *Controller) warmUp(ctx context.Context) {
	frame := types.WarmupFrame()

	if _, err := c.engines.Landmarks.Detect(ctx, &frame, 0); err != nil {
		slog.Warn("fit: warm-up detect failed", "session_id", c.id, "error", err)
	}
	if seg := c.engines.Segmenter; seg != nil {
		m, err := seg.Segment(ctx, &frame, 0)
		if err != nil {
			slog.Warn("fit: warm-up segment failed", "session_id", c.id, "error", err)
		}
		inference.Release(m)
	}
}

// Init preloads if needed, waits for the video source and starts the loop.
// It also resumes a frozen controller.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.Preload(ctx); err != nil {
		return err
	}
	if err := c.source.WaitReady(ctx); err != nil {
		return fmt.Errorf("fit: wait for video: %w", err)
	}

	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if !c.state.CompareAndSwap(int32(StateLoaded), int32(StateRunning)) {
		switch c.State() {
		case StateRunning:
			return nil
		case StateStopped:
			return ErrStopped
		default:
			return ErrNotLoaded
		}
	}

	c.mu.Lock()
	c.frozen = false
	c.mu.Unlock()
	c.running.Store(true)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	go c.loop(loopCtx, done)

	slog.Info("fit: tracking started", "session_id", c.id, "frame_interval", c.interval)
	return nil
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if !c.running.Load() || ctx.Err() != nil {
			return
		}
		c.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one detect → segment → write-back round.
func (c *Controller) tick(ctx context.Context) {
	if !c.running.Load() {
		return
	}

	frame, err := c.source.Latest()
	if err != nil {
		c.fail(err)
		return
	}
	if frame.Seq == c.lastSeq.Load() {
		return
	}
	c.lastSeq.Store(frame.Seq)

	ts := time.Since(c.epoch)
	det, err := c.engines.Landmarks.Detect(ctx, frame, ts)
	if err != nil {
		c.fail(fmt.Errorf("detect: %w", err))
		return
	}

	var mask inference.Mask
	if seg := c.engines.Segmenter; seg != nil {
		mask, err = seg.Segment(ctx, frame, ts)
		if err != nil {
			c.fail(fmt.Errorf("segment: %w", err))
			return
		}
	}

	c.handleResult(frame, det, mask)
}

// fail hides the model for this frame; the loop keeps going.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() {
		return
	}
	c.failures.Add(1)
	c.scene.SetModelVisible(false)
	c.calibrated = false
	slog.Warn("fit: frame failed", "session_id", c.id, "error", err)
}

// handleResult applies one inference round unless the loop was halted while
// it was in flight, in which case the result is discarded.
func (c *Controller) handleResult(frame *types.Frame, det types.Detection, mask inference.Mask) {
	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		inference.Release(mask)
		slog.Debug("fit: result discarded after halt", "session_id", c.id, "frame_seq", frame.Seq)
		return
	}
	res := c.applyLocked(frame, det, mask)
	sinks := c.sinks
	c.mu.Unlock()

	for _, s := range sinks {
		s.Observe(res)
	}
}

func (c *Controller) applyLocked(frame *types.Frame, det types.Detection, mask inference.Mask) Result {
	res := Result{
		SessionID:   c.id,
		FrameSeq:    frame.Seq,
		TraceID:     frame.TraceID,
		CapturedAt:  frame.Timestamp,
		InferenceTS: det.Timestamp,
		Latency:     det.Latency,
		VideoWidth:  frame.Width,
		VideoHeight: frame.Height,
	}

	if !det.Found() || !c.scene.Ready() {
		c.scene.SetModelVisible(false)
		c.calibrated = false
		inference.Release(mask)
		c.misses.Add(1)
		return res
	}

	c.frames.Add(1)
	c.scene.SetModelVisible(true)
	c.last = det.Landmarks
	c.videoW, c.videoH = frame.Width, frame.Height
	c.masks.swap(mask)

	res.Found = true
	res.Landmarks = det.Landmarks
	res.Sensitivity = c.sens.Value()
	res.Pose = c.placeLocked(det.Landmarks, res.Sensitivity)
	c.calibrated = true

	slog.Debug("fit: frame fitted",
		"session_id", c.id,
		"frame_seq", frame.Seq,
		"openness", res.Pose.Openness,
		"depth", res.Pose.Depth,
	)
	return res
}

// placeLocked writes the placement for lm onto the scene.
func (c *Controller) placeLocked(lm *types.Landmarks, sensitivity float64) Pose {
	p := c.params
	pl := Compute(lm, p, sensitivity)

	pivot := c.scene.Pivot()
	gimbal := c.scene.Gimbal()
	k := p.Smoothing

	if pl.DepthValid {
		pivot.SetPosition(smoothVec(pivot.Position(), pl.Position, k))
		pivot.SetScale(smooth(pivot.Scale(), pl.Depth, k))
	}

	rot := gimbal.Rotation()
	gimbal.SetRotation(mgl64.Vec3{smooth(rot[0], pl.Pitch, k), smooth(rot[1], pl.Yaw, k), 0})

	pos := pivot.Position()
	rot = gimbal.Rotation()
	pose := Pose{
		Openness:     pl.Openness,
		Depth:        pl.Depth,
		DepthApplied: pl.DepthValid,
		Position:     [3]float64{pos[0], pos[1], pos[2]},
		Scale:        pivot.Scale(),
		Yaw:          rot[1],
		Pitch:        rot[0],
	}
	if jaw := c.scene.JawBone(); jaw != nil {
		jaw.SetRotationX(smooth(jaw.Rotation()[0], pl.JawRotationX, k))
		pose.Jaw = jaw.Rotation()[0]
	}

	if left, top, ok := MarkerPosition(lm.At(types.LipUpperCenter), c.videoW, c.videoH, c.viewport); ok {
		pose.Marker = &MarkerPixel{Left: left, Top: top}
		if c.overlay != nil {
			c.overlay.MoveMarker(left, top)
		}
	}
	return pose
}

// replayLocked re-applies the last landmarks while the loop is halted, so
// tuning changes are visible on a frozen frame.
func (c *Controller) replayLocked() {
	if c.running.Load() || c.last == nil || !c.scene.Ready() {
		return
	}
	c.placeLocked(c.last, c.sens.Value())
	slog.Debug("fit: replayed last landmarks", "session_id", c.id)
}

// haltLoop cancels the loop and waits for an in-flight frame to finish.
func (c *Controller) haltLoop() {
	c.loopMu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.loopCancel, c.loopDone = nil, nil
	c.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(haltTimeout):
		slog.Warn("fit: frame still in flight after halt timeout, result will be discarded", "session_id", c.id)
	}
}

// Freeze halts the loop and returns the pivot's world position at that
// moment. Tuning changes made while frozen replay the last landmarks.
func (c *Controller) Freeze() (mgl64.Vec3, error) {
	if c.State() == StateStopped {
		return mgl64.Vec3{}, ErrStopped
	}

	c.mu.Lock()
	c.running.Store(false)
	c.frozen = true
	c.state.CompareAndSwap(int32(StateRunning), int32(StateLoaded))
	c.mu.Unlock()

	c.haltLoop()

	pivot := c.scene.Pivot()
	pivot.UpdateWorldMatrix(false)
	pos := pivot.WorldPosition()

	slog.Info("fit: frozen", "session_id", c.id, "world_position", []float64{pos[0], pos[1], pos[2]})
	return pos, nil
}

// Zoom animates the pivot toward level times its scale over d. A new zoom
// preempts one in flight.
func (c *Controller) Zoom(level float64, d time.Duration, center mgl64.Vec3) error {
	if c.State() == StateStopped {
		return ErrStopped
	}
	c.zoom.start(c.interval)
	return c.zoom.Zoom(level, d, center)
}

// SetParams merges a tuning update and replays it when frozen.
func (c *Controller) SetParams(t Tuning) (Params, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateStopped {
		return c.params, ErrStopped
	}
	p, err := t.Apply(c.params)
	if err != nil {
		return c.params, err
	}
	c.params = p
	c.replayLocked()
	slog.Info("fit: params updated", "session_id", c.id, "params", p)
	return p, nil
}

// ResetParams restores the tunable parameters to their configured values.
func (c *Controller) ResetParams() (Params, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateStopped {
		return c.params, ErrStopped
	}
	p, _ := TuningOf(c.defaults).Apply(c.params)
	c.params = p
	c.replayLocked()
	slog.Info("fit: params reset", "session_id", c.id)
	return p, nil
}

// ReloadParams replaces the full parameter set and the reset baseline, as
// done when the config file changes.
func (c *Controller) ReloadParams(p Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateStopped {
		return ErrStopped
	}
	c.params = p
	c.defaults = p
	c.replayLocked()
	slog.Info("fit: params reloaded", "session_id", c.id)
	return nil
}

// Params returns the active parameters.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Stop ends the session: the loop is cancelled, the mask and engines are
// released once and later frame callbacks become no-ops.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.running.Store(false)
		prev := State(c.state.Swap(int32(StateStopped)))
		c.mu.Unlock()

		c.haltLoop()
		c.zoom.stop()

		c.mu.Lock()
		c.masks.release()
		c.last = nil
		c.mu.Unlock()

		closeQuietly("landmarker", c.engines.Landmarks)
		if c.engines.Segmenter != nil {
			closeQuietly("segmenter", c.engines.Segmenter)
		}
		if c.overlay != nil {
			c.overlay.Remove()
		}

		slog.Info("fit: controller stopped",
			"session_id", c.id,
			"previous_state", prev.String(),
			"frames", c.frames.Load(),
			"misses", c.misses.Load(),
			"failures", c.failures.Load(),
		)
	})
	return nil
}

func closeQuietly(name string, e inference.Engine) {
	if err := e.Close(); err != nil {
		slog.Debug("fit: engine close failed (ignored)", "engine", name, "error", err)
	}
}

// Status is a point-in-time view for health and control replies.
type Status struct {
	SessionID   string  `json:"session_id"`
	State       string  `json:"state"`
	Frozen      bool    `json:"frozen"`
	Calibrated  bool    `json:"calibrated"`
	MaskHeld    bool    `json:"mask_held"`
	Loads       uint64  `json:"loads"`
	Frames      uint64  `json:"frames"`
	Misses      uint64  `json:"misses"`
	Failures    uint64  `json:"failures"`
	Sensitivity float64 `json:"sensitivity"`
	Params      Params  `json:"params"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		SessionID:   c.id,
		State:       c.State().String(),
		Frozen:      c.frozen,
		Calibrated:  c.calibrated,
		MaskHeld:    c.masks.held(),
		Loads:       c.loads.Load(),
		Frames:      c.frames.Load(),
		Misses:      c.misses.Load(),
		Failures:    c.failures.Load(),
		Sensitivity: c.sens.Value(),
		Params:      c.params,
	}
}
