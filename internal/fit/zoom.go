package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/scene"
	"github.com/e7canasta/dentar/internal/tween"
)

// Animated property keys. A new zoom preempts whatever is in flight on the
// same key.
const (
	keyPivotPosition  = "pivot.position"
	keyPivotScale     = "pivot.scale"
	keyCameraPosition = "camera.position"
	keyCameraRotation = "camera.rotation"
)

// ZoomDirector animates the pivot (and optionally the camera) after a
// freeze.
type ZoomDirector struct {
	cfg   config.ZoomConfig
	pivot scene.Pivot
	rig   *scene.Rig
	tw    *tween.Tweener

	mu      sync.Mutex
	ctx     context.Context // driver context, nil until start
	cancel  context.CancelFunc
	stopped bool
}

// NewZoomDirector wires a director to the pivot. rig may be nil when the
// camera never switches.
func NewZoomDirector(cfg config.ZoomConfig, pivot scene.Pivot, rig *scene.Rig, tw *tween.Tweener) *ZoomDirector {
	if tw == nil {
		tw = tween.New()
	}
	return &ZoomDirector{cfg: cfg, pivot: pivot, rig: rig, tw: tw}
}

// Tweener exposes the animation driver.
func (z *ZoomDirector) Tweener() *tween.Tweener {
	return z.tw
}

// start drives the tweener at display rate until stop. It is a no-op once
// the driver runs or after stop.
func (z *ZoomDirector) start(interval time.Duration) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.stopped || z.cancel != nil {
		return
	}
	z.ctx, z.cancel = context.WithCancel(context.Background())
	go z.tw.Run(z.ctx, interval)
}

// stop cancels every animation and the driver. The director cannot be
// restarted.
func (z *ZoomDirector) stop() {
	z.mu.Lock()
	z.stopped = true
	cancel := z.cancel
	z.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	z.tw.CancelAll()
}

// Zoom scales the pivot by level over d. Without a camera switch the pivot
// also glides to (0, lift·finalScale, z). With a camera switch a perspective
// camera takes over at the match-cut distance, approaches the model and then
// flies into the mouth. center is the frozen pivot position and is only
// reported in logs: the targets are fixed by the choreography.
func (z *ZoomDirector) Zoom(level float64, d time.Duration, center mgl64.Vec3) error {
	if !(level > 0) || math.IsInf(level, 0) {
		return fmt.Errorf("fit: zoom level must be positive and finite, got %v", level)
	}
	if d < 0 {
		return fmt.Errorf("fit: zoom duration must be >= 0, got %v", d)
	}

	fromScale := z.pivot.Scale()
	finalScale := fromScale * level

	z.tw.Animate(keyPivotScale, d, tween.Power2InOut,
		tween.Scalar(fromScale, finalScale, z.pivot.SetScale), nil)

	if z.cfg.CameraSwitch && z.rig != nil {
		z.switchCamera(d, finalScale)
	} else {
		from := z.pivot.Position()
		to := mgl64.Vec3{0, z.cfg.PivotLift * finalScale, from[2]}
		z.tw.Animate(keyPivotPosition, d, tween.Power2InOut,
			tween.Vec3(from, to, z.pivot.SetPosition), nil)
	}

	slog.Info("fit: zoom started",
		"level", level,
		"duration", d,
		"final_scale", finalScale,
		"camera_switch", z.cfg.CameraSwitch && z.rig != nil,
		"center", []float64{center[0], center[1], center[2]},
	)
	return nil
}

func (z *ZoomDirector) switchCamera(d time.Duration, finalScale float64) {
	cam := z.rig.SwitchToPerspective(z.cfg.FOVDeg)
	from := cam.Position()
	to := mgl64.Vec3{0, -z.cfg.ApproachDrop * finalScale, from[2] * z.cfg.ApproachRatio}

	z.tw.Animate(keyCameraPosition, d, tween.Power2InOut,
		tween.Vec3(from, to, cam.SetPosition),
		func() { z.intoMouth(cam) })
}

// intoMouth pushes the camera behind the teeth while tilting it down.
func (z *ZoomDirector) intoMouth(cam *scene.Camera) {
	d := time.Duration(z.cfg.IntoMouthDurationS * float64(time.Second))

	pos := cam.Position()
	z.tw.Animate(keyCameraPosition, d, tween.Power1In,
		tween.Vec3(pos, mgl64.Vec3{pos[0], pos[1], z.cfg.IntoMouthZ}, cam.SetPosition), nil)

	rot := cam.Rotation()
	z.tw.Animate(keyCameraRotation, d, tween.Power1In,
		tween.Scalar(rot[0], -math.Pi*z.cfg.IntoMouthTilt, cam.SetRotationX), nil)

	slog.Debug("fit: camera entering mouth", "target_z", z.cfg.IntoMouthZ, "duration", d)
}
