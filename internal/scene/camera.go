package scene

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Projection selects the camera model.
type Projection int

const (
	Orthographic Projection = iota
	Perspective
)

func (p Projection) String() string {
	switch p {
	case Orthographic:
		return "orthographic"
	case Perspective:
		return "perspective"
	default:
		return "unknown"
	}
}

// Camera is a projection plus a transform node the tweener can drive.
type Camera struct {
	*Node

	Projection Projection
	FOVDeg     float64
	Aspect     float64

	// Orthographic frustum, world units.
	Left, Right, Top, Bottom float64
	Zoom                     float64
}

// NewOrthographic builds the default camera: a frustum of the given height
// centred on the origin, pushed back to z.
func NewOrthographic(frustumHeight, aspect, z float64) *Camera {
	half := frustumHeight / 2
	c := &Camera{
		Node:       NewNode("ortho-camera"),
		Projection: Orthographic,
		Aspect:     aspect,
		Left:       -half * aspect,
		Right:      half * aspect,
		Top:        half,
		Bottom:     -half,
		Zoom:       1,
	}
	c.SetPosition(mgl64.Vec3{0, 0, z})
	return c
}

// NewPerspective builds a perspective camera at the origin.
func NewPerspective(fovDeg, aspect float64) *Camera {
	return &Camera{
		Node:       NewNode("perspective-camera"),
		Projection: Perspective,
		FOVDeg:     fovDeg,
		Aspect:     aspect,
		Zoom:       1,
	}
}

// VisibleHeight is the world-space height the orthographic frustum shows.
func (c *Camera) VisibleHeight() float64 {
	zoom := c.Zoom
	if zoom == 0 {
		zoom = 1
	}
	return (c.Top - c.Bottom) / zoom
}

// MatchCutDistance is the distance at which a perspective camera with the
// given fov frames roughly the same height as an orthographic view.
func MatchCutDistance(orthoHeight, fovDeg float64) float64 {
	return orthoHeight / (2 * math.Atan(fovDeg*math.Pi/360))
}

// Rig tracks which camera is active. Switching is one-way per session: the
// zoom choreography replaces the orthographic camera with a perspective one.
type Rig struct {
	mu     sync.RWMutex
	ortho  *Camera
	active *Camera
}

// NewRig starts with the orthographic camera active.
func NewRig(ortho *Camera) *Rig {
	return &Rig{ortho: ortho, active: ortho}
}

func (r *Rig) Ortho() *Camera {
	return r.ortho
}

func (r *Rig) Active() *Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Rig) SetActive(c *Camera) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.active = c
	r.mu.Unlock()
}

// SwitchToPerspective places a new perspective camera at the match-cut
// distance in front of the current orthographic view and makes it active.
func (r *Rig) SwitchToPerspective(fovDeg float64) *Camera {
	o := r.ortho
	cam := NewPerspective(fovDeg, o.Aspect)
	pos := o.Position()
	dist := MatchCutDistance(o.VisibleHeight(), fovDeg)
	cam.SetPosition(mgl64.Vec3{pos[0], pos[1], dist})
	r.SetActive(cam)
	return cam
}
