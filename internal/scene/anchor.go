package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Pivot carries world position and uniform depth scale. It never rotates.
type Pivot struct {
	node *Node
}

func (p Pivot) Node() *Node                 { return p.node }
func (p Pivot) Position() mgl64.Vec3        { return p.node.Position() }
func (p Pivot) SetPosition(pos mgl64.Vec3)  { p.node.SetPosition(pos) }
func (p Pivot) Scale() float64              { return p.node.Scale()[0] }
func (p Pivot) SetScale(s float64)          { p.node.SetScale(mgl64.Vec3{s, s, s}) }
func (p Pivot) WorldPosition() mgl64.Vec3   { return p.node.WorldPosition() }
func (p Pivot) UpdateWorldMatrix(deep bool) { p.node.UpdateWorldMatrix(true, deep) }

// Gimbal carries head yaw and pitch. It never translates or scales.
type Gimbal struct {
	node *Node
}

func (g Gimbal) Node() *Node              { return g.node }
func (g Gimbal) Rotation() mgl64.Vec3     { return g.node.Rotation() }
func (g Gimbal) SetRotation(r mgl64.Vec3) { g.node.SetRotation(r) }

// Box is an axis-aligned bounding box in model space.
type Box struct {
	Min, Max mgl64.Vec3
}

// Center returns the box midpoint.
func (b Box) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// ModelOffset places the model so its horizontal center, top and front face
// sit on the anchor origin.
func ModelOffset(b Box) mgl64.Vec3 {
	c := b.Center()
	return mgl64.Vec3{-c[0], -b.Max[1], -b.Max[2]}
}

// Anchor is the Pivot → Gimbal → {Model, Marker} hierarchy plus the jaw bone
// inside the model. The model arrives asynchronously from the asset loader,
// so Model and JawBone may be nil until AttachModel runs.
type Anchor struct {
	mu sync.RWMutex

	pivot  Pivot
	gimbal Gimbal
	marker *Node
	model  *Node
	jaw    *Node
}

// NewAnchor builds the empty hierarchy. The marker starts hidden.
func NewAnchor() *Anchor {
	pivot := NewNode("pivot")
	gimbal := NewNode("anchor")
	marker := NewNode("marker")
	marker.SetVisible(false)

	pivot.Add(gimbal)
	gimbal.Add(marker)

	return &Anchor{
		pivot:  Pivot{node: pivot},
		gimbal: Gimbal{node: gimbal},
		marker: marker,
	}
}

// AttachModel hangs model under the gimbal with its static local offset and
// uniform scale. jaw may be nil for models without a rigged jaw.
func (a *Anchor) AttachModel(model, jaw *Node, bounds Box, scale float64) {
	if model == nil {
		return
	}
	model.SetPosition(ModelOffset(bounds).Mul(scale))
	model.SetScale(mgl64.Vec3{scale, scale, scale})
	model.SetVisible(false)
	a.gimbal.node.Add(model)

	a.mu.Lock()
	a.model = model
	a.jaw = jaw
	a.mu.Unlock()
}

// Ready reports whether a model is attached. The jaw bone is optional.
func (a *Anchor) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model != nil
}

func (a *Anchor) Pivot() Pivot   { return a.pivot }
func (a *Anchor) Gimbal() Gimbal { return a.gimbal }
func (a *Anchor) Marker() *Node  { return a.marker }

func (a *Anchor) Model() *Node {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

func (a *Anchor) JawBone() *Node {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.jaw
}

// SetModelVisible toggles the model together with its marker. A missing
// model leaves only the marker to toggle.
func (a *Anchor) SetModelVisible(v bool) {
	if m := a.Model(); m != nil {
		m.SetVisible(v)
	}
	a.marker.SetVisible(v)
}

// ModelVisible reports model visibility; false when no model is attached.
func (a *Anchor) ModelVisible() bool {
	m := a.Model()
	return m != nil && m.Visible()
}

// Snapshot is a read-only copy of the transforms a renderer needs.
type Snapshot struct {
	PivotPosition  mgl64.Vec3 `json:"pivot_position"`
	PivotScale     float64    `json:"pivot_scale"`
	AnchorRotation mgl64.Vec3 `json:"anchor_rotation"`
	JawRotationX   float64    `json:"jaw_rotation_x"`
	ModelVisible   bool       `json:"model_visible"`
}

// Snapshot copies the current transform state.
func (a *Anchor) Snapshot() Snapshot {
	s := Snapshot{
		PivotPosition:  a.pivot.Position(),
		PivotScale:     a.pivot.Scale(),
		AnchorRotation: a.gimbal.Rotation(),
		ModelVisible:   a.ModelVisible(),
	}
	if j := a.JawBone(); j != nil {
		s.JawRotationX = j.Rotation()[0]
	}
	return s
}
