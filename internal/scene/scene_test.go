package scene

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldPosition_RequiresUpdate(t *testing.T) {
	a := NewAnchor()
	a.Pivot().SetPosition(mgl64.Vec3{1, 2, 3})

	assert.Equal(t, mgl64.Vec3{}, a.Pivot().WorldPosition(), "world matrix is refreshed lazily")

	a.Pivot().UpdateWorldMatrix(false)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, a.Pivot().WorldPosition())
}

func TestHierarchy_ChildInheritsPivotScale(t *testing.T) {
	a := NewAnchor()
	a.Pivot().SetPosition(mgl64.Vec3{1, 0, 0})
	a.Pivot().SetScale(2)

	marker := a.Marker()
	marker.SetPosition(mgl64.Vec3{0, 1, 0})

	a.Pivot().UpdateWorldMatrix(true)
	got := marker.WorldPosition()
	assert.InDelta(t, 1.0, got[0], 1e-9)
	assert.InDelta(t, 2.0, got[1], 1e-9)
}

func TestHierarchy_GimbalRotationDoesNotMovePivot(t *testing.T) {
	a := NewAnchor()
	a.Pivot().SetPosition(mgl64.Vec3{3, 4, 0})
	a.Gimbal().SetRotation(mgl64.Vec3{0.3, -0.7, 0})

	a.Pivot().UpdateWorldMatrix(true)
	assert.Equal(t, mgl64.Vec3{3, 4, 0}, a.Pivot().WorldPosition())
	assert.Equal(t, mgl64.Vec3{0, 0, 0}, a.Pivot().Node().Rotation())
}

func TestAnchor_ReadyAfterAttach(t *testing.T) {
	a := NewAnchor()
	assert.False(t, a.Ready())

	a.SetModelVisible(true) // no model yet, must not panic
	assert.False(t, a.ModelVisible())

	model := NewNode("teeth")
	jaw := NewNode("jaw")
	model.Add(jaw)
	a.AttachModel(model, jaw, Box{Min: mgl64.Vec3{-1, -1, -1}, Max: mgl64.Vec3{1, 2, 3}}, 1.6)

	require.True(t, a.Ready())
	assert.False(t, a.ModelVisible(), "model starts hidden until a face is fitted")

	pos := model.Position()
	assert.InDelta(t, 0, pos[0], 1e-9)
	assert.InDelta(t, -3.2, pos[1], 1e-9)
	assert.InDelta(t, -4.8, pos[2], 1e-9)
	assert.Equal(t, a.Gimbal().Node(), model.Parent())
}

func TestAnchor_ReadyWithoutJaw(t *testing.T) {
	a := NewAnchor()
	a.AttachModel(NewNode("teeth"), nil, Box{Max: mgl64.Vec3{1, 1, 1}}, 1)

	assert.True(t, a.Ready(), "a model without a rigged jaw can still be fitted")
	assert.Nil(t, a.JawBone())
	assert.Zero(t, a.Snapshot().JawRotationX)
}

func TestSnapshot(t *testing.T) {
	a := NewAnchor()
	model, jaw := NewNode("teeth"), NewNode("jaw")
	a.AttachModel(model, jaw, Box{}, 1)

	a.Pivot().SetScale(0.5)
	jaw.SetRotationX(-0.4)
	a.SetModelVisible(true)

	s := a.Snapshot()
	assert.Equal(t, 0.5, s.PivotScale)
	assert.Equal(t, -0.4, s.JawRotationX)
	assert.True(t, s.ModelVisible)
}

func TestNode_AddReparents(t *testing.T) {
	p1, p2, c := NewNode("p1"), NewNode("p2"), NewNode("c")
	p1.Add(c)
	p2.Add(c)

	assert.Empty(t, p1.Children())
	assert.Len(t, p2.Children(), 1)
	assert.Equal(t, p2, c.Parent())
}

func TestMatchCutDistance(t *testing.T) {
	d := MatchCutDistance(10, 35)
	want := 10 / (2 * math.Atan(35*math.Pi/360))
	assert.InDelta(t, want, d, 1e-12)
}

func TestRig_SwitchToPerspective(t *testing.T) {
	ortho := NewOrthographic(10, 16.0/9.0, 10)
	ortho.Zoom = 2
	rig := NewRig(ortho)
	require.Equal(t, Orthographic, rig.Active().Projection)

	cam := rig.SwitchToPerspective(35)
	assert.Equal(t, Perspective, rig.Active().Projection)
	assert.Same(t, cam, rig.Active())
	assert.InDelta(t, MatchCutDistance(5, 35), cam.Position()[2], 1e-12)
	assert.Equal(t, "perspective", cam.Projection.String())
}
