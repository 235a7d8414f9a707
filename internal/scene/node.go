// Package scene holds the small transform hierarchy the fit controller
// writes into and an external renderer reads every frame.
//
// Nodes are safe for concurrent use: the fit loop, zoom tweens and renderer
// snapshots may touch the same node from different goroutines.
package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Node is a transform in the scene graph. Rotation is an XYZ Euler triple in
// radians, applied as Rx·Ry·Rz.
type Node struct {
	mu       sync.RWMutex
	name     string
	parent   *Node
	children []*Node

	position mgl64.Vec3
	rotation mgl64.Vec3
	scale    mgl64.Vec3
	visible  bool

	world mgl64.Mat4
}

// NewNode creates a visible node with identity transform.
func NewNode(name string) *Node {
	return &Node{
		name:    name,
		scale:   mgl64.Vec3{1, 1, 1},
		visible: true,
		world:   mgl64.Ident4(),
	}
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// Add attaches child under n. A child already attached elsewhere is moved.
func (n *Node) Add(child *Node) {
	if child == nil || child == n {
		return
	}
	if old := child.Parent(); old != nil {
		old.remove(child)
	}

	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()

	child.mu.Lock()
	child.parent = n
	child.mu.Unlock()
}

func (n *Node) remove(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// Parent returns the parent node or nil for a root.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) Position() mgl64.Vec3 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.position
}

func (n *Node) SetPosition(p mgl64.Vec3) {
	n.mu.Lock()
	n.position = p
	n.mu.Unlock()
}

func (n *Node) Rotation() mgl64.Vec3 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rotation
}

func (n *Node) SetRotation(r mgl64.Vec3) {
	n.mu.Lock()
	n.rotation = r
	n.mu.Unlock()
}

// SetRotationX changes only the X Euler component.
func (n *Node) SetRotationX(x float64) {
	n.mu.Lock()
	n.rotation[0] = x
	n.mu.Unlock()
}

func (n *Node) Scale() mgl64.Vec3 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scale
}

func (n *Node) SetScale(s mgl64.Vec3) {
	n.mu.Lock()
	n.scale = s
	n.mu.Unlock()
}

func (n *Node) Visible() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.visible
}

func (n *Node) SetVisible(v bool) {
	n.mu.Lock()
	n.visible = v
	n.mu.Unlock()
}

// LocalMatrix composes T·R·S from the node's own transform.
func (n *Node) LocalMatrix() mgl64.Mat4 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return composeTRS(n.position, n.rotation, n.scale)
}

// UpdateWorldMatrix recomputes the cached world matrix. With updateParents
// the ancestors are refreshed first; with updateChildren the whole subtree
// below n is refreshed after it. The hierarchy is otherwise only refreshed
// lazily, so callers sampling world positions must update first.
func (n *Node) UpdateWorldMatrix(updateParents, updateChildren bool) {
	parent := n.Parent()
	if updateParents && parent != nil {
		parent.UpdateWorldMatrix(true, false)
	}

	local := n.LocalMatrix()
	world := local
	if parent != nil {
		world = parent.WorldMatrix().Mul4(local)
	}

	n.mu.Lock()
	n.world = world
	n.mu.Unlock()

	if updateChildren {
		for _, c := range n.Children() {
			c.UpdateWorldMatrix(false, true)
		}
	}
}

// WorldMatrix returns the cached world matrix from the last update.
func (n *Node) WorldMatrix() mgl64.Mat4 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.world
}

// WorldPosition returns the translation of the cached world matrix.
func (n *Node) WorldPosition() mgl64.Vec3 {
	return n.WorldMatrix().Col(3).Vec3()
}

func composeTRS(pos, rot, scale mgl64.Vec3) mgl64.Mat4 {
	t := mgl64.Translate3D(pos[0], pos[1], pos[2])
	r := mgl64.HomogRotate3DX(rot[0]).
		Mul4(mgl64.HomogRotate3DY(rot[1])).
		Mul4(mgl64.HomogRotate3DZ(rot[2]))
	s := mgl64.Scale3D(scale[0], scale[1], scale[2])
	return t.Mul4(r).Mul4(s)
}
