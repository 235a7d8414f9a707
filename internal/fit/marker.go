package fit

import (
	"math"

	"github.com/e7canasta/dentar/internal/types"
)

// Viewport is the overlay surface the calibration marker is drawn on.
type Viewport struct {
	Width    int
	Height   int
	HalfSize int
}

// Overlay receives the marker's top-left pixel position.
type Overlay interface {
	MoveMarker(left, top int)
	Remove()
}

// MarkerPosition maps a normalized landmark into letterboxed viewport
// pixels. The video is fit inside the viewport keeping its aspect ratio and
// mirrored horizontally. ok is false for degenerate sizes.
func MarkerPosition(mouth types.Landmark, videoW, videoH int, vp Viewport) (left, top int, ok bool) {
	if videoW <= 0 || videoH <= 0 || vp.Width <= 0 || vp.Height <= 0 {
		return 0, 0, false
	}
	aspect := float64(videoW) / float64(videoH)
	screenW, screenH := float64(vp.Width), float64(vp.Height)

	effW := screenH * aspect
	if screenH >= screenW/aspect {
		effW = screenW
	}
	effH := effW / aspect

	half := float64(vp.HalfSize)
	x := (screenW-effW)*0.5 + (1-mouth.X)*effW - half
	y := (screenH-effH)*0.5 + mouth.Y*effH - half
	return int(math.Round(x)), int(math.Round(y)), true
}
