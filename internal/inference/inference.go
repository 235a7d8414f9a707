// Package inference defines the landmark and segmentation capabilities the
// fit controller consumes, and the engines that provide them.
//
// Engines validate their raw output at the boundary: a malformed result is
// reported as "no face" (or "no mask"), never as partially filled data.
package inference

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/dentar/internal/types"
)

var (
	// ErrMaskReleased is returned by a second Close on the same mask.
	ErrMaskReleased = errors.New("inference: mask already released")
	// ErrMalformedOutput marks engine output that failed shape validation.
	ErrMalformedOutput = errors.New("inference: malformed engine output")
	// ErrNotLoaded is returned when an engine is used before Load.
	ErrNotLoaded = errors.New("inference: engine not loaded")
	// ErrClosed is returned when an engine is used after Close.
	ErrClosed = errors.New("inference: engine closed")
)

// Engine is the lifecycle shared by every capability.
type Engine interface {
	// Load performs the (possibly slow) model initialization.
	Load(ctx context.Context) error
	// Close releases native handles. Safe to call more than once.
	Close() error
}

// LandmarkDetector finds a face mesh in a frame.
type LandmarkDetector interface {
	Engine
	// Detect returns a Detection whose Landmarks is nil when no face was
	// found. An error means the call itself failed.
	Detect(ctx context.Context, frame *types.Frame, ts time.Duration) (types.Detection, error)
}

// Segmenter produces a person/background mask.
type Segmenter interface {
	Engine
	// Segment returns nil when the engine produced no mask. Ownership of a
	// non-nil mask passes to the caller, who must Close it.
	Segment(ctx context.Context, frame *types.Frame, ts time.Duration) (Mask, error)
}

// Engines is the capability set fixed at construction. Segmenter is optional.
type Engines struct {
	Landmarks LandmarkDetector
	Segmenter Segmenter
}
