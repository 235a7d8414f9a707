package fit

import (
	"time"

	"github.com/e7canasta/dentar/internal/types"
)

// MarkerPixel is the overlay marker's top-left corner in viewport pixels.
type MarkerPixel struct {
	Left int `json:"left" msgpack:"left"`
	Top  int `json:"top" msgpack:"top"`
}

// Pose is the transform written for one frame.
type Pose struct {
	Openness     float64      `json:"openness" msgpack:"openness"`
	Depth        float64      `json:"depth" msgpack:"depth"`
	DepthApplied bool         `json:"depth_applied" msgpack:"depth_applied"`
	Position     [3]float64   `json:"position" msgpack:"position"`
	Scale        float64      `json:"scale" msgpack:"scale"`
	Yaw          float64      `json:"yaw" msgpack:"yaw"`
	Pitch        float64      `json:"pitch" msgpack:"pitch"`
	Jaw          float64      `json:"jaw" msgpack:"jaw"`
	Marker       *MarkerPixel `json:"marker,omitempty" msgpack:"marker,omitempty"`
}

// Result describes one handled frame.
type Result struct {
	SessionID   string
	FrameSeq    uint64
	TraceID     string
	CapturedAt  time.Time
	InferenceTS time.Duration
	Latency     time.Duration
	VideoWidth  int
	VideoHeight int

	// Found is false when no face was detected; Landmarks and Pose are
	// then empty.
	Found       bool
	Landmarks   *types.Landmarks
	Sensitivity float64
	Pose        Pose
}

// Sink observes handled frames. Observe runs on the fit loop and must not
// block.
type Sink interface {
	Observe(Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result)

func (f SinkFunc) Observe(r Result) { f(r) }
