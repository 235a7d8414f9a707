package types

import "time"

// Frame represents a single video frame
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame pixels (packed RGB24, row-major)
	Data []byte
	// Source identifies the capture backend (gocv, gst, mock)
	Source string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// BytesPerPixel is the packed RGB24 stride per pixel.
const BytesPerPixel = 3

// Valid reports whether the pixel buffer matches the declared dimensions.
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	return len(f.Data) == f.Width*f.Height*BytesPerPixel
}

// AspectRatio returns width/height, or 0 for an empty frame.
func (f *Frame) AspectRatio() float64 {
	if f == nil || f.Height == 0 {
		return 0
	}
	return float64(f.Width) / float64(f.Height)
}

// WarmupFrame returns the throwaway 1x1 black frame used to force lazy
// kernel compilation before real-time use.
func WarmupFrame() Frame {
	return Frame{
		Seq:    0,
		Width:  1,
		Height: 1,
		Data:   make([]byte, BytesPerPixel),
		Source: "warmup",
	}
}

// StreamStats contains capture statistics
type StreamStats struct {
	FrameCount    uint64  `json:"frame_count"`
	FramesDropped uint64  `json:"frames_dropped"`
	FPSTarget     float64 `json:"fps_target"`
	FPSReal       float64 `json:"fps_real"`
	LatencyMS     int64   `json:"latency_ms"`
	Source        string  `json:"source"`
	Resolution    string  `json:"resolution"`
	Reopens       uint32  `json:"reopens"`
	IsReady       bool    `json:"is_ready"`
}
