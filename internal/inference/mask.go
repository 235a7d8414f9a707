package inference

import (
	"log/slog"
	"sync/atomic"
)

// Mask is a per-pixel foreground classification bound to native memory.
// Close releases it; a second Close returns ErrMaskReleased.
type Mask interface {
	Width() int
	Height() int
	Close() error
}

// BytesMask is a mask delivered over the worker protocol as packed 8-bit
// values.
type BytesMask struct {
	width, height int
	data          []byte
	released      atomic.Bool
}

// NewBytesMask wraps data, which must hold width*height bytes.
func NewBytesMask(width, height int, data []byte) (*BytesMask, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return nil, ErrMalformedOutput
	}
	return &BytesMask{width: width, height: height, data: data}, nil
}

func (m *BytesMask) Width() int  { return m.width }
func (m *BytesMask) Height() int { return m.height }

// At returns the mask value at (x, y), or 0 outside the mask or after Close.
func (m *BytesMask) At(x, y int) byte {
	if m.released.Load() || x < 0 || y < 0 || x >= m.width || y >= m.height {
		return 0
	}
	return m.data[y*m.width+x]
}

func (m *BytesMask) Close() error {
	if !m.released.CompareAndSwap(false, true) {
		return ErrMaskReleased
	}
	m.data = nil
	return nil
}

// Release closes m and swallows any error. Nil masks are ignored.
func Release(m Mask) {
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		slog.Debug("inference: mask release failed (ignored)", "error", err)
	}
}
