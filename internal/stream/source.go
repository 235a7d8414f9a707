// Package stream provides the live video sources the fit loop reads from.
//
// Every source decodes into a single-slot mailbox: the fit loop always sees
// the most recent frame and frames it was too slow for are dropped, never
// queued. The cgo-backed cameras live in the gocvcam and gstcam
// subpackages; this package only carries the mock source.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/dentar/internal/types"
)

var (
	// ErrNotReady is returned before the first decodable frame arrives.
	ErrNotReady = errors.New("stream: no frame available yet")
	// ErrClosed is returned after Stop.
	ErrClosed = errors.New("stream: source stopped")
)

// Source is a live camera feed.
type Source interface {
	// Start opens the device and begins decoding in the background.
	Start(ctx context.Context) error
	// Ready reports whether at least one decodable frame is buffered.
	Ready() bool
	// WaitReady blocks until Ready or ctx ends.
	WaitReady(ctx context.Context) error
	// Latest returns the newest frame without waiting.
	Latest() (*types.Frame, error)
	// Next blocks until a frame newer than seq arrives.
	Next(ctx context.Context, seq uint64) (*types.Frame, error)
	// Stats returns capture statistics.
	Stats() types.StreamStats
	// Stop releases the device. Safe to call more than once.
	Stop() error
}

// Base is the mailbox and bookkeeping shared by every backend. Backends
// embed it and call Deliver for each decoded frame.
type Base struct {
	name      string
	width     int
	height    int
	fpsTarget float64

	box     *mailbox
	seq     atomic.Uint64
	reopens atomic.Uint32
	ready   atomic.Bool
	stopped atomic.Bool

	mu       sync.Mutex
	arrivals *arrivalWindow
	latency  time.Duration
}

// NewBase creates the shared state for a backend called name.
func NewBase(name string, width, height int, fps float64) *Base {
	return &Base{
		name:      name,
		width:     width,
		height:    height,
		fpsTarget: fps,
		box:       newMailbox(),
		arrivals:  newArrivalWindow(60),
	}
}

// Deliver stamps and publishes one decoded RGB frame.
func (b *Base) Deliver(width, height int, data []byte, captured time.Time) *types.Frame {
	f := &types.Frame{
		Seq:       b.seq.Add(1),
		Timestamp: captured,
		Width:     width,
		Height:    height,
		Data:      data,
		Source:    b.name,
		TraceID:   uuid.New().String(),
	}
	now := time.Now()

	b.mu.Lock()
	b.arrivals.add(now)
	b.latency = now.Sub(captured)
	b.mu.Unlock()

	b.box.publish(f)
	b.ready.Store(true)
	return f
}

func (b *Base) Ready() bool {
	return b.ready.Load() && !b.stopped.Load()
}

func (b *Base) WaitReady(ctx context.Context) error {
	if b.Ready() {
		return nil
	}
	_, err := b.box.next(ctx, 0)
	return err
}

func (b *Base) Latest() (*types.Frame, error) {
	if b.stopped.Load() {
		return nil, ErrClosed
	}
	f := b.box.latest()
	if f == nil {
		return nil, ErrNotReady
	}
	return f, nil
}

func (b *Base) Next(ctx context.Context, seq uint64) (*types.Frame, error) {
	return b.box.next(ctx, seq)
}

func (b *Base) Stats() types.StreamStats {
	b.mu.Lock()
	fps := CalculateFPSStats(b.arrivals.snapshot())
	latency := b.latency
	b.mu.Unlock()

	return types.StreamStats{
		FrameCount:    b.seq.Load(),
		FramesDropped: b.box.drops.Load(),
		FPSTarget:     b.fpsTarget,
		FPSReal:       fps.FPSMean,
		LatencyMS:     latency.Milliseconds(),
		Source:        b.name,
		Resolution:    fmt.Sprintf("%dx%d", b.width, b.height),
		Reopens:       b.reopens.Load(),
		IsReady:       b.Ready(),
	}
}

// Name identifies the backend in logs and stats.
func (b *Base) Name() string { return b.name }

// Stopped reports whether MarkStopped ran.
func (b *Base) Stopped() bool { return b.stopped.Load() }

// Frames is the number of frames delivered so far.
func (b *Base) Frames() uint64 { return b.seq.Load() }

// Reopens counts failed device opens; backends hand it to OpenWithRetry.
func (b *Base) Reopens() *atomic.Uint32 { return &b.reopens }

// MarkStopped closes the mailbox. It returns false if the source was
// already stopped.
func (b *Base) MarkStopped() bool {
	if !b.stopped.CompareAndSwap(false, true) {
		return false
	}
	b.box.close()
	return true
}
