package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/dentar/internal/types"
)

// mailbox holds the latest decoded frame. Publishing overwrites; a frame
// nobody read before the next publish counts as dropped.
type mailbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frame    *types.Frame
	consumed bool
	closed   bool

	drops atomic.Uint64
}

func newMailbox() *mailbox {
	m := &mailbox{consumed: true}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// publish never blocks.
func (m *mailbox) publish(f *types.Frame) {
	m.mu.Lock()
	if !m.consumed {
		m.drops.Add(1)
	}
	m.frame = f
	m.consumed = false
	m.cond.Broadcast()
	m.mu.Unlock()
}

// latest returns the most recent frame without waiting, nil if none yet.
func (m *mailbox) latest() *types.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed = true
	return m.frame
}

// next blocks until a frame with Seq > after is available, ctx ends or the
// mailbox is closed.
func (m *mailbox) next(ctx context.Context, after uint64) (*types.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.frame == nil || m.frame.Seq <= after {
		if m.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.cond.Wait()
	}
	m.consumed = true
	return m.frame, nil
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}
