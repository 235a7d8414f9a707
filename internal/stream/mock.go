package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MockSource generates synthetic gray frames at a fixed rate.
type MockSource struct {
	*Base

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  time.Time
}

// NewMockSource creates a mock source; fps <= 0 defaults to 30.
func NewMockSource(width, height int, fps float64) *MockSource {
	if fps <= 0 {
		fps = 30
	}
	return &MockSource{Base: NewBase("mock", width, height, fps)}
}

func (m *MockSource) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.start = time.Now()

	slog.Info("stream: mock source starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fpsTarget,
	)

	m.wg.Add(1)
	go m.generate(runCtx)
	return nil
}

func (m *MockSource) generate(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / m.fpsTarget))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			data := make([]byte, m.width*m.height*3)
			shade := byte(m.seq.Load() % 256)
			for i := range data {
				data[i] = shade
			}
			m.Deliver(m.width, m.height, data, now)
		}
	}
}

func (m *MockSource) Stop() error {
	if !m.MarkStopped() {
		return nil
	}
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	slog.Info("stream: mock source stopped",
		"frames_emitted", m.seq.Load(),
		"duration", time.Since(m.start),
	)
	return nil
}
