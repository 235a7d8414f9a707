package inference

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/dentar/internal/types"
)

// PythonEngineConfig configures the MediaPipe worker subprocess.
type PythonEngineConfig struct {
	WorkerID               string
	Script                 string
	LandmarkerModel        string
	SegmenterModel         string
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
	SegmentationThreshold  float64
	RequestTimeout         time.Duration
}

// PythonEngine runs MediaPipe's face landmarker and selfie segmenter in a
// Python subprocess, speaking length-prefixed msgpack over stdin/stdout.
// One request is in flight at a time. It implements both LandmarkDetector
// and Segmenter; Load and Close are idempotent so the same instance may fill
// both slots of Engines.
type PythonEngine struct {
	cfg   PythonEngineConfig
	spawn func() (*workerConn, error)

	mu     sync.Mutex
	conn   *workerConn
	loaded bool
	closed bool
	seq    uint64

	requests atomic.Uint64
	failures atomic.Uint64
	respawns atomic.Uint64
}

// NewPythonEngine validates cfg. The process is spawned on Load.
func NewPythonEngine(cfg PythonEngineConfig) (*PythonEngine, error) {
	if cfg.Script == "" {
		return nil, fmt.Errorf("inference: worker script is required")
	}
	if cfg.LandmarkerModel == "" {
		return nil, fmt.Errorf("inference: landmarker model is required")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "mediapipe"
	}
	if cfg.MinDetectionConfidence <= 0 {
		cfg.MinDetectionConfidence = 0.5
	}
	if cfg.MinTrackingConfidence <= 0 {
		cfg.MinTrackingConfidence = 0.5
	}
	if cfg.SegmentationThreshold <= 0 {
		cfg.SegmentationThreshold = 0.5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}

	e := &PythonEngine{cfg: cfg}
	e.spawn = e.spawnProcess

	slog.Info("inference: python engine created",
		"worker_id", cfg.WorkerID,
		"script", cfg.Script,
		"landmarker", cfg.LandmarkerModel,
		"segmenter", cfg.SegmenterModel,
	)
	return e, nil
}

// workerConn is one live worker process.
type workerConn struct {
	w      io.WriteCloser
	r      io.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *workerConn) close(id string) {
	if c.w != nil {
		c.w.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		slog.Warn("inference: python worker stop timeout, killing process", "worker_id", id)
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (e *PythonEngine) spawnProcess() (*workerConn, error) {
	args := []string{
		"--landmarker", e.cfg.LandmarkerModel,
		"--min-detection-confidence", fmt.Sprintf("%.2f", e.cfg.MinDetectionConfidence),
		"--min-tracking-confidence", fmt.Sprintf("%.2f", e.cfg.MinTrackingConfidence),
	}
	if e.cfg.SegmenterModel != "" {
		args = append(args,
			"--segmenter", e.cfg.SegmenterModel,
			"--threshold", fmt.Sprintf("%.2f", e.cfg.SegmentationThreshold),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, e.cfg.Script, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start python process: %w", err)
	}

	slog.Info("inference: python process spawned", "worker_id", e.cfg.WorkerID, "pid", cmd.Process.Pid)

	c := &workerConn{w: stdin, r: bufio.NewReader(stdout), cancel: cancel}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		logStderr(e.cfg.WorkerID, stderr)
	}()
	go func() {
		defer c.wg.Done()
		err := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			slog.Debug("inference: python process exited (shutdown)", "worker_id", e.cfg.WorkerID)
		case err != nil:
			slog.Error("inference: python process exited unexpectedly", "worker_id", e.cfg.WorkerID, "error", err)
		default:
			slog.Info("inference: python process exited cleanly", "worker_id", e.cfg.WorkerID)
		}
	}()
	return c, nil
}

// logStderr maps the worker's "[LEVEL]" log lines onto slog levels.
func logStderr(id string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("inference: python worker error", "worker_id", id, "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("inference: python worker warning", "worker_id", id, "log", line)
		default:
			slog.Debug("inference: python worker log", "worker_id", id, "log", line)
		}
	}
}

// Load spawns the worker and waits until it answers a ping, which happens
// only after both models are initialized.
func (e *PythonEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.conn != nil {
		return nil
	}
	if err := e.connectLocked(ctx); err != nil {
		return err
	}
	e.loaded = true
	return nil
}

func (e *PythonEngine) connectLocked(ctx context.Context) error {
	conn, err := e.spawn()
	if err != nil {
		return fmt.Errorf("inference: spawn python worker: %w", err)
	}
	e.conn = conn

	if _, err := e.roundTripLocked(ctx, workerRequest{Type: "ping"}); err != nil {
		return fmt.Errorf("inference: python worker handshake: %w", err)
	}
	slog.Info("inference: python worker ready", "worker_id", e.cfg.WorkerID)
	return nil
}

// ensureConnLocked respawns a worker that was dropped after a broken
// exchange. The first Load must have succeeded.
func (e *PythonEngine) ensureConnLocked(ctx context.Context) error {
	if e.closed {
		return ErrClosed
	}
	if e.conn != nil {
		return nil
	}
	if !e.loaded {
		return ErrNotLoaded
	}
	e.respawns.Add(1)
	slog.Warn("inference: respawning python worker", "worker_id", e.cfg.WorkerID)
	return e.connectLocked(ctx)
}

type exchange struct {
	resp workerResponse
	err  error
}

// roundTripLocked sends req and waits for its response. A timeout or a
// protocol error leaves the stream out of sync, so the worker is dropped and
// respawned on the next call.
func (e *PythonEngine) roundTripLocked(ctx context.Context, req workerRequest) (workerResponse, error) {
	e.seq++
	req.Seq = e.seq
	e.requests.Add(1)
	conn := e.conn

	done := make(chan exchange, 1)
	go func() {
		if err := writeMessage(conn.w, req); err != nil {
			done <- exchange{err: err}
			return
		}
		var resp workerResponse
		err := readMessage(conn.r, &resp)
		done <- exchange{resp: resp, err: err}
	}()

	timer := time.NewTimer(e.cfg.RequestTimeout)
	defer timer.Stop()

	var ex exchange
	select {
	case ex = <-done:
	case <-ctx.Done():
		ex.err = ctx.Err()
	case <-timer.C:
		ex.err = fmt.Errorf("python worker timeout after %s", e.cfg.RequestTimeout)
	}

	if ex.err == nil && ex.resp.Seq != req.Seq {
		ex.err = fmt.Errorf("%w: response seq %d for request %d", ErrMalformedOutput, ex.resp.Seq, req.Seq)
	}
	if ex.err != nil {
		e.failures.Add(1)
		e.dropConnLocked()
		return workerResponse{}, ex.err
	}
	if ex.resp.Error != "" {
		return ex.resp, fmt.Errorf("inference: python worker: %s", ex.resp.Error)
	}
	return ex.resp, nil
}

func (e *PythonEngine) dropConnLocked() {
	if e.conn == nil {
		return
	}
	conn := e.conn
	e.conn = nil
	go conn.close(e.cfg.WorkerID)
}

func frameRequest(kind string, frame *types.Frame, ts time.Duration) (workerRequest, error) {
	if !frame.Valid() {
		return workerRequest{}, fmt.Errorf("inference: invalid frame %dx%d", frame.Width, frame.Height)
	}
	return workerRequest{
		Type:   kind,
		TsMS:   ts.Milliseconds(),
		Width:  frame.Width,
		Height: frame.Height,
		Data:   frame.Data,
	}, nil
}

func (e *PythonEngine) Detect(ctx context.Context, frame *types.Frame, ts time.Duration) (types.Detection, error) {
	req, err := frameRequest("detect", frame, ts)
	if err != nil {
		return types.Detection{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnLocked(ctx); err != nil {
		return types.Detection{}, err
	}

	start := time.Now()
	resp, err := e.roundTripLocked(ctx, req)
	if err != nil {
		return types.Detection{}, err
	}

	det := types.NoFace(frame.Seq, ts)
	det.Latency = time.Since(start)
	if len(resp.Landmarks) == 0 {
		return det, nil
	}

	pts := make([]types.Landmark, len(resp.Landmarks))
	for i, p := range resp.Landmarks {
		pts[i] = types.Landmark{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
	}
	lm, err := LandmarksFromPoints(pts)
	if err != nil {
		slog.Debug("inference: python landmarks rejected",
			"worker_id", e.cfg.WorkerID,
			"frame_seq", frame.Seq,
			"points", len(pts),
		)
		return det, nil
	}
	det.Landmarks = lm
	return det, nil
}

func (e *PythonEngine) Segment(ctx context.Context, frame *types.Frame, ts time.Duration) (Mask, error) {
	req, err := frameRequest("segment", frame, ts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureConnLocked(ctx); err != nil {
		return nil, err
	}

	resp, err := e.roundTripLocked(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Mask) == 0 {
		return nil, nil
	}
	m, err := NewBytesMask(resp.MaskW, resp.MaskH, resp.Mask)
	if err != nil {
		slog.Debug("inference: python mask rejected",
			"worker_id", e.cfg.WorkerID,
			"mask_w", resp.MaskW,
			"mask_h", resp.MaskH,
			"bytes", len(resp.Mask),
		)
		return nil, nil
	}
	return m, nil
}

// Close stops the worker. Later calls are no-ops.
func (e *PythonEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.close(e.cfg.WorkerID)
	}
	slog.Info("inference: python engine stopped",
		"worker_id", e.cfg.WorkerID,
		"requests", e.requests.Load(),
		"failures", e.failures.Load(),
		"respawns", e.respawns.Load(),
	)
	return nil
}

// EngineStats are request counters for health reporting.
type EngineStats struct {
	Requests uint64 `json:"requests"`
	Failures uint64 `json:"failures"`
	Respawns uint64 `json:"respawns"`
}

func (e *PythonEngine) Stats() EngineStats {
	return EngineStats{
		Requests: e.requests.Load(),
		Failures: e.failures.Load(),
		Respawns: e.respawns.Load(),
	}
}
