// Package onnx runs the MediaPipe face mesh and selfie segmenter exports
// through onnxruntime, with gocv preprocessing.
package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/e7canasta/dentar/internal/inference"
	"github.com/e7canasta/dentar/internal/types"
)

// Tensor names of the MediaPipe face mesh and selfie segmenter ONNX exports.
const (
	faceMeshInput       = "input_1"
	faceMeshLandmarks   = "conv2d_21"
	faceMeshPresence    = "conv2d_31"
	selfieSegmentInput  = "input_1"
	selfieSegmentOutput = "activation_10"
)

var ortEnv sync.Mutex

// InitRuntime loads the onnxruntime shared library once per process.
func InitRuntime(libraryPath string) error {
	ortEnv.Lock()
	defer ortEnv.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: initialize onnxruntime: %w", err)
	}
	slog.Info("onnx: onnxruntime initialized", "library", libraryPath)
	return nil
}

// LandmarkerConfig configures the face mesh engine.
type LandmarkerConfig struct {
	ModelPath     string
	LibraryPath   string
	InputSize     int
	MinConfidence float64
}

// Landmarker runs the 468-point face mesh through onnxruntime.
type Landmarker struct {
	cfg LandmarkerConfig

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	closed  bool
}

// NewLandmarker validates cfg. The model is not opened until Load.
func NewLandmarker(cfg LandmarkerConfig) (*Landmarker, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: landmarker model_path is required")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 192
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	return &Landmarker{cfg: cfg}, nil
}

func (l *Landmarker) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := InitRuntime(l.cfg.LibraryPath); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return inference.ErrClosed
	}
	if l.session != nil {
		return nil
	}

	session, err := ort.NewDynamicAdvancedSession(l.cfg.ModelPath,
		[]string{faceMeshInput},
		[]string{faceMeshLandmarks, faceMeshPresence},
		nil)
	if err != nil {
		return fmt.Errorf("onnx: open face mesh %s: %w", l.cfg.ModelPath, err)
	}
	l.session = session

	slog.Info("onnx: face mesh loaded",
		"model", l.cfg.ModelPath,
		"input_size", l.cfg.InputSize,
	)
	return nil
}

func (l *Landmarker) Detect(ctx context.Context, frame *types.Frame, ts time.Duration) (types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return types.Detection{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return types.Detection{}, inference.ErrClosed
	}
	if l.session == nil {
		return types.Detection{}, inference.ErrNotLoaded
	}

	start := time.Now()
	size := l.cfg.InputSize

	data, crop, err := inputTensor(frame, size)
	if err != nil {
		return types.Detection{}, err
	}

	in, err := ort.NewTensor(ort.NewShape(1, int64(size), int64(size), 3), data)
	if err != nil {
		return types.Detection{}, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer in.Destroy()

	points, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, types.NumFaceLandmarks*3))
	if err != nil {
		return types.Detection{}, fmt.Errorf("onnx: landmark tensor: %w", err)
	}
	defer points.Destroy()

	presence, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, 1))
	if err != nil {
		return types.Detection{}, fmt.Errorf("onnx: presence tensor: %w", err)
	}
	defer presence.Destroy()

	if err := l.session.Run([]ort.Value{in}, []ort.Value{points, presence}); err != nil {
		return types.Detection{}, fmt.Errorf("onnx: face mesh run: %w", err)
	}

	det := types.NoFace(frame.Seq, ts)
	det.Latency = time.Since(start)

	score := inference.Sigmoid(float64(presence.GetData()[0]))
	if score < l.cfg.MinConfidence {
		return det, nil
	}

	lm, err := inference.LandmarksFromFlat(points.GetData(), crop.Projection(size))
	if err != nil {
		slog.Debug("onnx: face mesh output rejected", "frame_seq", frame.Seq, "error", err)
		return det, nil
	}
	det.Landmarks = lm
	return det, nil
}

func (l *Landmarker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.session == nil {
		return nil
	}
	err := l.session.Destroy()
	l.session = nil
	return err
}

// SegmenterConfig configures the selfie segmenter.
type SegmenterConfig struct {
	ModelPath   string
	LibraryPath string
	InputSize   int
	Threshold   float64
}

// Segmenter produces a square person mask as a MatMask.
type Segmenter struct {
	cfg SegmenterConfig

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	closed  bool
}

func NewSegmenter(cfg SegmenterConfig) (*Segmenter, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: segmenter model_path is required")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 256
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = 0.5
	}
	return &Segmenter{cfg: cfg}, nil
}

func (s *Segmenter) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := InitRuntime(s.cfg.LibraryPath); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return inference.ErrClosed
	}
	if s.session != nil {
		return nil
	}

	session, err := ort.NewDynamicAdvancedSession(s.cfg.ModelPath,
		[]string{selfieSegmentInput},
		[]string{selfieSegmentOutput},
		nil)
	if err != nil {
		return fmt.Errorf("onnx: open segmenter %s: %w", s.cfg.ModelPath, err)
	}
	s.session = session
	slog.Info("onnx: segmenter loaded", "model", s.cfg.ModelPath, "input_size", s.cfg.InputSize)
	return nil
}

func (s *Segmenter) Segment(ctx context.Context, frame *types.Frame, ts time.Duration) (inference.Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, inference.ErrClosed
	}
	if s.session == nil {
		return nil, inference.ErrNotLoaded
	}

	size := s.cfg.InputSize
	data, _, err := inputTensor(frame, size)
	if err != nil {
		return nil, err
	}

	in, err := ort.NewTensor(ort.NewShape(1, int64(size), int64(size), 3), data)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(size), int64(size), 1))
	if err != nil {
		return nil, fmt.Errorf("onnx: mask tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: segmenter run: %w", err)
	}

	mat, err := thresholdMask(out.GetData(), size, s.cfg.Threshold)
	if err != nil {
		mat.Close()
		slog.Debug("onnx: segmenter output rejected", "frame_seq", frame.Seq, "ts", ts, "error", err)
		return nil, nil
	}
	return NewMatMask(mat), nil
}

func (s *Segmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
