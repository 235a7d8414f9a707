package onnx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/e7canasta/dentar/internal/inference"
	"github.com/e7canasta/dentar/internal/types"
)

func TestNewLandmarker_Defaults(t *testing.T) {
	_, err := NewLandmarker(LandmarkerConfig{})
	assert.Error(t, err, "model path is required")

	l, err := NewLandmarker(LandmarkerConfig{ModelPath: "face_landmark.onnx"})
	require.NoError(t, err)
	assert.Equal(t, 192, l.cfg.InputSize)
	assert.Equal(t, 0.5, l.cfg.MinConfidence)
}

func TestEnginesRejectUseBeforeLoad(t *testing.T) {
	frame := types.WarmupFrame()

	l, err := NewLandmarker(LandmarkerConfig{ModelPath: "face_landmark.onnx"})
	require.NoError(t, err)
	_, err = l.Detect(context.Background(), &frame, time.Millisecond)
	assert.ErrorIs(t, err, inference.ErrNotLoaded)

	s, err := NewSegmenter(SegmenterConfig{ModelPath: "selfie_segmenter.onnx"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Segment(context.Background(), &frame, 0)
	assert.ErrorIs(t, err, inference.ErrClosed)
}

func TestThresholdMask(t *testing.T) {
	mat, err := thresholdMask([]float32{0.1, 0.9, 0.5, 0.49}, 2, 0.5)
	require.NoError(t, err)
	m := NewMatMask(mat)
	assert.Equal(t, 2, m.Width())
	assert.Equal(t, 2, m.Height())
	assert.Equal(t, uint8(0), m.Mat().GetUCharAt(0, 0))
	assert.Equal(t, uint8(255), m.Mat().GetUCharAt(0, 1))
	assert.Equal(t, uint8(255), m.Mat().GetUCharAt(1, 0))

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), inference.ErrMaskReleased)

	bad, err := thresholdMask(make([]float32, 3), 2, 0.5)
	assert.ErrorIs(t, err, inference.ErrMalformedOutput)
	bad.Close()
}

func TestMatMaskIsAMask(t *testing.T) {
	var m inference.Mask = NewMatMask(gocv.NewMat())
	assert.NoError(t, m.Close())
}
