package onnx

import (
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/e7canasta/dentar/internal/inference"
)

// MatMask owns a single-channel gocv.Mat.
type MatMask struct {
	mat      gocv.Mat
	released atomic.Bool
}

// NewMatMask takes ownership of mat.
func NewMatMask(mat gocv.Mat) *MatMask {
	return &MatMask{mat: mat}
}

func (m *MatMask) Width() int  { return m.mat.Cols() }
func (m *MatMask) Height() int { return m.mat.Rows() }

// Mat exposes the underlying matrix. It is invalid after Close.
func (m *MatMask) Mat() gocv.Mat { return m.mat }

func (m *MatMask) Close() error {
	if !m.released.CompareAndSwap(false, true) {
		return inference.ErrMaskReleased
	}
	return m.mat.Close()
}
