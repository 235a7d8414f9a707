package onnx

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/e7canasta/dentar/internal/inference"
	"github.com/e7canasta/dentar/internal/types"
)

// inputTensor converts an RGB frame into an NHWC float32 tensor in [0,1] of
// size×size, center-cropped to a square.
func inputTensor(frame *types.Frame, size int) ([]float32, inference.Crop, error) {
	if !frame.Valid() {
		return nil, inference.Crop{}, fmt.Errorf("onnx: invalid frame %dx%d (%d bytes)", frame.Width, frame.Height, len(frame.Data))
	}
	crop := inference.CenterCrop(frame.Width, frame.Height)

	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, crop, fmt.Errorf("onnx: wrap frame: %w", err)
	}
	defer src.Close()

	region := src.Region(image.Rect(crop.X0, crop.Y0, crop.X0+crop.Side, crop.Y0+crop.Side))
	defer region.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	resized.ConvertToWithParams(&floatMat, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	data, err := floatMat.DataPtrFloat32()
	if err != nil {
		return nil, crop, fmt.Errorf("onnx: tensor data: %w", err)
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, crop, nil
}

// thresholdMask turns per-pixel confidences into an 8-bit Mat (0 or 255).
func thresholdMask(conf []float32, size int, threshold float64) (gocv.Mat, error) {
	if len(conf) != size*size {
		return gocv.NewMat(), inference.ErrMalformedOutput
	}
	buf := make([]byte, len(conf))
	for i, v := range conf {
		if float64(v) >= threshold {
			buf[i] = 255
		}
	}
	m, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8U, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("onnx: mask mat: %w", err)
	}
	defer m.Close()
	return m.Clone(), nil
}
