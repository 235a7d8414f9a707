package inference

import "github.com/e7canasta/dentar/internal/types"

// Crop is the centered square region of a frame fed to a square model
// input.
type Crop struct {
	X0, Y0, Side  int
	Width, Height int
}

// CenterCrop returns the largest centered square of a width×height frame.
func CenterCrop(width, height int) Crop {
	side := width
	if height < side {
		side = height
	}
	return Crop{
		X0:     (width - side) / 2,
		Y0:     (height - side) / 2,
		Side:   side,
		Width:  width,
		Height: height,
	}
}

// Projection maps model-input pixel coordinates back to normalized frame
// coordinates. Depth scales with the horizontal axis.
func (c Crop) Projection(inputSize int) Projection {
	k := float64(c.Side) / float64(inputSize)
	return func(x, y, z float64) types.Landmark {
		return types.Landmark{
			X: (float64(c.X0) + x*k) / float64(c.Width),
			Y: (float64(c.Y0) + y*k) / float64(c.Height),
			Z: z * k / float64(c.Width),
		}
	}
}
