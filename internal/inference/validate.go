package inference

import (
	"math"

	"github.com/e7canasta/dentar/internal/types"
)

// Projection maps a landmark from model-input space back to normalized frame
// coordinates.
type Projection func(x, y, z float64) types.Landmark

// LandmarksFromFlat decodes a flat [x0,y0,z0,x1,...] tensor into a validated
// landmark set. Anything other than at least NumFaceLandmarks finite triples
// is rejected.
func LandmarksFromFlat(data []float32, project Projection) (*types.Landmarks, error) {
	if len(data) < types.NumFaceLandmarks*3 || len(data)%3 != 0 {
		return nil, ErrMalformedOutput
	}
	pts := make([]types.Landmark, 0, len(data)/3)
	for i := 0; i+2 < len(data); i += 3 {
		x, y, z := float64(data[i]), float64(data[i+1]), float64(data[i+2])
		if project != nil {
			pts = append(pts, project(x, y, z))
		} else {
			pts = append(pts, types.Landmark{X: x, Y: y, Z: z})
		}
	}
	lm, ok := types.NewLandmarks(pts)
	if !ok {
		return nil, ErrMalformedOutput
	}
	return lm, nil
}

// LandmarksFromPoints validates points already in normalized space.
func LandmarksFromPoints(pts []types.Landmark) (*types.Landmarks, error) {
	lm, ok := types.NewLandmarks(pts)
	if !ok {
		return nil, ErrMalformedOutput
	}
	return lm, nil
}

// Sigmoid converts a raw presence logit to a probability.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
