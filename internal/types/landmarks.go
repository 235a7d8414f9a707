package types

import "math"

// Face mesh landmark indices (MediaPipe 468-point topology). Indices are a
// positional contract with the inference engine and never change meaning.
const (
	LipUpperCenter   = 13
	LipLowerCenter   = 14
	MouthCornerLeft  = 78
	MouthCornerRight = 308
	FaceEdgeLeft     = 234
	FaceEdgeRight    = 454
	Forehead         = 10
	Chin             = 152

	// NumFaceLandmarks is the size of one face mesh.
	NumFaceLandmarks = 468
)

// Landmark is one tracked facial keypoint. X and Y are normalized screen
// coordinates in [0,1]; Z is relative depth in engine-defined units.
type Landmark struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Finite reports whether all three coordinates are finite numbers.
func (l Landmark) Finite() bool {
	return !math.IsNaN(l.X) && !math.IsInf(l.X, 0) &&
		!math.IsNaN(l.Y) && !math.IsInf(l.Y, 0) &&
		!math.IsNaN(l.Z) && !math.IsInf(l.Z, 0)
}

// Landmarks is one validated face mesh. It is only constructed through
// NewLandmarks, so holders can index the semantic points without bounds checks.
type Landmarks struct {
	points [NumFaceLandmarks]Landmark
}

// NewLandmarks validates raw engine output. It returns false for any
// malformed shape: wrong length or non-finite coordinates.
func NewLandmarks(points []Landmark) (*Landmarks, bool) {
	if len(points) < NumFaceLandmarks {
		return nil, false
	}
	lm := &Landmarks{}
	for i := 0; i < NumFaceLandmarks; i++ {
		if !points[i].Finite() {
			return nil, false
		}
		lm.points[i] = points[i]
	}
	return lm, true
}

// At returns landmark i. Out-of-range indices return the zero landmark.
func (l *Landmarks) At(i int) Landmark {
	if l == nil || i < 0 || i >= NumFaceLandmarks {
		return Landmark{}
	}
	return l.points[i]
}

// Points returns a copy of all landmarks.
func (l *Landmarks) Points() []Landmark {
	if l == nil {
		return nil
	}
	out := make([]Landmark, NumFaceLandmarks)
	copy(out, l.points[:])
	return out
}

// Clone returns an independent copy.
func (l *Landmarks) Clone() *Landmarks {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
