package fit

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/e7canasta/dentar/internal/types"
)

// Placement is the transform derived from one landmark set.
type Placement struct {
	Openness     float64
	JawRotationX float64

	// Depth is the uniform pivot scale. Position is only meaningful when
	// DepthValid; otherwise the pivot keeps its previous transform.
	Depth      float64
	DepthValid bool
	Position   mgl64.Vec3

	Yaw   float64 // anchor rotation.y
	Pitch float64 // anchor rotation.x
}

// Openness is the lip gap normalized by threshold, clamped to [0,1].
func Openness(upper, lower types.Landmark, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	r := math.Abs(upper.Y-lower.Y) / threshold
	return math.Max(0, math.Min(1, r))
}

// JawRotation maps openness onto the jaw bone's X rotation.
func JawRotation(openness, restOffset, maxRotation float64) float64 {
	return restOffset + openness*maxRotation
}

// DepthScale is (sensitivity/divisor) times the horizontal mouth width.
func DepthScale(sensitivity, divisor float64, left, right types.Landmark) float64 {
	if divisor == 0 {
		return math.NaN()
	}
	return (sensitivity / divisor) * math.Abs(right.X-left.X)
}

// ValidDepth reports whether a depth scale may be written to the pivot.
func ValidDepth(d float64) bool {
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

// ScreenPosition maps the mouth center from normalized screen space to world
// units, lifting it by depth to offset the perspective shift of scaling.
func ScreenPosition(mouth types.Landmark, depth float64, p Params) mgl64.Vec3 {
	return mgl64.Vec3{
		(mouth.X-0.5)*p.ScreenScaleX + p.OffsetX,
		-(mouth.Y-0.5)*p.ScreenScaleY + p.DepthLiftY*depth + p.OffsetY,
		p.OffsetZ,
	}
}

// FoldAngle turns an atan2 result in (-π, π] into a signed deviation from
// ±π, so a frontal pose sits at 0 instead of on the wrap-around.
func FoldAngle(a float64) float64 {
	if a > 0 {
		return -(math.Pi - a)
	}
	return a + math.Pi
}

// HeadAngle converts a bilateral landmark difference into a rotation in
// radians scaled to maxDeg/normalization.
func HeadAngle(dDepth, dAxis, maxDeg, normalization float64) float64 {
	folded := FoldAngle(math.Atan2(dDepth, dAxis))
	return folded * (maxDeg / normalization) * (math.Pi / 180)
}

// Compute derives the full placement from a validated landmark set.
func Compute(lm *types.Landmarks, p Params, sensitivity float64) Placement {
	upper := lm.At(types.LipUpperCenter)
	lower := lm.At(types.LipLowerCenter)

	var pl Placement
	pl.Openness = Openness(upper, lower, p.OpennessThreshold)
	pl.JawRotationX = JawRotation(pl.Openness, p.JawRestOffset, p.MaxJawRotation)

	pl.Depth = DepthScale(sensitivity, p.SensitivityDivisor,
		lm.At(types.MouthCornerLeft), lm.At(types.MouthCornerRight))
	pl.DepthValid = ValidDepth(pl.Depth)
	if pl.DepthValid {
		pl.Position = ScreenPosition(upper, pl.Depth, p)
	}

	left, right := lm.At(types.FaceEdgeLeft), lm.At(types.FaceEdgeRight)
	pl.Yaw = HeadAngle(left.Z-right.Z, left.X-right.X, p.MaxYawDeg, p.RotationNormalization)

	top, chin := lm.At(types.Forehead), lm.At(types.Chin)
	pl.Pitch = HeadAngle(top.Z-chin.Z, top.Y-chin.Y, p.MaxPitchDeg, p.RotationNormalization)

	return pl
}

// smooth moves prev toward target by factor. A factor of 0 or 1 returns
// target unchanged.
func smooth(prev, target, factor float64) float64 {
	if factor <= 0 || factor >= 1 {
		return target
	}
	return prev + (target-prev)*factor
}

func smoothVec(prev, target mgl64.Vec3, factor float64) mgl64.Vec3 {
	return mgl64.Vec3{
		smooth(prev[0], target[0], factor),
		smooth(prev[1], target[1], factor),
		smooth(prev[2], target[2], factor),
	}
}
