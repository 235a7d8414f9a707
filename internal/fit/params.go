package fit

import (
	"fmt"
	"math"

	"github.com/e7canasta/dentar/internal/config"
)

// Params are the placement constants. The screen factors, depth lift and
// offsets are tunable at runtime; the rest come from the model calibration.
type Params struct {
	OpennessThreshold     float64 `json:"openness_threshold"`
	MaxJawRotation        float64 `json:"max_jaw_rotation"` // radians
	JawRestOffset         float64 `json:"jaw_rest_offset"`  // radians
	MaxYawDeg             float64 `json:"max_yaw_deg"`
	MaxPitchDeg           float64 `json:"max_pitch_deg"`
	RotationNormalization float64 `json:"rotation_normalization"`
	SensitivityDivisor    float64 `json:"sensitivity_divisor"`
	Smoothing             float64 `json:"smoothing"`

	ScreenScaleX float64 `json:"screen_scale_x"`
	ScreenScaleY float64 `json:"screen_scale_y"`
	DepthLiftY   float64 `json:"depth_lift_y"`
	OffsetX      float64 `json:"offset_x"`
	OffsetY      float64 `json:"offset_y"`
	OffsetZ      float64 `json:"offset_z"`
}

// ParamsFromConfig converts a validated fit section.
func ParamsFromConfig(fc config.FitConfig) Params {
	return Params{
		OpennessThreshold:     fc.OpennessThreshold,
		MaxJawRotation:        fc.MaxJawRotationDeg * math.Pi / 180,
		JawRestOffset:         fc.JawRestOffset,
		MaxYawDeg:             fc.MaxYawDeg,
		MaxPitchDeg:           fc.MaxPitchDeg,
		RotationNormalization: fc.RotationNormalization,
		SensitivityDivisor:    fc.SensitivityDivisor,
		Smoothing:             fc.Smoothing,
		ScreenScaleX:          fc.ScreenScaleX,
		ScreenScaleY:          fc.ScreenScaleY,
		DepthLiftY:            fc.DepthLiftY,
		OffsetX:               fc.OffsetX,
		OffsetY:               fc.OffsetY,
		OffsetZ:               fc.OffsetZ,
	}
}

// DefaultParams returns the factory calibration.
func DefaultParams() Params {
	return ParamsFromConfig(config.DefaultFit())
}

// Tuning is a partial update of the runtime-tunable parameters. Nil fields
// are left unchanged.
type Tuning struct {
	OffsetX      *float64 `json:"offset_x,omitempty"`
	OffsetY      *float64 `json:"offset_y,omitempty"`
	OffsetZ      *float64 `json:"offset_z,omitempty"`
	DepthLiftY   *float64 `json:"depth_lift_y,omitempty"`
	ScreenScaleY *float64 `json:"screen_scale_y,omitempty"`
	ScreenScaleX *float64 `json:"screen_scale_x,omitempty"`
}

// Apply returns p with t merged in. Non-finite values are rejected.
func (t Tuning) Apply(p Params) (Params, error) {
	fields := []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"offset_x", t.OffsetX, &p.OffsetX},
		{"offset_y", t.OffsetY, &p.OffsetY},
		{"offset_z", t.OffsetZ, &p.OffsetZ},
		{"depth_lift_y", t.DepthLiftY, &p.DepthLiftY},
		{"screen_scale_y", t.ScreenScaleY, &p.ScreenScaleY},
		{"screen_scale_x", t.ScreenScaleX, &p.ScreenScaleX},
	}
	for _, f := range fields {
		if f.src == nil {
			continue
		}
		if math.IsNaN(*f.src) || math.IsInf(*f.src, 0) {
			return p, fmt.Errorf("fit: %s must be finite", f.name)
		}
		*f.dst = *f.src
	}
	return p, nil
}

// Empty reports whether t changes nothing.
func (t Tuning) Empty() bool {
	return t.OffsetX == nil && t.OffsetY == nil && t.OffsetZ == nil &&
		t.DepthLiftY == nil && t.ScreenScaleY == nil && t.ScreenScaleX == nil
}

// TuningOf extracts the tunable subset of p as a full update.
func TuningOf(p Params) Tuning {
	return Tuning{
		OffsetX:      &p.OffsetX,
		OffsetY:      &p.OffsetY,
		OffsetZ:      &p.OffsetZ,
		DepthLiftY:   &p.DepthLiftY,
		ScreenScaleY: &p.ScreenScaleY,
		ScreenScaleX: &p.ScreenScaleX,
	}
}
