package config

import (
	"fmt"
	"math"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Jaw rest pose of the bundled dental model, in radians.
const defaultJawRestOffset = -0.878365774778483

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateModels(&cfg.Models); err != nil {
		return fmt.Errorf("models: %w", err)
	}
	if err := validateModel(&cfg.Model); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := ValidateFit(&cfg.Fit); err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	// Viewport
	if cfg.Viewport.Width <= 0 {
		cfg.Viewport.Width = 1280
	}
	if cfg.Viewport.Height <= 0 {
		cfg.Viewport.Height = 720
	}
	if cfg.Viewport.MarkerHalfSize <= 0 {
		cfg.Viewport.MarkerHalfSize = 5
	}

	// Sensitivity slider
	if cfg.Sensitivity.Max == 0 {
		cfg.Sensitivity.Max = 100
	}
	if cfg.Sensitivity.Min >= cfg.Sensitivity.Max {
		return fmt.Errorf("sensitivity.min must be < sensitivity.max")
	}
	if cfg.Sensitivity.Default == 0 {
		cfg.Sensitivity.Default = 29
	}
	if cfg.Sensitivity.Default < cfg.Sensitivity.Min || cfg.Sensitivity.Default > cfg.Sensitivity.Max {
		return fmt.Errorf("sensitivity.default %.2f outside [%.2f, %.2f]",
			cfg.Sensitivity.Default, cfg.Sensitivity.Min, cfg.Sensitivity.Max)
	}

	validateZoom(&cfg.Zoom)

	// MQTT is optional; topics and QoS get defaults only when enabled
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("dentar/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Pose == "" {
			cfg.MQTT.Topics.Pose = fmt.Sprintf("dentar/pose/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("dentar/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"pose":    0,
				"health":  0,
			}
		}
	}

	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":8080"
	}

	if cfg.Recorder.Enabled && cfg.Recorder.Path == "" {
		return fmt.Errorf("recorder.path is required when recorder is enabled")
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	switch c.Backend {
	case "":
		c.Backend = "gocv"
	case "gocv", "gst", "mock":
	default:
		return fmt.Errorf("unknown backend '%s' (must be gocv, gst or mock)", c.Backend)
	}
	if c.Device == "" {
		c.Device = "0"
	}
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 720
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.FPS < 0.1 || c.FPS > 120 {
		return fmt.Errorf("invalid fps %.2f (must be 0.1-120)", c.FPS)
	}
	if c.OpenRetries <= 0 {
		c.OpenRetries = 5
	}
	if c.ReadyTimeoutS <= 0 {
		c.ReadyTimeoutS = 10
	}
	return nil
}

func validateModels(m *ModelsConfig) error {
	switch m.Backend {
	case "":
		m.Backend = "onnx"
	case "onnx", "python":
	default:
		return fmt.Errorf("unknown backend '%s' (must be onnx or python)", m.Backend)
	}

	if m.Backend == "python" && m.WorkerScript == "" {
		m.WorkerScript = "models/run_face_worker.sh"
	}

	if m.Landmarker.ModelPath == "" {
		m.Landmarker.ModelPath = "models/face_landmark.onnx"
	}
	if m.Landmarker.InputSize <= 0 {
		m.Landmarker.InputSize = 192
	}
	if m.Landmarker.MinDetectionConfidence == 0 {
		m.Landmarker.MinDetectionConfidence = 0.5
	}
	if m.Landmarker.MinTrackingConfidence == 0 {
		m.Landmarker.MinTrackingConfidence = 0.5
	}
	if m.Landmarker.MinDetectionConfidence < 0 || m.Landmarker.MinDetectionConfidence > 1 {
		return fmt.Errorf("landmarker.min_detection_confidence must be in [0,1]")
	}

	if !m.Segmenter.Disabled {
		if m.Segmenter.ModelPath == "" {
			m.Segmenter.ModelPath = "models/selfie_segmenter.onnx"
		}
		if m.Segmenter.InputSize <= 0 {
			m.Segmenter.InputSize = 256
		}
		if m.Segmenter.Threshold == 0 {
			m.Segmenter.Threshold = 0.5
		}
	}
	return nil
}

func validateModel(m *ModelConfig) error {
	if m.Name == "" {
		m.Name = "teeth"
	}
	if m.JawBone == "" {
		m.JawBone = "jaw_lower"
	}
	if m.BoundsMin == ([3]float64{}) && m.BoundsMax == ([3]float64{}) {
		m.BoundsMin = [3]float64{-2.5, -3, -3}
		m.BoundsMax = [3]float64{2.5, 2, 3}
	}
	for i := range m.BoundsMin {
		if m.BoundsMin[i] > m.BoundsMax[i] {
			return fmt.Errorf("bounds_min must not exceed bounds_max on axis %d", i)
		}
	}
	return nil
}

// DefaultFit returns the factory placement constants of the bundled model.
func DefaultFit() FitConfig {
	return FitConfig{
		OpennessThreshold:     0.1,
		MaxJawRotationDeg:     50,
		JawRestOffset:         defaultJawRestOffset,
		MaxYawDeg:             40,
		MaxPitchDeg:           27,
		RotationNormalization: 0.6,
		ScreenScaleX:          13.3,
		ScreenScaleY:          9.5,
		DepthLiftY:            6.0,
		SensitivityDivisor:    20,
		FrameIntervalMS:       16,
		ModelScale:            1.6,
	}
}

// ValidateFit rejects unusable placement constants. Zero is a valid value
// for the jaw, rotation ranges, depth lift and offsets; defaults come from
// DefaultFit, not from here. It is exported so hot-reloaded fit sections go
// through the same rules.
func ValidateFit(f *FitConfig) error {
	for name, v := range map[string]float64{
		"openness_threshold":     f.OpennessThreshold,
		"rotation_normalization": f.RotationNormalization,
		"sensitivity_divisor":    f.SensitivityDivisor,
		"screen_scale_x":         f.ScreenScaleX,
		"screen_scale_y":         f.ScreenScaleY,
		"model_scale":            f.ModelScale,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be > 0, got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"max_jaw_rotation_deg": f.MaxJawRotationDeg,
		"max_yaw_deg":          f.MaxYawDeg,
		"max_pitch_deg":        f.MaxPitchDeg,
	} {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be >= 0, got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"jaw_rest_offset": f.JawRestOffset,
		"depth_lift_y":    f.DepthLiftY,
		"offset_x":        f.OffsetX,
		"offset_y":        f.OffsetY,
		"offset_z":        f.OffsetZ,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite", name)
		}
	}
	if f.Smoothing < 0 || f.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in [0,1], got %.2f", f.Smoothing)
	}
	if f.FrameIntervalMS <= 0 {
		f.FrameIntervalMS = 16
	}
	return nil
}

func validateZoom(z *ZoomConfig) {
	if z.FOVDeg <= 0 {
		z.FOVDeg = 35
	}
	if z.FrustumHeight <= 0 {
		z.FrustumHeight = 10
	}
	if z.CameraZ == 0 {
		z.CameraZ = 10
	}
	if z.ApproachRatio <= 0 {
		z.ApproachRatio = 0.18
	}
	if z.ApproachDrop == 0 {
		z.ApproachDrop = 8
	}
	if z.PivotLift == 0 {
		z.PivotLift = 6
	}
	if z.IntoMouthZ == 0 {
		z.IntoMouthZ = -15
	}
	if z.IntoMouthDurationS <= 0 {
		z.IntoMouthDurationS = 2.5
	}
	if z.IntoMouthTilt == 0 {
		z.IntoMouthTilt = 0.1
	}
}
