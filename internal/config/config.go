package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dentar configuration
type Config struct {
	InstanceID       string            `yaml:"instance_id"`
	ShutdownTimeoutS int               `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig      `yaml:"camera"`
	Models           ModelsConfig      `yaml:"models"`
	Model            ModelConfig       `yaml:"model"`
	Fit              FitConfig         `yaml:"fit"`
	Viewport         ViewportConfig    `yaml:"viewport"`
	Sensitivity      SensitivityConfig `yaml:"sensitivity"`
	Zoom             ZoomConfig        `yaml:"zoom"`
	MQTT             MQTTConfig        `yaml:"mqtt"`
	Health           HealthConfig      `yaml:"health"`
	Recorder         RecorderConfig    `yaml:"recorder"`
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Backend       string  `yaml:"backend"`         // gocv, gst, mock
	Device        string  `yaml:"device"`          // device index ("0"), path (/dev/video0) or file
	Width         int     `yaml:"width"`           // requested capture width
	Height        int     `yaml:"height"`          // requested capture height
	FPS           float64 `yaml:"fps"`             // requested capture rate
	OpenRetries   int     `yaml:"open_retries"`    // attempts before giving up on the device
	ReadyTimeoutS int     `yaml:"ready_timeout_s"` // how long Run waits for the first decodable frame
}

// ModelsConfig contains inference engine settings
type ModelsConfig struct {
	Backend        string           `yaml:"backend"`          // onnx, python
	ORTLibraryPath string           `yaml:"ort_library_path"` // onnxruntime shared library (onnx backend)
	WorkerScript   string           `yaml:"worker_script"`    // MediaPipe worker launcher (python backend)
	Landmarker     LandmarkerConfig `yaml:"landmarker"`
	Segmenter      SegmenterConfig  `yaml:"segmenter"`
}

// LandmarkerConfig configures the face mesh model
type LandmarkerConfig struct {
	ModelPath              string  `yaml:"model_path"`
	InputSize              int     `yaml:"input_size"`               // square model input (192 for face mesh)
	MinDetectionConfidence float64 `yaml:"min_detection_confidence"` // face presence threshold
	MinTrackingConfidence  float64 `yaml:"min_tracking_confidence"`
}

// SegmenterConfig configures the optional person segmentation model
type SegmenterConfig struct {
	Disabled  bool    `yaml:"disabled"`
	ModelPath string  `yaml:"model_path"`
	InputSize int     `yaml:"input_size"` // square model input (256 for selfie segmenter)
	Threshold float64 `yaml:"threshold"`  // foreground probability cut
}

// ModelConfig describes the dental model the fit writes into
type ModelConfig struct {
	Name      string     `yaml:"name"`
	JawBone   string     `yaml:"jaw_bone"`   // lower jaw bone name
	BoundsMin [3]float64 `yaml:"bounds_min"` // unscaled bounding box
	BoundsMax [3]float64 `yaml:"bounds_max"`
}

// FitConfig contains the placement calibration constants
type FitConfig struct {
	OpennessThreshold     float64 `yaml:"openness_threshold"`     // lip distance mapped to fully open
	MaxJawRotationDeg     float64 `yaml:"max_jaw_rotation_deg"`   // jaw bone travel at full openness
	JawRestOffset         float64 `yaml:"jaw_rest_offset"`        // jaw bone rest pose (radians)
	MaxYawDeg             float64 `yaml:"max_yaw_deg"`            // anchor yaw range
	MaxPitchDeg           float64 `yaml:"max_pitch_deg"`          // anchor pitch range
	RotationNormalization float64 `yaml:"rotation_normalization"` // divisor applied to the yaw/pitch ranges
	ScreenScaleX          float64 `yaml:"screen_scale_x"`         // normalized X to world units
	ScreenScaleY          float64 `yaml:"screen_scale_y"`         // normalized Y to world units
	DepthLiftY            float64 `yaml:"depth_lift_y"`           // vertical lift per unit of depth scale
	OffsetX               float64 `yaml:"offset_x"`
	OffsetY               float64 `yaml:"offset_y"`
	OffsetZ               float64 `yaml:"offset_z"`
	Smoothing             float64 `yaml:"smoothing"`           // 0 = raw write-back, (0,1] = exponential factor
	SensitivityDivisor    float64 `yaml:"sensitivity_divisor"` // depth = sensitivity/divisor * mouth width
	FrameIntervalMS       int     `yaml:"frame_interval_ms"`   // loop tick (display refresh)
	ModelScale            float64 `yaml:"model_scale"`         // static model scale under the anchor
	HotReload             bool    `yaml:"hot_reload"`          // watch the config file for fit changes
}

// ViewportConfig describes the overlay surface the marker is placed on
type ViewportConfig struct {
	Width          int  `yaml:"width"`
	Height         int  `yaml:"height"`
	Marker         bool `yaml:"marker"`
	MarkerHalfSize int  `yaml:"marker_half_size"`
}

// SensitivityConfig contains the depth slider range
type SensitivityConfig struct {
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// ZoomConfig contains freeze/zoom choreography settings
type ZoomConfig struct {
	CameraSwitch       bool    `yaml:"camera_switch"` // match-cut to a perspective camera
	FOVDeg             float64 `yaml:"fov_deg"`
	FrustumHeight      float64 `yaml:"frustum_height"` // orthographic frustum height
	CameraZ            float64 `yaml:"camera_z"`
	ApproachRatio      float64 `yaml:"approach_ratio"` // fraction of match-cut distance to approach
	ApproachDrop       float64 `yaml:"approach_drop"`  // camera Y drop per unit of final scale
	PivotLift          float64 `yaml:"pivot_lift"`     // pivot Y lift per unit of final scale
	IntoMouthZ         float64 `yaml:"into_mouth_z"`
	IntoMouthDurationS float64 `yaml:"into_mouth_duration_s"`
	IntoMouthTilt      float64 `yaml:"into_mouth_tilt"` // fraction of pi
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled"`
	Broker  string          `yaml:"broker"`
	Topics  MQTTTopics      `yaml:"topics"`
	QoS     map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	Pose    string `yaml:"pose"`
	Health  string `yaml:"health"`
}

// HealthConfig contains the health endpoint settings
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// RecorderConfig controls landmark session recording
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// ReadyTimeout returns how long to wait for the camera's first frame.
func (c *CameraConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutS) * time.Second
}

// FrameInterval returns the loop tick.
func (f *FitConfig) FrameInterval() time.Duration {
	return time.Duration(f.FrameIntervalMS) * time.Millisecond
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes and validates the result. The fit section starts
// from DefaultFit, so only keys present in the document override the factory
// constants and an explicit zero is kept.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Fit: DefaultFit()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration for a local mock setup.
func Default() *Config {
	cfg := &Config{
		InstanceID: "dentar-local",
		Camera:     CameraConfig{Backend: "mock"},
		Fit:        DefaultFit(),
	}
	// Defaults on a mock camera cannot fail validation.
	_ = Validate(cfg)
	return cfg
}
