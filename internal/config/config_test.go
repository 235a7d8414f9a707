package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("instance_id: booth-1\n"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if cfg.Camera.Backend != "gocv" {
		t.Errorf("camera.backend default = %q, want gocv", cfg.Camera.Backend)
	}
	if cfg.Fit.OpennessThreshold != 0.1 {
		t.Errorf("fit.openness_threshold default = %v, want 0.1", cfg.Fit.OpennessThreshold)
	}
	if cfg.Fit.JawRestOffset != defaultJawRestOffset {
		t.Errorf("fit.jaw_rest_offset default = %v", cfg.Fit.JawRestOffset)
	}
	if cfg.Fit.Smoothing != 0 {
		t.Errorf("fit.smoothing default = %v, want 0 (raw write-back)", cfg.Fit.Smoothing)
	}
	if cfg.Sensitivity.Default != 29 {
		t.Errorf("sensitivity.default = %v, want 29", cfg.Sensitivity.Default)
	}
	if cfg.ShutdownTimeout().Seconds() != 5 {
		t.Errorf("shutdown timeout = %v, want 5s", cfg.ShutdownTimeout())
	}
	if cfg.MQTT.QoS != nil {
		t.Error("mqtt qos should stay nil while mqtt is disabled")
	}
	if cfg.Model.JawBone != "jaw_lower" {
		t.Errorf("model.jaw_bone default = %q", cfg.Model.JawBone)
	}
	if cfg.Model.BoundsMax[1] <= cfg.Model.BoundsMin[1] {
		t.Errorf("model bounds default = %v..%v", cfg.Model.BoundsMin, cfg.Model.BoundsMax)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"missing instance", "camera: {backend: mock}\n", "instance_id is required"},
		{"bad instance", "instance_id: Booth_1\n", "instance_id must match"},
		{"bad camera backend", "instance_id: a\ncamera: {backend: v4l}\n", "unknown backend"},
		{"bad model backend", "instance_id: a\nmodels: {backend: tflite}\n", "unknown backend"},
		{"fps out of range", "instance_id: a\ncamera: {fps: 500}\n", "invalid fps"},
		{"smoothing out of range", "instance_id: a\nfit: {smoothing: 1.5}\n", "smoothing must be in [0,1]"},
		{"negative yaw range", "instance_id: a\nfit: {max_yaw_deg: -5}\n", "max_yaw_deg must be >= 0"},
		{"mqtt without broker", "instance_id: a\nmqtt: {enabled: true}\n", "mqtt.broker is required"},
		{"recorder without path", "instance_id: a\nrecorder: {enabled: true}\n", "recorder.path is required"},
		{"sensitivity outside range", "instance_id: a\nsensitivity: {default: 150}\n", "outside"},
		{"inverted model bounds", "instance_id: a\nmodel: {bounds_min: [1, 0, 0], bounds_max: [0, 1, 1]}\n", "bounds_min must not exceed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Parse() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestParse_ExplicitZeroFitValuesAreKept(t *testing.T) {
	cfg, err := Parse([]byte(`instance_id: booth-1
fit:
  jaw_rest_offset: 0
  max_jaw_rotation_deg: 0
  max_yaw_deg: 0
  max_pitch_deg: 0
  depth_lift_y: 0
`))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	f := cfg.Fit
	for name, v := range map[string]float64{
		"jaw_rest_offset":      f.JawRestOffset,
		"max_jaw_rotation_deg": f.MaxJawRotationDeg,
		"max_yaw_deg":          f.MaxYawDeg,
		"max_pitch_deg":        f.MaxPitchDeg,
		"depth_lift_y":         f.DepthLiftY,
	} {
		if v != 0 {
			t.Errorf("fit.%s = %v, want explicit 0 kept", name, v)
		}
	}
	// Keys absent from the document keep the factory constants.
	if f.ScreenScaleX != 13.3 || f.OpennessThreshold != 0.1 || f.ModelScale != 1.6 {
		t.Errorf("unset fit keys lost their defaults: %+v", f)
	}
}

func TestParse_ZeroDivisorRejected(t *testing.T) {
	for _, key := range []string{"openness_threshold", "rotation_normalization", "sensitivity_divisor", "screen_scale_x", "model_scale"} {
		t.Run(key, func(t *testing.T) {
			_, err := Parse([]byte("instance_id: a\nfit: {" + key + ": 0}\n"))
			if err == nil || !strings.Contains(err.Error(), key+" must be > 0") {
				t.Errorf("Parse() error = %v, want %s rejected", err, key)
			}
		})
	}
}

func TestLoad_MQTTTopicDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dentar.yaml")
	content := "instance_id: booth-7\nmqtt:\n  enabled: true\n  broker: localhost:1883\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.MQTT.Topics.Pose != "dentar/pose/booth-7" {
		t.Errorf("pose topic = %q", cfg.MQTT.Topics.Pose)
	}
	if cfg.MQTT.QoS["control"] != 1 {
		t.Errorf("control qos = %d, want 1", cfg.MQTT.QoS["control"])
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Camera.Backend != "mock" {
		t.Errorf("Default() camera backend = %q, want mock", cfg.Camera.Backend)
	}
	if cfg.Fit.FrameInterval().Milliseconds() != 16 {
		t.Errorf("Default() frame interval = %v", cfg.Fit.FrameInterval())
	}
}
