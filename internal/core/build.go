package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/inference"
	"github.com/e7canasta/dentar/internal/inference/onnx"
	"github.com/e7canasta/dentar/internal/scene"
	"github.com/e7canasta/dentar/internal/stream"
	"github.com/e7canasta/dentar/internal/stream/gocvcam"
	"github.com/e7canasta/dentar/internal/stream/gstcam"
)

// buildSource creates the camera selected by camera.backend.
func buildSource(cfg config.CameraConfig) (stream.Source, error) {
	retry := stream.DefaultRetryConfig()
	retry.MaxRetries = cfg.OpenRetries

	switch cfg.Backend {
	case "gocv":
		return gocvcam.New(gocvcam.Config{
			Device: cfg.Device,
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
			Retry:  retry,
		})
	case "gst":
		return gstcam.New(gstcam.Config{
			Device: cfg.Device,
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
			Retry:  retry,
		})
	case "mock":
		return stream.NewMockSource(cfg.Width, cfg.Height, cfg.FPS), nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
	}
}

// buildEngines creates the inference engines selected by models.backend.
// The python backend serves landmarks and segmentation from one worker.
func buildEngines(cfg config.ModelsConfig, instanceID string) (inference.Engines, error) {
	switch cfg.Backend {
	case "onnx":
		lmk, err := onnx.NewLandmarker(onnx.LandmarkerConfig{
			ModelPath:     cfg.Landmarker.ModelPath,
			LibraryPath:   cfg.ORTLibraryPath,
			InputSize:     cfg.Landmarker.InputSize,
			MinConfidence: cfg.Landmarker.MinDetectionConfidence,
		})
		if err != nil {
			return inference.Engines{}, fmt.Errorf("failed to create onnx landmarker: %w", err)
		}
		engines := inference.Engines{Landmarks: lmk}

		if !cfg.Segmenter.Disabled {
			seg, err := onnx.NewSegmenter(onnx.SegmenterConfig{
				ModelPath:   cfg.Segmenter.ModelPath,
				LibraryPath: cfg.ORTLibraryPath,
				InputSize:   cfg.Segmenter.InputSize,
				Threshold:   cfg.Segmenter.Threshold,
			})
			if err != nil {
				return inference.Engines{}, fmt.Errorf("failed to create onnx segmenter: %w", err)
			}
			engines.Segmenter = seg
		}

		slog.Info("onnx engines configured",
			"landmarker", cfg.Landmarker.ModelPath,
			"segmenter_enabled", !cfg.Segmenter.Disabled,
		)
		return engines, nil

	case "python":
		pcfg := inference.PythonEngineConfig{
			WorkerID:               instanceID + "-face",
			Script:                 cfg.WorkerScript,
			LandmarkerModel:        cfg.Landmarker.ModelPath,
			MinDetectionConfidence: cfg.Landmarker.MinDetectionConfidence,
			MinTrackingConfidence:  cfg.Landmarker.MinTrackingConfidence,
			RequestTimeout:         2 * time.Second,
		}
		if !cfg.Segmenter.Disabled {
			pcfg.SegmenterModel = cfg.Segmenter.ModelPath
			pcfg.SegmentationThreshold = cfg.Segmenter.Threshold
		}
		engine, err := inference.NewPythonEngine(pcfg)
		if err != nil {
			return inference.Engines{}, fmt.Errorf("failed to create python engine: %w", err)
		}
		engines := inference.Engines{Landmarks: engine}
		if !cfg.Segmenter.Disabled {
			engines.Segmenter = engine
		}

		slog.Info("python engine configured",
			"script", cfg.WorkerScript,
			"segmenter_enabled", !cfg.Segmenter.Disabled,
		)
		return engines, nil

	default:
		return inference.Engines{}, fmt.Errorf("unknown models backend %q", cfg.Backend)
	}
}

// buildScene creates the anchor hierarchy with the dental model attached,
// and the camera rig looking at it.
func buildScene(cfg *config.Config) (*scene.Anchor, *scene.Rig) {
	anchor := scene.NewAnchor()

	model := scene.NewNode(cfg.Model.Name)
	jaw := scene.NewNode(cfg.Model.JawBone)
	model.Add(jaw)

	bounds := scene.Box{
		Min: mgl64.Vec3(cfg.Model.BoundsMin),
		Max: mgl64.Vec3(cfg.Model.BoundsMax),
	}
	anchor.AttachModel(model, jaw, bounds, cfg.Fit.ModelScale)

	aspect := float64(cfg.Viewport.Width) / float64(cfg.Viewport.Height)
	rig := scene.NewRig(scene.NewOrthographic(cfg.Zoom.FrustumHeight, aspect, cfg.Zoom.CameraZ))

	slog.Info("scene ready",
		"model", cfg.Model.Name,
		"jaw_bone", cfg.Model.JawBone,
		"model_scale", cfg.Fit.ModelScale,
		"aspect", aspect,
	)
	return anchor, rig
}
