// Command fitreplay re-runs the placement math over a recorded session,
// optionally with different fit parameters or sensitivity, and writes one
// JSON line per frame.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/cheggaaa/pb/v3"

	"github.com/e7canasta/dentar/internal/config"
	"github.com/e7canasta/dentar/internal/fit"
	"github.com/e7canasta/dentar/internal/recorder"
	"github.com/e7canasta/dentar/internal/types"
)

type frameLine struct {
	Seq         uint64           `json:"seq"`
	OffsetMS    int64            `json:"offset_ms"`
	Found       bool             `json:"found"`
	Sensitivity float64          `json:"sensitivity,omitempty"`
	Pose        *fit.Pose        `json:"pose,omitempty"`
	Recorded    *fit.Pose        `json:"recorded,omitempty"`
	Marker      *fit.MarkerPixel `json:"marker,omitempty"`
}

type summary struct {
	Entries       int     `json:"entries"`
	Faces         int     `json:"faces"`
	Misses        int     `json:"misses"`
	DepthSkipped  int     `json:"depth_skipped"`
	MaxJawDrift   float64 `json:"max_jaw_drift"`
	MaxDepthDrift float64 `json:"max_depth_drift"`
}

func main() {
	in := flag.String("in", "", "Session recording to replay")
	out := flag.String("out", "", "Output file for JSON lines (default stdout)")
	configPath := flag.String("config", "", "Take fit params and viewport from this config instead of the recording")
	sens := flag.Float64("sensitivity", math.NaN(), "Override the recorded sensitivity")
	quiet := flag.Bool("quiet", false, "Hide the progress bar")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if *in == "" {
		fmt.Fprintln(os.Stderr, "fitreplay: -in is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*in, *out, *configPath, *sens, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "fitreplay: %v\n", err)
		os.Exit(1)
	}
}

func run(in, out, configPath string, sensOverride float64, quiet bool) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	bar := pb.New64(info.Size())
	bar.SetTemplate(pb.Full)
	bar.SetWriter(os.Stderr)
	if !quiet {
		bar.Start()
	}
	defer bar.Finish()

	rec, err := recorder.NewReader(bar.NewProxyReader(f))
	if err != nil {
		return err
	}

	h := rec.Header()
	params := h.Params
	viewport := fit.Viewport{Width: 1280, Height: 720, HalfSize: 5}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		params = fit.ParamsFromConfig(cfg.Fit)
		viewport = fit.Viewport{
			Width:    cfg.Viewport.Width,
			Height:   cfg.Viewport.Height,
			HalfSize: cfg.Viewport.MarkerHalfSize,
		}
	}

	w := io.Writer(os.Stdout)
	if out != "" {
		of, err := os.Create(out)
		if err != nil {
			return err
		}
		defer of.Close()
		w = of
	}

	enc := json.NewEncoder(w)
	var sum summary
	for {
		e, err := rec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		line := replay(e, params, viewport, sensOverride, &sum)
		if err := enc.Encode(line); err != nil {
			return err
		}
	}

	bar.Finish()
	slog.Info("replay finished", "session_id", h.SessionID, "entries", sum.Entries)
	return json.NewEncoder(os.Stderr).Encode(map[string]any{
		"session_id":  h.SessionID,
		"instance_id": h.InstanceID,
		"summary":     sum,
	})
}

// replay recomputes one entry. Smoothing is not applied: each frame is
// placed from its own landmarks.
func replay(e recorder.Entry, p fit.Params, vp fit.Viewport, sensOverride float64, sum *summary) frameLine {
	sum.Entries++
	line := frameLine{Seq: e.FrameSeq, OffsetMS: e.OffsetMS, Found: e.Found}

	lm, ok := e.Points()
	if !ok {
		sum.Misses++
		return line
	}
	sum.Faces++

	s := e.Sensitivity
	if !math.IsNaN(sensOverride) {
		s = sensOverride
	}
	line.Sensitivity = s

	pl := fit.Compute(lm, p, s)
	if !pl.DepthValid {
		sum.DepthSkipped++
	}
	pose := fit.Pose{
		Openness:     pl.Openness,
		Depth:        pl.Depth,
		DepthApplied: pl.DepthValid,
		Position:     [3]float64(pl.Position),
		Scale:        pl.Depth,
		Yaw:          pl.Yaw,
		Pitch:        pl.Pitch,
		Jaw:          pl.JawRotationX,
	}
	if left, top, ok := fit.MarkerPosition(lm.At(types.LipUpperCenter), e.VideoWidth, e.VideoHeight, vp); ok {
		line.Marker = &fit.MarkerPixel{Left: left, Top: top}
	}

	recorded := e.Pose
	line.Pose = &pose
	line.Recorded = &recorded
	sum.MaxJawDrift = math.Max(sum.MaxJawDrift, math.Abs(pose.Jaw-recorded.Jaw))
	if pl.DepthValid && recorded.DepthApplied {
		sum.MaxDepthDrift = math.Max(sum.MaxDepthDrift, math.Abs(pose.Depth-recorded.Depth))
	}
	return line
}
