package main

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/dentar/internal/fit"
	"github.com/e7canasta/dentar/internal/recorder"
	"github.com/e7canasta/dentar/internal/types"
)

func mouthLandmarks(t *testing.T) *types.Landmarks {
	t.Helper()
	pts := make([]types.Landmark, types.NumFaceLandmarks)
	for i := range pts {
		pts[i] = types.Landmark{X: 0.5, Y: 0.5}
	}
	pts[types.LipLowerCenter] = types.Landmark{X: 0.5, Y: 0.6}
	pts[types.MouthCornerLeft] = types.Landmark{X: 0.45, Y: 0.52}
	pts[types.MouthCornerRight] = types.Landmark{X: 0.55, Y: 0.52}
	lm, ok := types.NewLandmarks(pts)
	require.True(t, ok)
	return lm
}

func writeSession(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "session.msgpack")
	w, err := recorder.Create(path, recorder.Header{
		SessionID:  "s-1",
		InstanceID: "booth-1",
		Params:     fit.DefaultParams(),
	})
	require.NoError(t, err)

	start := time.Now()
	w.Observe(fit.Result{FrameSeq: 1, CapturedAt: start, VideoWidth: 1280, VideoHeight: 720})
	w.Observe(fit.Result{
		FrameSeq:    2,
		CapturedAt:  start.Add(16 * time.Millisecond),
		VideoWidth:  1280,
		VideoHeight: 720,
		Found:       true,
		Landmarks:   mouthLandmarks(t),
		Sensitivity: 20,
		Pose:        fit.Pose{Depth: 0.1, DepthApplied: true, Jaw: fit.DefaultParams().JawRestOffset + fit.DefaultParams().MaxJawRotation},
	})
	require.NoError(t, w.Close())
	return path
}

func TestReplayRecomputesPlacement(t *testing.T) {
	dir := t.TempDir()
	in := writeSession(t, dir)
	out := filepath.Join(dir, "out.jsonl")

	require.NoError(t, run(in, out, "", math.NaN(), true))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	var lines []frameLine
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l frameLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)

	assert.False(t, lines[0].Found)
	assert.Nil(t, lines[0].Pose)

	got := lines[1]
	require.NotNil(t, got.Pose)
	assert.Equal(t, 20.0, got.Sensitivity)
	assert.InDelta(t, 1.0, got.Pose.Openness, 1e-9)
	assert.InDelta(t, 0.1, got.Pose.Depth, 1e-9)
	require.NotNil(t, got.Marker)
	assert.Equal(t, fit.MarkerPixel{Left: 635, Top: 355}, *got.Marker)
}

func TestReplaySensitivityOverride(t *testing.T) {
	var sum summary
	e := recorder.EntryFromResult(fit.Result{
		Found:       true,
		Landmarks:   mouthLandmarks(t),
		Sensitivity: 20,
		VideoWidth:  1280,
		VideoHeight: 720,
	}, time.Now())

	line := replay(e, fit.DefaultParams(), fit.Viewport{Width: 1280, Height: 720, HalfSize: 5}, 40, &sum)
	require.NotNil(t, line.Pose)
	assert.InDelta(t, 0.2, line.Pose.Depth, 1e-9)
	assert.Equal(t, 1, sum.Faces)

	line = replay(e, fit.DefaultParams(), fit.Viewport{}, 0, &sum)
	assert.False(t, line.Pose.DepthApplied)
	assert.Nil(t, line.Marker)
	assert.Equal(t, 1, sum.DepthSkipped)
}

func TestReplayRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, []byte("not a session"), 0o644))
	assert.ErrorIs(t, run(path, "", "", math.NaN(), true), recorder.ErrBadFormat)
}
