package inference

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/dentar/internal/types"
)

func TestBytesMask_DoubleCloseIsReported(t *testing.T) {
	m, err := NewBytesMask(2, 2, []byte{0, 255, 255, 0})
	require.NoError(t, err)
	assert.Equal(t, byte(255), m.At(1, 0))

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), ErrMaskReleased)
	assert.Equal(t, byte(0), m.At(1, 0), "released mask reads as empty")
}

func TestRelease_SwallowsErrors(t *testing.T) {
	m, _ := NewBytesMask(1, 1, []byte{1})
	Release(m)
	Release(m)
	Release(nil)
}

func TestNewBytesMask_RejectsShapeMismatch(t *testing.T) {
	_, err := NewBytesMask(4, 4, make([]byte, 15))
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func flatMesh(n int, v float32) []float32 {
	out := make([]float32, n*3)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestLandmarksFromFlat(t *testing.T) {
	tests := []struct {
		name    string
		data    []float32
		wantErr bool
	}{
		{"face mesh", flatMesh(468, 0.5), false},
		{"face mesh with iris", flatMesh(478, 0.5), false},
		{"too short", flatMesh(467, 0.5), true},
		{"ragged", append(flatMesh(468, 0.5), 1), true},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lm, err := LandmarksFromFlat(tt.data, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedOutput)
				assert.Nil(t, lm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0.5, lm.At(types.LipUpperCenter).X)
		})
	}
}

func TestCenterCropProjection(t *testing.T) {
	// 1280x720 frame crops to the central 720x720 square.
	c := CenterCrop(1280, 720)
	assert.Equal(t, 280, c.X0)
	assert.Equal(t, 0, c.Y0)
	assert.Equal(t, 720, c.Side)

	p := c.Projection(192)
	mid := p(96, 96, 0)
	assert.InDelta(t, 0.5, mid.X, 1e-9)
	assert.InDelta(t, 0.5, mid.Y, 1e-9)

	corner := p(0, 0, 0)
	assert.InDelta(t, 280.0/1280.0, corner.X, 1e-9)
	assert.InDelta(t, 0, corner.Y, 1e-9)
}

func TestReadMessage_RejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], maxMessageSize+1)
	buf.Write(prefix[:])

	var resp workerResponse
	err := readMessage(&buf, &resp)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestReadMessage_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, workerResponse{Seq: 7}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])

	var resp workerResponse
	assert.Error(t, readMessage(truncated, &resp))
}

// fakeWorker serves the worker protocol over in-memory pipes.
func fakeWorker(spawns *atomic.Int32, handle func(workerRequest) workerResponse) func() (*workerConn, error) {
	return func() (*workerConn, error) {
		spawns.Add(1)
		reqR, reqW := io.Pipe()
		respR, respW := io.Pipe()
		go func() {
			defer respW.Close()
			for {
				var req workerRequest
				if err := readMessage(reqR, &req); err != nil {
					return
				}
				resp := handle(req)
				if resp.Seq == 0 {
					resp.Seq = req.Seq
				}
				if err := writeMessage(respW, resp); err != nil {
					return
				}
			}
		}()
		return &workerConn{w: reqW, r: respR}, nil
	}
}

func meshPoints(n int) [][3]float32 {
	out := make([][3]float32, n)
	for i := range out {
		out[i] = [3]float32{0.5, 0.5, 0}
	}
	return out
}

func newTestEngine(t *testing.T, handle func(workerRequest) workerResponse) (*PythonEngine, *atomic.Int32) {
	t.Helper()
	e, err := NewPythonEngine(PythonEngineConfig{
		Script:          "models/run_face_worker.sh",
		LandmarkerModel: "face_landmarker.task",
		RequestTimeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)
	spawns := &atomic.Int32{}
	e.spawn = fakeWorker(spawns, handle)
	t.Cleanup(func() { e.Close() })
	return e, spawns
}

func testFrame() *types.Frame {
	return &types.Frame{Seq: 3, Width: 2, Height: 2, Data: make([]byte, 12)}
}

func TestPythonEngine_Detect(t *testing.T) {
	points := 468
	e, spawns := newTestEngine(t, func(req workerRequest) workerResponse {
		if req.Type == "detect" {
			return workerResponse{Landmarks: meshPoints(points)}
		}
		return workerResponse{}
	})
	ctx := context.Background()

	_, err := e.Detect(ctx, testFrame(), 0)
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, e.Load(ctx))
	require.NoError(t, e.Load(ctx))
	assert.Equal(t, int32(1), spawns.Load(), "Load is idempotent")

	det, err := e.Detect(ctx, testFrame(), 40*time.Millisecond)
	require.NoError(t, err)
	require.True(t, det.Found())
	assert.Equal(t, uint64(3), det.FrameSeq)
	assert.Equal(t, 40*time.Millisecond, det.Timestamp)

	points = 12
	det, err = e.Detect(ctx, testFrame(), 0)
	require.NoError(t, err, "malformed output is no detection, not an error")
	assert.False(t, det.Found())
}

func TestPythonEngine_Segment(t *testing.T) {
	e, _ := newTestEngine(t, func(req workerRequest) workerResponse {
		if req.Type == "segment" {
			return workerResponse{MaskW: 2, MaskH: 1, Mask: []byte{0, 255}}
		}
		return workerResponse{}
	})
	ctx := context.Background()
	require.NoError(t, e.Load(ctx))

	m, err := e.Segment(ctx, testFrame(), 0)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Width())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), ErrMaskReleased)
}

func TestPythonEngine_WorkerErrorSurfaces(t *testing.T) {
	e, _ := newTestEngine(t, func(req workerRequest) workerResponse {
		if req.Type == "detect" {
			return workerResponse{Error: "frame decode failed"}
		}
		return workerResponse{}
	})
	ctx := context.Background()
	require.NoError(t, e.Load(ctx))

	_, err := e.Detect(ctx, testFrame(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame decode failed")
}

func TestPythonEngine_RespawnsAfterTimeout(t *testing.T) {
	var slow atomic.Bool
	e, spawns := newTestEngine(t, func(req workerRequest) workerResponse {
		if req.Type == "detect" && slow.Load() {
			time.Sleep(400 * time.Millisecond)
		}
		return workerResponse{}
	})
	ctx := context.Background()
	require.NoError(t, e.Load(ctx))

	slow.Store(true)
	_, err := e.Detect(ctx, testFrame(), 0)
	require.Error(t, err)

	slow.Store(false)
	det, err := e.Detect(ctx, testFrame(), 0)
	require.NoError(t, err)
	assert.False(t, det.Found())
	assert.Equal(t, int32(2), spawns.Load())
	assert.Equal(t, uint64(1), e.Stats().Respawns)
}

func TestPythonEngine_ClosedRejectsCalls(t *testing.T) {
	e, _ := newTestEngine(t, func(workerRequest) workerResponse { return workerResponse{} })
	ctx := context.Background()
	require.NoError(t, e.Load(ctx))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Detect(ctx, testFrame(), 0)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, e.Load(ctx), ErrClosed)
}
