package recorder

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/dentar/internal/fit"
	"github.com/e7canasta/dentar/internal/types"
)

func testLandmarks(t *testing.T) *types.Landmarks {
	t.Helper()
	pts := make([]types.Landmark, types.NumFaceLandmarks)
	for i := range pts {
		pts[i] = types.Landmark{X: float64(i) / 1000, Y: 0.5, Z: -0.01}
	}
	lm, ok := types.NewLandmarks(pts)
	require.True(t, ok)
	return lm
}

func TestWriterReaderSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "booth.msgpack")
	start := time.Now()

	w, err := Create(path, Header{SessionID: "s-1", InstanceID: "booth-1", StartedAt: start, Params: fit.DefaultParams()})
	require.NoError(t, err)

	lm := testLandmarks(t)
	w.Observe(fit.Result{
		FrameSeq:    7,
		CapturedAt:  start.Add(40 * time.Millisecond),
		VideoWidth:  640,
		VideoHeight: 480,
		Found:       true,
		Landmarks:   lm,
		Sensitivity: 29,
		Pose:        fit.Pose{Openness: 0.4, Depth: 0.12, Marker: &fit.MarkerPixel{Left: 10, Top: 20}},
	})
	w.Observe(fit.Result{FrameSeq: 8, CapturedAt: start.Add(80 * time.Millisecond)})
	assert.Equal(t, uint64(2), w.Entries())

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(Entry{}), ErrClosed)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	h := r.Header()
	assert.Equal(t, "s-1", h.SessionID)
	assert.Equal(t, fit.DefaultParams(), h.Params)

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), first.FrameSeq)
	assert.Equal(t, int64(40), first.OffsetMS)
	assert.Equal(t, 29.0, first.Sensitivity)
	require.NotNil(t, first.Pose.Marker)
	assert.Equal(t, 20, first.Pose.Marker.Top)

	got, ok := first.Points()
	require.True(t, ok)
	assert.Equal(t, lm.Points(), got.Points())

	second, err := r.Next()
	require.NoError(t, err)
	assert.False(t, second.Found)
	_, ok = second.Points()
	assert.False(t, ok)

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReaderRejectsForeignData(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("not msgpack at all")))
	assert.ErrorIs(t, err, ErrBadFormat)

	var buf bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(&Header{Format: "other", Version: 1}))
	_, err = NewReader(&buf)
	assert.ErrorIs(t, err, ErrBadFormat)

	buf.Reset()
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(&Header{Format: formatName, Version: 99}))
	_, err = NewReader(&buf)
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.msgpack"))
	assert.Error(t, err)
}
