// Package recorder stores fitted landmark sessions on disk so they can be
// replayed offline through the placement math.
//
// A session file is a stream of msgpack values: one Header followed by one
// Entry per handled frame.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/dentar/internal/fit"
	"github.com/e7canasta/dentar/internal/types"
)

const (
	formatName    = "dentar-session"
	formatVersion = 1
)

var (
	// ErrBadFormat is returned when a file is not a session recording.
	ErrBadFormat = errors.New("recorder: not a session recording")
	// ErrClosed is returned when writing to a closed recorder.
	ErrClosed = errors.New("recorder: closed")
)

// Header opens every session file.
type Header struct {
	Format     string     `msgpack:"format"`
	Version    int        `msgpack:"version"`
	SessionID  string     `msgpack:"session_id"`
	InstanceID string     `msgpack:"instance_id"`
	StartedAt  time.Time  `msgpack:"started_at"`
	Params     fit.Params `msgpack:"params"`
}

// Entry is one handled frame.
type Entry struct {
	FrameSeq    uint64       `msgpack:"seq"`
	OffsetMS    int64        `msgpack:"offset_ms"`
	VideoWidth  int          `msgpack:"w"`
	VideoHeight int          `msgpack:"h"`
	Found       bool         `msgpack:"found"`
	Sensitivity float64      `msgpack:"sensitivity"`
	Landmarks   [][3]float64 `msgpack:"landmarks,omitempty"`
	Pose        fit.Pose     `msgpack:"pose"`
}

// Points converts the stored landmarks back into a validated set. ok is
// false for faceless entries.
func (e Entry) Points() (*types.Landmarks, bool) {
	if !e.Found || len(e.Landmarks) == 0 {
		return nil, false
	}
	pts := make([]types.Landmark, len(e.Landmarks))
	for i, p := range e.Landmarks {
		pts[i] = types.Landmark{X: p[0], Y: p[1], Z: p[2]}
	}
	return types.NewLandmarks(pts)
}

// EntryFromResult flattens a fit result, with its offset from start.
func EntryFromResult(r fit.Result, start time.Time) Entry {
	e := Entry{
		FrameSeq:    r.FrameSeq,
		VideoWidth:  r.VideoWidth,
		VideoHeight: r.VideoHeight,
		Found:       r.Found,
		Sensitivity: r.Sensitivity,
		Pose:        r.Pose,
	}
	if !r.CapturedAt.IsZero() {
		e.OffsetMS = r.CapturedAt.Sub(start).Milliseconds()
	}
	if r.Found && r.Landmarks != nil {
		pts := r.Landmarks.Points()
		e.Landmarks = make([][3]float64, len(pts))
		for i, p := range pts {
			e.Landmarks[i] = [3]float64{p.X, p.Y, p.Z}
		}
	}
	return e
}

// Writer appends entries to a session file. It is a fit.Sink.
type Writer struct {
	path  string
	start time.Time

	mu      sync.Mutex
	f       *os.File
	bw      *bufio.Writer
	enc     *msgpack.Encoder
	entries uint64
	errors  uint64
	closed  bool
}

// Create truncates path and writes the session header.
func Create(path string, h Header) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("recorder: create dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", path, err)
	}

	h.Format = formatName
	h.Version = formatVersion
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}

	bw := bufio.NewWriter(f)
	w := &Writer{
		path:  path,
		start: h.StartedAt,
		f:     f,
		bw:    bw,
		enc:   msgpack.NewEncoder(bw),
	}
	if err := w.enc.Encode(&h); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}

	slog.Info("recorder: session started", "path", path, "session_id", h.SessionID)
	return w, nil
}

// Write appends one entry.
func (w *Writer) Write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.enc.Encode(&e); err != nil {
		w.errors++
		return fmt.Errorf("recorder: write entry: %w", err)
	}
	w.entries++
	return nil
}

// Observe records a fit result. Write errors are logged and counted.
func (w *Writer) Observe(r fit.Result) {
	if err := w.Write(EntryFromResult(r, w.start)); err != nil && !errors.Is(err, ErrClosed) {
		slog.Warn("recorder: dropping entry", "frame_seq", r.FrameSeq, "error", err)
	}
}

// Entries returns how many entries were written.
func (w *Writer) Entries() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries
}

// Close flushes and closes the file. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.bw.Flush()
	closeErr := w.f.Close()

	slog.Info("recorder: session closed",
		"path", w.path,
		"entries", w.entries,
		"errors", w.errors,
	)
	if flushErr != nil {
		return fmt.Errorf("recorder: flush: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("recorder: close: %w", closeErr)
	}
	return nil
}

// Reader iterates a session file.
type Reader struct {
	dec    *msgpack.Decoder
	header Header
	closer io.Closer
}

// Open opens a recording from disk.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header from r. The caller owns r.
func NewReader(r io.Reader) (*Reader, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if h.Format != formatName {
		return nil, fmt.Errorf("%w: format %q", ErrBadFormat, h.Format)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, h.Version)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Header returns the session header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next entry, or io.EOF at the end of the session.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	if err := r.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("recorder: read entry: %w", err)
	}
	return e, nil
}

// Close closes the underlying file when the reader was opened from disk.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
