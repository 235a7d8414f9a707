package inference

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single worker message (a 1080p RGB frame is ~6 MB).
const maxMessageSize = 64 << 20

// writeMessage encodes v as msgpack behind a 4-byte big-endian length prefix.
func writeMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write msgpack data: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("%w: message of %d bytes exceeds limit", ErrMalformedOutput, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: unmarshal msgpack: %v", ErrMalformedOutput, err)
	}
	return nil
}

// Worker protocol messages.

type workerRequest struct {
	Type   string `msgpack:"type"` // ping | detect | segment
	Seq    uint64 `msgpack:"seq"`
	TsMS   int64  `msgpack:"ts_ms"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Data   []byte `msgpack:"data,omitempty"`
}

type workerResponse struct {
	Seq       uint64       `msgpack:"seq"`
	Error     string       `msgpack:"error,omitempty"`
	Landmarks [][3]float32 `msgpack:"landmarks,omitempty"`
	MaskW     int          `msgpack:"mask_w,omitempty"`
	MaskH     int          `msgpack:"mask_h,omitempty"`
	Mask      []byte       `msgpack:"mask,omitempty"`
}
