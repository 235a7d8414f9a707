package types

import "time"

// Detection is the tagged result of one inference round. Exactly one of the
// states holds: a face was found (Landmarks != nil) or it was not.
type Detection struct {
	// Landmarks is the validated face mesh, nil when no face was detected or
	// the engine output was malformed.
	Landmarks *Landmarks
	// FrameSeq is the sequence number of the source frame.
	FrameSeq uint64
	// Timestamp is the inference timestamp passed to the engine.
	Timestamp time.Duration
	// Latency is the wall time spent inside the engine.
	Latency time.Duration
}

// Found reports whether the detection carries a face.
func (d Detection) Found() bool {
	return d.Landmarks != nil
}

// NoFace returns an empty detection for the given frame.
func NoFace(seq uint64, ts time.Duration) Detection {
	return Detection{FrameSeq: seq, Timestamp: ts}
}
