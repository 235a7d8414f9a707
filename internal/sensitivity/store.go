// Package sensitivity holds the user-adjustable depth sensitivity (the
// slider). The fit loop reads it once per frame; control handlers write it.
package sensitivity

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
)

// Store is a clamped float value safe for concurrent reads and writes.
type Store struct {
	min, max float64
	def      float64
	bits     atomic.Uint64
}

// New creates a store holding def, bounded to [min, max].
func New(def, min, max float64) (*Store, error) {
	if !(min < max) {
		return nil, fmt.Errorf("sensitivity: min (%v) must be less than max (%v)", min, max)
	}
	if def < min || def > max || math.IsNaN(def) {
		return nil, fmt.Errorf("sensitivity: default %v outside [%v, %v]", def, min, max)
	}
	s := &Store{min: min, max: max, def: def}
	s.bits.Store(math.Float64bits(def))
	return s, nil
}

// Value returns the current sensitivity.
func (s *Store) Value() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Set stores v clamped to the range and returns what was stored. NaN is
// rejected and leaves the value unchanged.
func (s *Store) Set(v float64) float64 {
	if math.IsNaN(v) {
		slog.Warn("sensitivity: ignoring NaN value")
		return s.Value()
	}
	clamped := math.Max(s.min, math.Min(s.max, v))
	if clamped != v {
		slog.Debug("sensitivity: value clamped", "requested", v, "stored", clamped)
	}
	s.bits.Store(math.Float64bits(clamped))
	return clamped
}

// Reset restores the default.
func (s *Store) Reset() {
	s.bits.Store(math.Float64bits(s.def))
}

// Range returns the accepted bounds.
func (s *Store) Range() (min, max float64) {
	return s.min, s.max
}
