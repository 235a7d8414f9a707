// Package tween runs eased, time-bounded interpolations keyed by property.
// Starting a tween on a key that is already animating preempts the old one.
package tween

import "math"

// Ease maps linear progress in [0,1] to eased progress.
type Ease func(p float64) float64

// Linear is the identity curve.
func Linear(p float64) float64 { return p }

// PowerIn returns the ease-in curve of the given power, p^(power+1).
// Power 1 is quadratic, power 2 cubic.
func PowerIn(power int) Ease {
	exp := float64(power + 1)
	return func(p float64) float64 {
		return math.Pow(p, exp)
	}
}

// PowerInOut returns the symmetric ease-in-out curve of the given power.
func PowerInOut(power int) Ease {
	exp := float64(power + 1)
	return func(p float64) float64 {
		if p < 0.5 {
			return math.Pow(2*p, exp) / 2
		}
		return 1 - math.Pow(2*(1-p), exp)/2
	}
}

var (
	Power1In    = PowerIn(1)
	Power2InOut = PowerInOut(2)
)
