// Package motion turns raw orientation and gamepad samples into bounded
// control values.
package motion

import (
	"math"

	"github.com/golang/geo/r3"
)

const (
	// NS2S converts sensor timestamps (nanoseconds) to seconds.
	NS2S = 1.0 / 1000000000.0

	// DefaultEpsilon is the angular speed (rad/s) above which the axis is normalized.
	DefaultEpsilon = 1.0

	// DefaultMinRotation is the smallest component worth sending.
	DefaultMinRotation = 0.001
)

// GyroSample is one angular-velocity reading in rad/s.
type GyroSample struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	TimestampNs int64   `json:"timestamp_ns"`
}

// Integrator converts successive gyro samples into rotation deltas. The delta
// is sin(ω·dT/2) times the rotation axis, which is the vector part of the
// rotation quaternion without its normalization; consumers rely on this scale.
// Not safe for concurrent use.
type Integrator struct {
	epsilon       float64
	minRotation   float64
	lastTimestamp int64
	primed        bool
}

// NewIntegrator creates an integrator. A non-positive epsilon or a negative
// minRotation selects the default; a minRotation of zero emits every non-zero
// delta.
func NewIntegrator(epsilon, minRotation float64) *Integrator {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if minRotation < 0 {
		minRotation = DefaultMinRotation
	}
	return &Integrator{epsilon: epsilon, minRotation: minRotation}
}

// Integrate consumes one sample and returns the rotation delta since the
// previous sample. The bool is false when nothing should be emitted: on the
// first sample, on non-increasing timestamps, and when no component exceeds
// the minimum rotation.
func (i *Integrator) Integrate(s GyroSample) (r3.Vector, bool) {
	previous, primed := i.lastTimestamp, i.primed
	i.lastTimestamp = s.TimestampNs
	i.primed = true

	if !primed || s.TimestampNs <= previous {
		return r3.Vector{}, false
	}

	dT := float64(s.TimestampNs-previous) * NS2S
	axis := r3.Vector{X: s.X, Y: s.Y, Z: s.Z}
	omega := axis.Norm()

	if omega > i.epsilon {
		axis = axis.Mul(1 / omega)
	}

	halfTheta := omega * dT / 2.0
	delta := axis.Mul(math.Sin(halfTheta))

	if math.Abs(delta.X) > i.minRotation ||
		math.Abs(delta.Y) > i.minRotation ||
		math.Abs(delta.Z) > i.minRotation {
		return delta, true
	}
	return r3.Vector{}, false
}

// Reset forgets the previous timestamp, so the next sample only primes.
func (i *Integrator) Reset() {
	i.lastTimestamp = 0
	i.primed = false
}
