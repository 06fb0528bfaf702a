package motion

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/open-teleop/presence/pkg/config"
)

// Component selects one axis of a rotation delta.
type Component string

const (
	ComponentX Component = "x"
	ComponentY Component = "y"
	ComponentZ Component = "z"
)

// Of returns the selected component of v.
func (c Component) Of(v r3.Vector) float64 {
	switch c {
	case ComponentX:
		return v.X
	case ComponentZ:
		return v.Z
	default:
		return v.Y
	}
}

// TargetScale clamps a tilt to ±MaxTilt radians and maps it linearly onto
// ±OutputRange.
type TargetScale struct {
	Axis        Component
	MaxTilt     float64
	OutputRange float64
}

// NewTargetScale builds a scale from a profile target.
func NewTargetScale(cfg config.TargetConfig) TargetScale {
	return TargetScale{
		Axis:        Component(cfg.Axis),
		MaxTilt:     cfg.MaxTiltDegrees * math.Pi / 180.0,
		OutputRange: cfg.OutputRange,
	}
}

// Clamp limits tilt to ±MaxTilt.
func (s TargetScale) Clamp(tilt float64) float64 {
	return math.Max(-s.MaxTilt, math.Min(s.MaxTilt, tilt))
}

// Apply clamps and rescales a tilt in radians.
func (s TargetScale) Apply(tilt float64) float64 {
	if s.MaxTilt <= 0 {
		return 0
	}
	return s.Clamp(tilt) * s.OutputRange / s.MaxTilt
}

// Tracker accumulates rotation deltas on one axis into a clamped tilt.
// The tilt itself is clamped so reversing direction takes effect immediately.
type Tracker struct {
	scale TargetScale
	tilt  float64
}

// NewTracker creates a tracker at zero tilt.
func NewTracker(scale TargetScale) *Tracker {
	return &Tracker{scale: scale}
}

// Add accumulates a delta and returns the scaled output.
func (t *Tracker) Add(delta r3.Vector) float64 {
	t.tilt = t.scale.Clamp(t.tilt + t.scale.Axis.Of(delta))
	return t.Output()
}

// Output returns the current scaled output.
func (t *Tracker) Output() float64 {
	return t.scale.Apply(t.tilt)
}

// Tilt returns the accumulated tilt in radians.
func (t *Tracker) Tilt() float64 {
	return t.tilt
}

// SetScale replaces the scale, keeping the tilt within the new bounds.
func (t *Tracker) SetScale(scale TargetScale) {
	t.scale = scale
	t.tilt = scale.Clamp(t.tilt)
}

// Reset returns to zero tilt.
func (t *Tracker) Reset() {
	t.tilt = 0
}
