package motion

import "math"

// Axis names a physical gamepad axis.
type Axis string

const (
	AxisX    Axis = "x"
	AxisY    Axis = "y"
	AxisZ    Axis = "z"
	AxisRX   Axis = "rx"
	AxisRY   Axis = "ry"
	AxisRZ   Axis = "rz"
	AxisHatX Axis = "hat_x"
	AxisHatY Axis = "hat_y"
)

// Velocity step bounds driven by the hat switch.
const (
	MinStep = 1
	MaxStep = 3
)

// AxisReading is a normalized axis value with its dead-zone radius.
type AxisReading struct {
	Value float64 `json:"value"`
	Flat  float64 `json:"flat"`
}

// AxisFrame is one snapshot of all reported axes.
type AxisFrame map[Axis]AxisReading

// Direction is the centered stick direction.
type Direction struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CenteredAxis returns value when it lies outside the flat radius, else 0.
func CenteredAxis(value, flat float64) float64 {
	if math.Abs(value) > flat {
		return value
	}
	return 0
}

// Normalizer resolves X/Y directions through ordered axis candidates and
// steps the velocity with the hat switch. Not safe for concurrent use.
type Normalizer struct {
	xAxes   []Axis
	yAxes   []Axis
	hatAxis Axis
	step    int
	lastHat float64
}

// NewNormalizer creates a normalizer starting at the minimum step.
func NewNormalizer(xAxes, yAxes []Axis, hatAxis Axis) *Normalizer {
	return &Normalizer{
		xAxes:   append([]Axis(nil), xAxes...),
		yAxes:   append([]Axis(nil), yAxes...),
		hatAxis: hatAxis,
		step:    MinStep,
	}
}

// AxesFromNames converts configured axis names.
func AxesFromNames(names []string) []Axis {
	axes := make([]Axis, 0, len(names))
	for _, name := range names {
		axes = append(axes, Axis(name))
	}
	return axes
}

func firstCentered(frame AxisFrame, candidates []Axis) float64 {
	for _, axis := range candidates {
		reading, ok := frame[axis]
		if !ok {
			continue
		}
		if v := CenteredAxis(reading.Value, reading.Flat); v != 0 {
			return v
		}
	}
	return 0
}

// Direction returns the first non-zero centered candidate for X and Y.
func (n *Normalizer) Direction(frame AxisFrame) Direction {
	return Direction{
		X: firstCentered(frame, n.xAxes),
		Y: firstCentered(frame, n.yAxes),
	}
}

// StepFromHat updates the velocity step when the hat value changes. Up is
// negative. The bool reports whether the step changed.
func (n *Normalizer) StepFromHat(frame AxisFrame) (int, bool) {
	reading, ok := frame[n.hatAxis]
	if !ok {
		return n.step, false
	}
	hat := CenteredAxis(reading.Value, reading.Flat)
	if hat == n.lastHat {
		return n.step, false
	}
	n.lastHat = hat

	previous := n.step
	switch {
	case hat < 0 && n.step < MaxStep:
		n.step++
	case hat > 0 && n.step > MinStep:
		n.step--
	}
	return n.step, n.step != previous
}

// Process resolves the direction and the velocity step for one frame.
func (n *Normalizer) Process(frame AxisFrame) (Direction, int, bool) {
	step, changed := n.StepFromHat(frame)
	return n.Direction(frame), step, changed
}

// Step returns the current velocity step.
func (n *Normalizer) Step() int {
	return n.step
}

// SetStep aligns the counter with an externally chosen step.
func (n *Normalizer) SetStep(step int) {
	if step < MinStep {
		step = MinStep
	}
	if step > MaxStep {
		step = MaxStep
	}
	n.step = step
}
