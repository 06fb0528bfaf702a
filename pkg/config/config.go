package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Control modes select what the orientation stream drives.
const (
	ModeDisabled = "disabled"
	ModeCamera   = "camera"
	ModeRobot    = "robot"
)

// Joystick backends.
const (
	BackendNone     = "none"
	BackendEvdev    = "evdev"
	BackendJoystick = "joystick"
)

// Target names used in the targets section.
const (
	TargetCamera = "camera"
	TargetRobot  = "robot"
)

var knownAxes = map[string]bool{
	"x": true, "y": true, "z": true,
	"rx": true, "ry": true, "rz": true,
	"hat_x": true, "hat_y": true,
}

// ControlProfile is the operational motion-control configuration. It can be
// replaced at runtime through the profile service.
type ControlProfile struct {
	Version     string           `yaml:"version" json:"version"`
	ProfileID   string           `yaml:"profile_id" json:"profile_id"`
	LastUpdated string           `yaml:"lastUpdated" json:"lastUpdated"`
	Control     ControlConfig    `yaml:"control" json:"control"`
	Integrator  IntegratorConfig `yaml:"integrator" json:"integrator"`
	Targets     TargetsConfig    `yaml:"targets" json:"targets"`
	Joystick    JoystickConfig   `yaml:"joystick" json:"joystick"`
}

// ControlConfig selects the control mode and the per-target send rate.
type ControlConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	SendRateHz int    `yaml:"send_rate_hz" json:"send_rate_hz"`
}

// IntegratorConfig holds the orientation integrator thresholds (rad/s and rad).
type IntegratorConfig struct {
	Epsilon     float64 `yaml:"epsilon" json:"epsilon"`
	MinRotation float64 `yaml:"min_rotation" json:"min_rotation"`
}

// TargetsConfig holds the camera and robot scaling independently.
type TargetsConfig struct {
	Camera TargetConfig `yaml:"camera" json:"camera"`
	Robot  TargetConfig `yaml:"robot" json:"robot"`
}

// TargetConfig describes how a rotation delta maps onto one target.
type TargetConfig struct {
	Axis           string  `yaml:"axis" json:"axis"`
	MaxTiltDegrees float64 `yaml:"max_tilt_degrees" json:"max_tilt_degrees"`
	OutputRange    float64 `yaml:"output_range" json:"output_range"`
}

// JoystickConfig selects a gamepad source and the axis fallback order.
type JoystickConfig struct {
	Backend   string         `yaml:"backend" json:"backend"`
	Device    string         `yaml:"device" json:"device"`
	Index     int            `yaml:"index" json:"index"`
	PollHz    int            `yaml:"poll_hz" json:"poll_hz"`
	Flat      float64        `yaml:"flat" json:"flat"`
	XAxes     []string       `yaml:"x_axes" json:"x_axes"`
	YAxes     []string       `yaml:"y_axes" json:"y_axes"`
	HatAxis   string         `yaml:"hat_axis" json:"hat_axis"`
	AxisIndex map[string]int `yaml:"axis_index" json:"axis_index"`
}

// DefaultProfile returns the profile used when no file is present.
func DefaultProfile() *ControlProfile {
	return &ControlProfile{
		Version:   "1.0",
		ProfileID: "default",
		Control: ControlConfig{
			Mode:       ModeCamera,
			SendRateHz: 30,
		},
		Integrator: IntegratorConfig{
			Epsilon:     1.0,
			MinRotation: 0.001,
		},
		Targets: TargetsConfig{
			Camera: TargetConfig{Axis: "y", MaxTiltDegrees: 100, OutputRange: 0.8},
			Robot:  TargetConfig{Axis: "z", MaxTiltDegrees: 100, OutputRange: 0.5},
		},
		Joystick: JoystickConfig{
			Backend: BackendNone,
			PollHz:  33,
			Flat:    0.05,
			XAxes:   []string{"x", "hat_x", "z"},
			YAxes:   []string{"y", "hat_y", "rz"},
			HatAxis: "hat_y",
			AxisIndex: map[string]int{
				"x": 0, "y": 1, "z": 2, "rz": 3, "hat_x": 6, "hat_y": 7,
			},
		},
	}
}

// LoadProfile reads and validates a control profile file.
func LoadProfile(path string) (*ControlProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes YAML on top of DefaultProfile, so omitted sections keep
// their defaults, and validates the result.
func ParseProfile(data []byte) (*ControlProfile, error) {
	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// ValidationError marks a profile rejected on content rather than syntax.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Validate checks modes, rates, target scales and axis names.
func (p *ControlProfile) Validate() error {
	if p.ProfileID == "" {
		return &ValidationError{Field: "profile_id", Reason: "is required"}
	}
	switch p.Control.Mode {
	case ModeDisabled, ModeCamera, ModeRobot:
	default:
		return &ValidationError{Field: "control.mode", Reason: fmt.Sprintf("has unknown value %q", p.Control.Mode)}
	}
	if p.Control.SendRateHz <= 0 {
		return &ValidationError{Field: "control.send_rate_hz", Reason: "must be positive"}
	}
	if p.Integrator.Epsilon <= 0 {
		return &ValidationError{Field: "integrator.epsilon", Reason: "must be positive"}
	}
	if p.Integrator.MinRotation < 0 {
		return &ValidationError{Field: "integrator.min_rotation", Reason: "must not be negative"}
	}
	for name, target := range map[string]TargetConfig{TargetCamera: p.Targets.Camera, TargetRobot: p.Targets.Robot} {
		if target.Axis != "x" && target.Axis != "y" && target.Axis != "z" {
			return &ValidationError{Field: "targets." + name + ".axis", Reason: fmt.Sprintf("has unknown value %q", target.Axis)}
		}
		if target.MaxTiltDegrees <= 0 || target.MaxTiltDegrees > 180 {
			return &ValidationError{Field: "targets." + name + ".max_tilt_degrees", Reason: "must be in (0, 180]"}
		}
		if target.OutputRange <= 0 {
			return &ValidationError{Field: "targets." + name + ".output_range", Reason: "must be positive"}
		}
	}
	switch p.Joystick.Backend {
	case BackendNone, BackendEvdev, BackendJoystick:
	default:
		return &ValidationError{Field: "joystick.backend", Reason: fmt.Sprintf("has unknown value %q", p.Joystick.Backend)}
	}
	if p.Joystick.Flat < 0 || p.Joystick.Flat >= 1 {
		return &ValidationError{Field: "joystick.flat", Reason: "must be in [0, 1)"}
	}
	axes := append(append([]string{}, p.Joystick.XAxes...), p.Joystick.YAxes...)
	axes = append(axes, p.Joystick.HatAxis)
	for _, axis := range axes {
		if !knownAxes[axis] {
			return &ValidationError{Field: "joystick", Reason: fmt.Sprintf("references unknown axis %q", axis)}
		}
	}
	return nil
}

// GetTarget returns the scaling for a named target.
func (p *ControlProfile) GetTarget(name string) (TargetConfig, bool) {
	switch name {
	case TargetCamera:
		return p.Targets.Camera, true
	case TargetRobot:
		return p.Targets.Robot, true
	}
	return TargetConfig{}, false
}

// Marshal encodes the profile back to YAML.
func (p *ControlProfile) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}
