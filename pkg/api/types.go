package api

import (
	"github.com/open-teleop/presence/pkg/motion"
)

// Event types pushed to /ws/events clients.
const (
	EventTypeState     = "state"
	EventTypeTelemetry = "telemetry"
	EventTypeRole      = "role"
	EventTypeNotice    = "notice"
	EventTypeError     = "error"
)

// Control message types accepted on /ws/control.
const (
	ControlTypeGyro = "gyro"
	ControlTypeAxes = "axes"
	ControlTypeMode = "mode"
)

// EventMessage is one text frame on /ws/events.
type EventMessage struct {
	Type        string      `json:"type"`
	Data        interface{} `json:"data"`
	TimestampNs int64       `json:"timestamp_ns"`
}

// StatePayload is the data of a state event.
type StatePayload struct {
	State       string `json:"state"`
	Description string `json:"description"`
}

// RolePayload is the data of a role event.
type RolePayload struct {
	Operator bool `json:"operator"`
}

// ControlMessage is one text frame received on /ws/control.
type ControlMessage struct {
	Type string             `json:"type"`
	Gyro *motion.GyroSample `json:"gyro,omitempty"`
	Axes motion.AxisFrame   `json:"axes,omitempty"`
	Mode string             `json:"mode,omitempty"`
}

// RoleRequest is the body of PUT /api/v1/session/role.
type RoleRequest struct {
	Operator *bool `json:"operator"`
}
