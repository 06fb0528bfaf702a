package session

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StreamSettings describes the video stream pushed by the rover.
type StreamSettings struct {
	BufferDuration float64 `json:"buffer_duration"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

// Telemetry holds the last known rover values. Fields update independently.
type Telemetry struct {
	Temperature    float64        `json:"temperature"`
	Humidity       float64        `json:"humidity"`
	FrontObstacle  float64        `json:"front_obstacle"`
	BackObstacle   float64        `json:"back_obstacle"`
	CO             float64        `json:"co"`
	CH4            float64        `json:"ch4"`
	H2             float64        `json:"h2"`
	LPG            float64        `json:"lpg"`
	Velocity       int            `json:"velocity"`
	Moving         bool           `json:"moving"`
	CameraRotation float64        `json:"camera_rotation"`
	RobotRotation  float64        `json:"robot_rotation"`
	Stream         StreamSettings `json:"stream"`
}

// DefaultTelemetry returns the values shown before any data arrives.
func DefaultTelemetry() Telemetry {
	return Telemetry{
		FrontObstacle: -1,
		BackObstacle:  -1,
		Velocity:      1,
		Stream: StreamSettings{
			BufferDuration: 0.4,
			Width:          1280,
			Height:         720,
		},
	}
}

var telemetryFields = map[string]func(t *Telemetry, v float64){
	"temp":           func(t *Telemetry, v float64) { t.Temperature = v },
	"humidity":       func(t *Telemetry, v float64) { t.Humidity = v },
	"frontObstacle":  func(t *Telemetry, v float64) { t.FrontObstacle = v },
	"backObstacle":   func(t *Telemetry, v float64) { t.BackObstacle = v },
	"co":             func(t *Telemetry, v float64) { t.CO = v },
	"ch4":            func(t *Telemetry, v float64) { t.CH4 = v },
	"h2":             func(t *Telemetry, v float64) { t.H2 = v },
	"lpg":            func(t *Telemetry, v float64) { t.LPG = v },
	"bufferDuration": func(t *Telemetry, v float64) { t.Stream.BufferDuration = v },
	"videoWidth":     func(t *Telemetry, v float64) { t.Stream.Width = int(v) },
	"videoHeight":    func(t *Telemetry, v float64) { t.Stream.Height = int(v) },
}

// Apply updates the fields present in a telemetry payload and returns how many
// were applied. Missing, null or unparsable fields are skipped. Only a payload
// that is not a JSON object is an error.
func (t *Telemetry) Apply(payload []byte) (int, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0, fmt.Errorf("telemetry payload is not an object: %w", err)
	}

	applied := 0
	for name, raw := range fields {
		set, ok := telemetryFields[name]
		if !ok {
			continue
		}
		if v, ok := parseNumber(raw); ok {
			set(t, v)
			applied++
		}
	}
	return applied, nil
}

// parseNumber accepts a JSON number or a string holding one. NaN and the
// infinities are rejected since the snapshot must stay JSON encodable.
func parseNumber(raw json.RawMessage) (float64, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, false
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
