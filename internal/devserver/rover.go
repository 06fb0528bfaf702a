package devserver

import (
	"math"
	"sync"
)

// RoverState is the command-driven part of the simulated rover.
type RoverState struct {
	Velocity       int     `json:"velocity"`
	Moving         bool    `json:"moving"`
	CameraRotation float64 `json:"camera_rotation"`
	Rotation       float64 `json:"rotation"`
}

// Rover simulates the sensors of a remote rover and applies operator
// commands. It is safe for concurrent use.
type Rover struct {
	mu    sync.Mutex
	state RoverState
	ticks int

	temperature   float64
	humidity      float64
	frontObstacle float64
	backObstacle  float64
}

// NewRover returns a rover parked at velocity step 1.
func NewRover() *Rover {
	return &Rover{
		state:         RoverState{Velocity: 1},
		temperature:   21.0,
		humidity:      40.0,
		frontObstacle: 150,
		backObstacle:  200,
	}
}

// State returns a copy of the command state.
func (r *Rover) State() RoverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Rover) SetVelocity(step int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Velocity = step
}

func (r *Rover) SetMoving(moving bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Moving = moving
}

func (r *Rover) SetCameraRotation(value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.CameraRotation = value
}

func (r *Rover) SetRotation(value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Rotation = value
}

// Step advances the simulation by one telemetry tick. A moving rover closes
// on the obstacle ahead at a rate set by its velocity step and finds open
// ground again once it gets within 10 cm.
func (r *Rover) Step() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
	r.temperature = 21.0 + 0.5*math.Sin(float64(r.ticks)/10)
	r.humidity = 40.0 + 2*math.Cos(float64(r.ticks)/15)
	if r.state.Moving {
		r.frontObstacle -= float64(5 * r.state.Velocity)
		if r.frontObstacle < 10 {
			r.frontObstacle = 150
		}
	}
}

// Telemetry returns the sensor readings keyed by their wire names.
func (r *Rover) Telemetry() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]interface{}{
		"temp":          math.Round(r.temperature*10) / 10,
		"humidity":      math.Round(r.humidity*10) / 10,
		"frontObstacle": r.frontObstacle,
		"backObstacle":  r.backObstacle,
		"co":            0.4,
		"ch4":           0.1,
		"h2":            0.05,
		"lpg":           0.2,
	}
}

// SessionInfo returns the video stream parameters.
func (r *Rover) SessionInfo() map[string]interface{} {
	return map[string]interface{}{
		"bufferDuration": 0.4,
		"videoWidth":     1280,
		"videoHeight":    720,
	}
}
