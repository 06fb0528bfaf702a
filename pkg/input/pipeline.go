// Package input feeds orientation and gamepad samples into the session.
package input

import (
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/presence/pkg/config"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/motion"
)

// Commander receives control values. session.Controller implements it.
type Commander interface {
	SetVelocity(step int) error
	SetMoving(moving bool)
	SetCameraRotation(value float64)
	SetRobotRotation(value float64)
}

// Pipeline turns gyro samples into camera or robot rotations and axis frames
// into velocity, movement and steering. It also implements Commander so that
// commands from other inputs keep the gamepad state in step with the rover.
// It is safe for concurrent use.
type Pipeline struct {
	commander Commander
	logger    customlog.Logger
	now       func() time.Time

	mu          sync.Mutex
	mode        string
	minInterval time.Duration
	integrator  *motion.Integrator
	camera      *motion.Tracker
	robot       *motion.Tracker
	robotScale  motion.TargetScale
	lastSent    map[string]time.Time
	pending     map[string]bool
	normalizer  *motion.Normalizer
	moving      bool
	steering    float64
}

// NewPipeline creates a pipeline configured from profile.
func NewPipeline(profile *config.ControlProfile, commander Commander, logger customlog.Logger) *Pipeline {
	if logger == nil {
		logger = customlog.Discard()
	}
	p := &Pipeline{
		commander: commander,
		logger:    logger,
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
		pending:   make(map[string]bool),
	}
	p.ApplyProfile(profile)
	return p
}

// ApplyProfile reconfigures the pipeline. Accumulated tilt is kept and clamped
// to the new bounds; the integrator restarts from the next sample.
func (p *Pipeline) ApplyProfile(profile *config.ControlProfile) {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mode = profile.Control.Mode
	p.minInterval = 0
	if profile.Control.SendRateHz > 0 {
		p.minInterval = time.Second / time.Duration(profile.Control.SendRateHz)
	}
	p.integrator = motion.NewIntegrator(profile.Integrator.Epsilon, profile.Integrator.MinRotation)

	cameraScale := motion.NewTargetScale(profile.Targets.Camera)
	p.robotScale = motion.NewTargetScale(profile.Targets.Robot)
	if p.camera == nil {
		p.camera = motion.NewTracker(cameraScale)
		p.robot = motion.NewTracker(p.robotScale)
	} else {
		p.camera.SetScale(cameraScale)
		p.robot.SetScale(p.robotScale)
	}

	step := motion.MinStep
	if p.normalizer != nil {
		step = p.normalizer.Step()
	}
	joystick := profile.Joystick
	p.normalizer = motion.NewNormalizer(
		motion.AxesFromNames(joystick.XAxes),
		motion.AxesFromNames(joystick.YAxes),
		motion.Axis(joystick.HatAxis),
	)
	p.normalizer.SetStep(step)

	p.logger.Infof("Input pipeline configured: mode=%s send_rate=%dHz", p.mode, profile.Control.SendRateHz)
}

// SetMode switches what the orientation stream drives.
func (p *Pipeline) SetMode(mode string) error {
	switch mode {
	case config.ModeDisabled, config.ModeCamera, config.ModeRobot:
	default:
		return fmt.Errorf("unknown control mode %q", mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != mode {
		p.logger.Infof("Control mode %s -> %s", p.mode, mode)
		p.mode = mode
		p.integrator.Reset()
	}
	return nil
}

// Mode returns the current control mode.
func (p *Pipeline) Mode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// HandleGyro integrates one sample and sends the resulting rotation. A
// rotation held back by the send rate stays pending and goes out with the
// first sample after the interval, moving or not, so the last position of a
// burst is always delivered.
func (p *Pipeline) HandleGyro(sample motion.GyroSample) {
	p.mu.Lock()
	delta, moved := p.integrator.Integrate(sample)

	target, tracker, send := p.activeTarget()
	if tracker == nil {
		p.mu.Unlock()
		return
	}
	if moved {
		tracker.Add(delta)
		p.pending[target] = true
	}
	if !p.pending[target] || !p.allow(target) {
		p.mu.Unlock()
		return
	}
	p.pending[target] = false
	value := tracker.Output()
	p.mu.Unlock()

	send(value)
}

// activeTarget returns the target driven by the current mode. Callers hold p.mu.
func (p *Pipeline) activeTarget() (string, *motion.Tracker, func(float64)) {
	switch p.mode {
	case config.ModeCamera:
		return config.TargetCamera, p.camera, p.commander.SetCameraRotation
	case config.ModeRobot:
		return config.TargetRobot, p.robot, p.commander.SetRobotRotation
	}
	return "", nil, nil
}

// allow applies the per-target send rate. Callers hold p.mu.
func (p *Pipeline) allow(target string) bool {
	if p.minInterval <= 0 {
		return true
	}
	now := p.now()
	if last, ok := p.lastSent[target]; ok && now.Sub(last) < p.minInterval {
		return false
	}
	p.lastSent[target] = now
	return true
}

// HandleAxes processes one gamepad frame.
func (p *Pipeline) HandleAxes(frame motion.AxisFrame) {
	p.mu.Lock()
	dir, step, stepChanged := p.normalizer.Process(frame)

	moving := dir.Y != 0
	movingChanged := moving != p.moving
	p.moving = moving

	steering := p.robotScale.OutputRange * dir.X
	steeringChanged := steering != p.steering
	p.steering = steering
	p.mu.Unlock()

	if stepChanged {
		if err := p.commander.SetVelocity(step); err != nil {
			p.logger.Warnf("Failed to set velocity %d: %v", step, err)
		}
	}
	if movingChanged {
		p.commander.SetMoving(moving)
	}
	if steeringChanged {
		p.commander.SetRobotRotation(steering)
	}
}

// SetVelocity forwards a velocity step and moves the hat counter to it, so
// the next hat press steps from the velocity actually in use.
func (p *Pipeline) SetVelocity(step int) error {
	if err := p.commander.SetVelocity(step); err != nil {
		return err
	}
	p.mu.Lock()
	p.normalizer.SetStep(step)
	p.mu.Unlock()
	return nil
}

// SetMoving forwards a movement command and records it as the current state.
func (p *Pipeline) SetMoving(moving bool) {
	p.mu.Lock()
	p.moving = moving
	p.mu.Unlock()
	p.commander.SetMoving(moving)
}

func (p *Pipeline) SetCameraRotation(value float64) {
	p.commander.SetCameraRotation(value)
}

func (p *Pipeline) SetRobotRotation(value float64) {
	p.commander.SetRobotRotation(value)
}
