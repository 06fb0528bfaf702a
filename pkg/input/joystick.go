package input

import (
	"context"
	"fmt"
	"time"

	"github.com/0xcafed00d/joystick"
	"github.com/open-teleop/presence/pkg/config"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/motion"
)

const joystickAxisMax = 32767

// JoystickSource polls a gamepad through the portable joystick library. The
// library does not report dead zones, so the flat radius comes from config.
type JoystickSource struct {
	js        joystick.Joystick
	axisIndex map[motion.Axis]int
	flat      float64
	interval  time.Duration
	logger    customlog.Logger
}

// OpenJoystick opens the gamepad at cfg.Index.
func OpenJoystick(cfg config.JoystickConfig, logger customlog.Logger) (*JoystickSource, error) {
	js, err := joystick.Open(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to open joystick %d: %w", cfg.Index, err)
	}

	pollHz := cfg.PollHz
	if pollHz <= 0 {
		pollHz = 33
	}
	axisIndex := make(map[motion.Axis]int, len(cfg.AxisIndex))
	for name, idx := range cfg.AxisIndex {
		if idx >= 0 && idx < js.AxisCount() {
			axisIndex[motion.Axis(name)] = idx
		}
	}

	logger.Infof("Opened joystick %d (%s) with %d axes, %d buttons",
		cfg.Index, js.Name(), js.AxisCount(), js.ButtonCount())
	return &JoystickSource{
		js:        js,
		axisIndex: axisIndex,
		flat:      cfg.Flat,
		interval:  time.Second / time.Duration(pollHz),
		logger:    logger,
	}, nil
}

// Run implements Source.
func (s *JoystickSource) Run(ctx context.Context, handle func(motion.AxisFrame)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			state, err := s.js.Read()
			if err != nil {
				return fmt.Errorf("joystick read: %w", err)
			}
			handle(axisFrame(state.AxisData, s.axisIndex, s.flat))
		}
	}
}

// Close implements Source.
func (s *JoystickSource) Close() error {
	s.js.Close()
	return nil
}

func axisFrame(data []int, axisIndex map[motion.Axis]int, flat float64) motion.AxisFrame {
	frame := make(motion.AxisFrame, len(axisIndex))
	for axis, idx := range axisIndex {
		if idx >= len(data) {
			continue
		}
		v := float64(data[idx]) / joystickAxisMax
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		frame[axis] = motion.AxisReading{Value: v, Flat: flat}
	}
	return frame
}
