package input

import (
	"context"
	"fmt"

	"github.com/open-teleop/presence/pkg/config"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/motion"
)

// Source delivers gamepad frames until ctx is cancelled or the device fails.
type Source interface {
	Run(ctx context.Context, handle func(motion.AxisFrame)) error
	Close() error
}

// OpenSource opens the gamepad selected by cfg. It returns a nil Source for
// the none backend.
func OpenSource(cfg config.JoystickConfig, logger customlog.Logger) (Source, error) {
	if logger == nil {
		logger = customlog.Discard()
	}
	switch cfg.Backend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendEvdev:
		src, err := OpenEvdev(cfg.Device, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.BackendJoystick:
		src, err := OpenJoystick(cfg, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown joystick backend %q", cfg.Backend)
	}
}

// normalizeAbs maps a raw value in [min, max] onto [-1, 1] and scales the
// flat radius with it.
func normalizeAbs(value, min, max, flat int32) motion.AxisReading {
	span := float64(max) - float64(min)
	if span <= 0 {
		return motion.AxisReading{}
	}
	v := 2*(float64(value)-float64(min))/span - 1
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return motion.AxisReading{Value: v, Flat: 2 * float64(flat) / span}
}
