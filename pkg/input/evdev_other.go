//go:build !linux

package input

import (
	"context"
	"errors"

	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/motion"
)

// EvdevSource is only available on Linux.
type EvdevSource struct{}

// OpenEvdev reports that evdev is unsupported on this platform.
func OpenEvdev(path string, logger customlog.Logger) (*EvdevSource, error) {
	return nil, errors.New("evdev backend is only supported on linux")
}

// Run implements Source.
func (s *EvdevSource) Run(ctx context.Context, handle func(motion.AxisFrame)) error {
	return errors.New("evdev backend is only supported on linux")
}

// Close implements Source.
func (s *EvdevSource) Close() error { return nil }
