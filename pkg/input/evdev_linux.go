//go:build linux

package input

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unsafe"

	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/motion"
	"golang.org/x/sys/unix"
)

type absInfo struct {
	Value      int32
	Min        int32
	Max        int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
	iocRead      = 2
)

func evioCGAbs(code uint16) uintptr {
	// EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo)
	return uintptr(iocRead<<iocDirShift |
		uint32('E')<<iocTypeShift |
		(0x40+uint32(code))<<iocNRShift |
		uint32(unsafe.Sizeof(absInfo{}))<<iocSizeShift)
}

func getAbsInfo(fd int, code uint16) (absInfo, error) {
	var info absInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), evioCGAbs(code), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return absInfo{}, errno
	}
	return info, nil
}

// EvdevSource reads a gamepad from /dev/input/eventN. The flat radius of each
// axis comes from the device.
type EvdevSource struct {
	file   *os.File
	ranges map[uint16]absRange
	logger customlog.Logger
}

// OpenEvdev opens an event device and reads its axis ranges.
func OpenEvdev(path string, logger customlog.Logger) (*EvdevSource, error) {
	if path == "" {
		return nil, errors.New("evdev backend requires joystick.device")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	ranges := make(map[uint16]absRange)
	for code, axis := range evdevAxes {
		info, err := getAbsInfo(int(file.Fd()), code)
		if err != nil || info.Max <= info.Min {
			continue
		}
		ranges[code] = absRange{min: info.Min, max: info.Max, flat: info.Flat}
		logger.Debugf("Axis %s range [%d, %d] flat %d", axis, info.Min, info.Max, info.Flat)
	}
	if len(ranges) == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("%s reports no absolute axes", path)
	}

	logger.Infof("Opened evdev gamepad %s with %d axes", path, len(ranges))
	return &EvdevSource{file: file, ranges: ranges, logger: logger}, nil
}

// Run implements Source.
func (s *EvdevSource) Run(ctx context.Context, handle func(motion.AxisFrame)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.file.Close() })
	defer stop()

	size := 24
	if unsafe.Sizeof(uintptr(0)) == 4 {
		size = 16
	}
	parser := newEventParser(size)
	builder := newFrameBuilder(s.ranges)
	buf := make([]byte, size*64)

	for {
		n, err := s.file.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("evdev read: %w", err)
		}
		parser.feed(buf[:n], func(etype, code uint16, value int32) {
			if frame, ok := builder.event(etype, code, value); ok {
				handle(frame)
			}
		})
	}
}

// Close implements Source.
func (s *EvdevSource) Close() error {
	err := s.file.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
