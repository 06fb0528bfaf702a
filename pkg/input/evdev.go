package input

import (
	"encoding/binary"

	"github.com/open-teleop/presence/pkg/motion"
)

// Linux input event types and codes used by gamepads.
const (
	evSyn = 0x00
	evAbs = 0x03

	synReport = 0x00
)

// evdevAxes maps ABS codes to axis names.
var evdevAxes = map[uint16]motion.Axis{
	0x00: motion.AxisX,
	0x01: motion.AxisY,
	0x02: motion.AxisZ,
	0x03: motion.AxisRX,
	0x04: motion.AxisRY,
	0x05: motion.AxisRZ,
	0x10: motion.AxisHatX,
	0x11: motion.AxisHatY,
}

type absRange struct {
	min, max, flat int32
}

// eventParser splits a byte stream into input_event records. The record is
// 24 bytes with a 64-bit timeval and 16 bytes with a 32-bit one.
type eventParser struct {
	buf  []byte
	size int
}

func newEventParser(size int) *eventParser {
	return &eventParser{size: size}
}

func (p *eventParser) feed(chunk []byte, cb func(etype, code uint16, value int32)) {
	p.buf = append(p.buf, chunk...)
	off := p.size - 8
	for len(p.buf) >= p.size {
		ev := p.buf[:p.size]
		p.buf = p.buf[p.size:]
		cb(binary.LittleEndian.Uint16(ev[off:off+2]),
			binary.LittleEndian.Uint16(ev[off+2:off+4]),
			int32(binary.LittleEndian.Uint32(ev[off+4:off+8])))
	}
}

// frameBuilder accumulates ABS values and emits a frame on SYN_REPORT.
type frameBuilder struct {
	ranges map[uint16]absRange
	values map[uint16]int32
}

func newFrameBuilder(ranges map[uint16]absRange) *frameBuilder {
	values := make(map[uint16]int32, len(ranges))
	for code, r := range ranges {
		// Start centered.
		values[code] = r.min + (r.max-r.min)/2
	}
	return &frameBuilder{ranges: ranges, values: values}
}

func (b *frameBuilder) event(etype, code uint16, value int32) (motion.AxisFrame, bool) {
	switch {
	case etype == evAbs:
		if _, ok := b.ranges[code]; ok {
			b.values[code] = value
		}
	case etype == evSyn && code == synReport:
		return b.frame(), true
	}
	return nil, false
}

func (b *frameBuilder) frame() motion.AxisFrame {
	frame := make(motion.AxisFrame, len(b.ranges))
	for code, r := range b.ranges {
		frame[evdevAxes[code]] = normalizeAbs(b.values[code], r.min, r.max, r.flat)
	}
	return frame
}
