package msp

import (
	"sync/atomic"

	"github.com/proeugene/field-syncer/internal/metrics"
)

type decodeState int

const (
	stateIdle decodeState = iota
	stateHeaderMX
	stateDirection
	stateV1Len
	stateV1Code
	stateV1Payload
	stateV1Checksum
	stateV2Flag
	stateV2CodeLo
	stateV2CodeHi
	stateV2LenLo
	stateV2LenHi
	stateV2Payload
	stateV2Checksum
)

// Decoder is a byte-driven state machine over a stream of interleaved MSP v1
// and v2 frames. Checksum mismatches and protocol violations discard the
// in-progress frame silently and resync at the next '$' (the bus may carry
// noise or a late retransmission). One Decoder per transport; not safe for
// concurrent use except for the counter accessors.
type Decoder struct {
	state   decodeState
	version Version
	dir     Direction
	code    uint16
	length  int
	crc     byte
	payload []byte // accumulation buffer, reused across frames

	crcErrors   atomic.Uint64
	consecutive atomic.Uint64
}

// Decode feeds p into the state machine, invoking emit for each frame whose
// checksum validated. Emitted payloads are copies; the internal buffer is
// reused.
func (d *Decoder) Decode(p []byte, emit func(Frame)) {
	for _, b := range p {
		d.feed(b, emit)
	}
}

func (d *Decoder) feed(b byte, emit func(Frame)) {
	switch d.state {
	case stateIdle:
		if b == '$' {
			d.state = stateHeaderMX
		}
	case stateHeaderMX:
		switch b {
		case 'M':
			d.version = V1
			d.state = stateDirection
		case 'X':
			d.version = V2
			d.state = stateDirection
		case '$':
			// stay; previous '$' was noise
		default:
			d.state = stateIdle
		}
	case stateDirection:
		switch b {
		case byte(ToFC), byte(FromFC), byte(ErrorFromFC):
			d.dir = Direction(b)
			d.payload = d.payload[:0]
			if d.version == V1 {
				d.state = stateV1Len
			} else {
				d.crc = 0
				d.state = stateV2Flag
			}
		default:
			d.reject()
		}
	case stateV1Len:
		d.length = int(b)
		d.crc = b
		d.state = stateV1Code
	case stateV1Code:
		d.code = uint16(b)
		d.crc ^= b
		if d.length == 0 {
			d.state = stateV1Checksum
		} else {
			d.state = stateV1Payload
		}
	case stateV1Payload:
		d.payload = append(d.payload, b)
		d.crc ^= b
		if len(d.payload) == d.length {
			d.state = stateV1Checksum
		}
	case stateV1Checksum:
		d.finish(b, emit)
	case stateV2Flag:
		// flag byte is reserved (0); it still participates in the checksum
		d.crc = UpdateDVBS2(b, d.crc)
		d.state = stateV2CodeLo
	case stateV2CodeLo:
		d.code = uint16(b)
		d.crc = UpdateDVBS2(b, d.crc)
		d.state = stateV2CodeHi
	case stateV2CodeHi:
		d.code |= uint16(b) << 8
		d.crc = UpdateDVBS2(b, d.crc)
		d.state = stateV2LenLo
	case stateV2LenLo:
		d.length = int(b)
		d.crc = UpdateDVBS2(b, d.crc)
		d.state = stateV2LenHi
	case stateV2LenHi:
		d.length |= int(b) << 8
		d.crc = UpdateDVBS2(b, d.crc)
		if d.length == 0 {
			d.state = stateV2Checksum
		} else {
			d.state = stateV2Payload
		}
	case stateV2Payload:
		d.payload = append(d.payload, b)
		d.crc = UpdateDVBS2(b, d.crc)
		if len(d.payload) == d.length {
			d.state = stateV2Checksum
		}
	case stateV2Checksum:
		d.finish(b, emit)
	}
}

func (d *Decoder) finish(sum byte, emit func(Frame)) {
	d.state = stateIdle
	if sum != d.crc {
		metrics.IncMalformed()
		d.crcErrors.Add(1)
		d.consecutive.Add(1)
		return
	}
	d.consecutive.Store(0)
	payload := make([]byte, len(d.payload))
	copy(payload, d.payload)
	emit(Frame{Version: d.version, Direction: d.dir, Code: d.code, Payload: payload})
	metrics.IncMSPRx()
}

func (d *Decoder) reject() {
	metrics.IncMalformed()
	d.state = stateIdle
}

// Reset returns the machine to IDLE, discarding any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.payload = d.payload[:0]
}

// CRCErrors is the cumulative checksum-mismatch count.
func (d *Decoder) CRCErrors() uint64 { return d.crcErrors.Load() }

// ConsecutiveCRCErrors is the number of checksum mismatches since the last
// good frame. The transport escalates to a protocol error when it crosses
// its quota mid-request.
func (d *Decoder) ConsecutiveCRCErrors() uint64 { return d.consecutive.Load() }

// ResetCRCStreak clears the consecutive-mismatch counter after an escalation
// so one noisy burst is reported once.
func (d *Decoder) ResetCRCStreak() { d.consecutive.Store(0) }
