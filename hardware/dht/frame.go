package dht

import (
	"github.com/juju/errors"
)

// Single wire protocol, after host start signal:
// response low 80us, high 80us, then 40 bits each as low 50us + high 26-28us (0) or 70us (1),
// then low 50us end. Falling edge to falling edge period is ~78us for 0 and ~120us for 1.
const (
	frameBits  = 40
	frameEdges = frameBits + 1 // falling edges surrounding all data bits

	bitThresholdNs = 100000
	bitMinNs       = 50000
	bitMaxNs       = 200000
)

type Frame [5]byte

func (f Frame) Valid() bool {
	return f[4] == f[0]+f[1]+f[2]+f[3]
}

// DecodeEdges converts falling edge timestamps (nanoseconds, monotonic kernel clock) into frame.
// Leading edges (response preamble, host release) are ignored, only last frameEdges are used.
func DecodeEdges(falls []uint64) (Frame, error) {
	var f Frame
	if len(falls) == 0 {
		return f, ErrNoResponse
	}
	if len(falls) < frameEdges {
		return f, errors.Annotatef(ErrTimeout, "edges=%d expected=%d", len(falls), frameEdges)
	}
	falls = falls[len(falls)-frameEdges:]
	for i := 0; i < frameBits; i++ {
		if falls[i+1] <= falls[i] {
			return f, errors.Annotatef(ErrTimeout, "bit=%d edges out of order", i)
		}
		period := falls[i+1] - falls[i]
		if period < bitMinNs || period > bitMaxNs {
			return f, errors.Annotatef(ErrTimeout, "bit=%d period=%dns", i, period)
		}
		if period > bitThresholdNs {
			f[i/8] |= 1 << uint(7-i%8)
		}
	}
	return f, nil
}

// Decode validates checksum and converts frame into physical values.
func Decode(t Type, f Frame) (Raw, error) {
	var r Raw
	if f == (Frame{}) {
		// line stuck low or pulled up without sensor
		return r, ErrNoResponse
	}
	if !f.Valid() {
		return r, errors.Annotatef(ErrChecksum, "frame=%x", f[:])
	}
	switch t {
	case DHT11:
		r.Humidity = float32(f[0]) + float32(f[1])/10
		r.Temperature = float32(f[2]) + float32(f[3]&0x7f)/10
		if f[3]&0x80 != 0 {
			r.Temperature = -r.Temperature
		}
	case DHT22:
		r.Humidity = float32(uint16(f[0])<<8|uint16(f[1])) / 10
		r.Temperature = float32(uint16(f[2]&0x7f)<<8|uint16(f[3])) / 10
		if f[2]&0x80 != 0 {
			r.Temperature = -r.Temperature
		}
	default:
		return r, errors.NotValidf("sensor type=%d", t)
	}
	return r, nil
}
