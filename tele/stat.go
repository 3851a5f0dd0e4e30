package tele

import (
	"sync/atomic"
	"time"

	"github.com/temoto/envagent/helpers/atomic_clock"
)

type Stat struct {
	Reports       uint32
	Attempts      uint32
	SendErrors    uint32
	Delivered     uint32
	Rejected      uint32 // delivered with non-2xx status
	Exhausted     uint32
	LastDelivered time.Time
}

type stat struct {
	lastDelivered atomic_clock.Clock // first for 64-bit atomic alignment on arm

	reports    uint32
	attempts   uint32
	sendErrors uint32
	delivered  uint32
	rejected   uint32
	exhausted  uint32
}

func (s *stat) snapshot() Stat {
	r := Stat{
		Reports:    atomic.LoadUint32(&s.reports),
		Attempts:   atomic.LoadUint32(&s.attempts),
		SendErrors: atomic.LoadUint32(&s.sendErrors),
		Delivered:  atomic.LoadUint32(&s.delivered),
		Rejected:   atomic.LoadUint32(&s.rejected),
		Exhausted:  atomic.LoadUint32(&s.exhausted),
	}
	r.LastDelivered = s.lastDelivered.Time()
	return r
}
