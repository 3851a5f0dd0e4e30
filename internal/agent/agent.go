// Package agent runs sample-report cycle.
//
// Loop waits for link readiness once, then forever: sample sensor, report
// reading when sample succeeded, sleep interval. Sensor and delivery failures
// only skip current cycle.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envagent/hardware/dht"
	"github.com/temoto/envagent/hardware/link"
	"github.com/temoto/envagent/helpers"
	"github.com/temoto/envagent/helpers/atomic_clock"
	"github.com/temoto/envagent/helpers/atomic_float"
	"github.com/temoto/envagent/log2"
	"github.com/temoto/envagent/tele"
)

const DefaultInterval = 10 * time.Second

type Gate uint8

const (
	// GateOnce blocks only before first cycle, later link loss is ignored.
	GateOnce Gate = iota
	// GatePerCycle waits for Connected link before every cycle.
	GatePerCycle
)

func ParseGate(s string) (Gate, error) {
	switch s {
	case "", "once":
		return GateOnce, nil
	case "per_cycle":
		return GatePerCycle, nil
	}
	return 0, errors.NotValidf("agent gate=%s valid: once, per_cycle", s)
}

func (g Gate) String() string {
	if g == GatePerCycle {
		return "per_cycle"
	}
	return "once"
}

type Link interface {
	AwaitReady(ctx context.Context) error
	WaitConnected(ctx context.Context) error
	State() link.State
}

type Sampler interface {
	Sample(ctx context.Context) (dht.Reading, error)
}

type Reporter interface {
	Report(ctx context.Context, r dht.Reading, policy tele.RetryPolicy) tele.Outcome
}

type Config struct {
	Interval time.Duration
	Gate     Gate
	Retry    tele.RetryPolicy
}

type Stat struct {
	Cycles        uint32
	SampleErrors  uint32
	Delivered     uint32
	Exhausted     uint32
	GateWaits     uint32
	LastDelivered time.Time

	// last successful sample, zero before first
	LastTemperature float32
	LastHumidity    float32
}

type Loop struct {
	lastDelivered atomic_clock.Clock // first for 64-bit atomic alignment on arm

	config   Config
	link     Link
	sampler  Sampler
	reporter Reporter
	log      *log2.Log
	sleep    func(ctx context.Context, d time.Duration) error

	cycles       uint32
	sampleErrors uint32
	delivered    uint32
	exhausted    uint32
	gateWaits    uint32
	lastT        atomic_float.F32
	lastH        atomic_float.F32

	// OnReport is called after every delivery attempt, must not block.
	OnReport func(dht.Reading, tele.Outcome)
}

func NewLoop(config Config, l Link, s Sampler, r Reporter, log *log2.Log) *Loop {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	// partial policy is passed as is, Reporter treats MaxAttempts<1 as single attempt
	if config.Retry == (tele.RetryPolicy{}) {
		config.Retry = tele.DefaultRetryPolicy()
	}
	return &Loop{
		config:   config,
		link:     l,
		sampler:  s,
		reporter: r,
		log:      log,
		sleep:    helpers.SleepCtx,
	}
}

// Run returns only ctx error.
func (self *Loop) Run(ctx context.Context) error {
	self.log.Infof("agent waiting for link")
	if err := self.link.AwaitReady(ctx); err != nil {
		return err
	}
	self.log.Infof("agent start interval=%v gate=%s", self.config.Interval, self.config.Gate.String())
	for {
		if err := self.RunOnce(ctx); err != nil {
			return err
		}
		if err := self.sleep(ctx, self.config.Interval); err != nil {
			return err
		}
	}
}

// RunOnce performs one cycle without interval sleep.
// Returns only ctx error, sensor and delivery failures are logged and counted.
func (self *Loop) RunOnce(ctx context.Context) error {
	if self.config.Gate == GatePerCycle && self.link.State() != link.Connected {
		atomic.AddUint32(&self.gateWaits, 1)
		self.log.Infof("agent link state=%s, waiting", self.link.State().String())
		if err := self.link.WaitConnected(ctx); err != nil {
			return err
		}
	}
	atomic.AddUint32(&self.cycles, 1)

	reading, err := self.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// already logged by sampler
		atomic.AddUint32(&self.sampleErrors, 1)
		return nil
	}
	self.lastT.Store(reading.Temperature)
	self.lastH.Store(reading.Humidity)

	o := self.reporter.Report(ctx, reading, self.config.Retry)
	if o.Delivered {
		atomic.AddUint32(&self.delivered, 1)
		self.lastDelivered.SetNow()
	} else {
		atomic.AddUint32(&self.exhausted, 1)
	}
	if self.OnReport != nil {
		self.OnReport(reading, o)
	}
	return ctx.Err()
}

func (self *Loop) Stat() Stat {
	s := Stat{
		Cycles:       atomic.LoadUint32(&self.cycles),
		SampleErrors: atomic.LoadUint32(&self.sampleErrors),
		Delivered:    atomic.LoadUint32(&self.delivered),
		Exhausted:    atomic.LoadUint32(&self.exhausted),
		GateWaits:    atomic.LoadUint32(&self.gateWaits),

		LastTemperature: self.lastT.Load(),
		LastHumidity:    self.lastH.Load(),
	}
	s.LastDelivered = self.lastDelivered.Time()
	return s
}
