package tele

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envagent/hardware/dht"
	"github.com/temoto/envagent/helpers"
	"github.com/temoto/envagent/log2"
)

type Reporter struct {
	stat stat // first for 64-bit atomic alignment on arm

	transport Transporter
	endpoint  string
	log       *log2.Log
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewReporter(transport Transporter, endpoint string, log *log2.Log) *Reporter {
	return &Reporter{
		transport: transport,
		endpoint:  endpoint,
		log:       log,
		sleep:     helpers.SleepCtx,
	}
}

func (self *Reporter) Stat() Stat { return self.stat.snapshot() }

// Report delivers one reading, blocking for up to MaxAttempts sends and
// MaxAttempts-1 delays. Never returns error, see Outcome.
// Cancelled ctx stops retries early.
func (self *Reporter) Report(ctx context.Context, reading dht.Reading, policy RetryPolicy) Outcome {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	atomic.AddUint32(&self.stat.reports, 1)
	req := NewRequest(self.endpoint, reading)
	self.log.Debugf("tele payload=%s", req.Body)

	o := Outcome{}
	for o.Attempts < policy.MaxAttempts {
		if o.Attempts > 0 {
			self.log.Infof("tele retry in %v (%d/%d)", policy.Delay, o.Attempts+1, policy.MaxAttempts)
			if err := self.sleep(ctx, policy.Delay); err != nil {
				o.Err = errors.Annotate(err, "tele retry wait")
				break
			}
		}
		o.Attempts++
		atomic.AddUint32(&self.stat.attempts, 1)
		resp, err := self.transport.Send(ctx, req)
		if err != nil {
			atomic.AddUint32(&self.stat.sendErrors, 1)
			o.Err = errors.Annotatef(err, "tele send attempt=%d", o.Attempts)
			self.log.Errorf("tele send: %v", o.Err)
			continue
		}
		o.Delivered = true
		o.Err = nil
		o.StatusCode = resp.StatusCode
		o.ContentLength = resp.ContentLength
		break
	}

	switch {
	case o.Success():
		atomic.AddUint32(&self.stat.delivered, 1)
		self.stat.lastDelivered.SetNow()
		self.log.Infof("tele delivered status=%d length=%d attempts=%d", o.StatusCode, o.ContentLength, o.Attempts)
	case o.Delivered:
		atomic.AddUint32(&self.stat.delivered, 1)
		atomic.AddUint32(&self.stat.rejected, 1)
		self.stat.lastDelivered.SetNow()
		self.log.Errorf("tele rejected status=%d length=%d attempts=%d", o.StatusCode, o.ContentLength, o.Attempts)
	default:
		atomic.AddUint32(&self.stat.exhausted, 1)
		self.log.Errorf("tele dropped reading %s after attempts=%d", reading.String(), o.Attempts)
	}
	return o
}
