package dht

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envagent/log2"
	gpio "github.com/temoto/gpio-cdev-go"
)

const (
	gpioConsumer       = "envagent-dht"
	DefaultReadTimeout = 500 * time.Millisecond
)

// GpioReader bit-bangs single wire protocol over Linux GPIO character device.
// Kernel event timestamps make decoding independent from Go scheduler latency.
type GpioReader struct {
	chip    gpio.Chiper
	line    uint32
	typ     Type
	timeout time.Duration
	log     *log2.Log
	sleep   func(time.Duration)

	mu sync.Mutex
}

func NewGpioReader(chip gpio.Chiper, line uint32, typ Type, timeout time.Duration, log *log2.Log) *GpioReader {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &GpioReader{
		chip:    chip,
		line:    line,
		typ:     typ,
		timeout: timeout,
		log:     log,
		sleep:   time.Sleep,
	}
}

func (r *GpioReader) Read(ctx context.Context) (Raw, error) {
	if err := ctx.Err(); err != nil {
		return Raw{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.start(); err != nil {
		return Raw{}, errors.Annotatef(err, "start signal line=%d", r.line)
	}
	falls, err := r.capture()
	if err != nil {
		return Raw{}, errors.Annotatef(err, "capture line=%d", r.line)
	}
	r.log.Debugf("dht line=%d falling edges=%d", r.line, len(falls))
	f, err := DecodeEdges(falls)
	if err != nil {
		return Raw{}, err
	}
	return Decode(r.typ, f)
}

func (r *GpioReader) start() error {
	lines, err := r.chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT|gpio.GPIOHANDLE_REQUEST_OPEN_DRAIN, gpioConsumer, r.line)
	if err != nil {
		return errors.Annotate(err, "OpenLines")
	}
	set := lines.SetFunc(r.line)
	set(0)
	if err = lines.Flush(); err != nil {
		_ = lines.Close()
		return errors.Annotate(err, "pull low")
	}
	r.sleep(r.typ.startLow())
	set(1)
	if err = lines.Flush(); err != nil {
		_ = lines.Close()
		return errors.Annotate(err, "release")
	}
	// closing output handle returns line to input, sensor answers within 20-40us
	return errors.Annotate(lines.Close(), "close output")
}

func (r *GpioReader) capture() ([]uint64, error) {
	ev, err := r.chip.GetLineEvent(r.line, 0, gpio.GPIOEVENT_REQUEST_BOTH_EDGES, gpioConsumer)
	if err != nil {
		return nil, errors.Annotate(err, "GetLineEvent")
	}
	defer ev.Close()

	falls := make([]uint64, 0, frameEdges+2)
	deadline := time.Now().Add(r.timeout)
	for len(falls) < frameEdges+1 {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}
		e, err := ev.Wait(remain)
		if gpio.IsTimeout(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		if e.ID == gpio.GPIOEVENT_EVENT_FALLING_EDGE {
			falls = append(falls, e.Timestamp)
		}
	}
	return falls, nil
}
