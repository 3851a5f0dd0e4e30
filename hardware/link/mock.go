package link

import (
	"context"
	"sync/atomic"

	"github.com/temoto/envagent/log2"
)

// MockDriver is link layer stub for tests. Events are injected by Emit.
type MockDriver struct {
	InitErr    error
	ConnectErr func(n int) error // n is 1-based Connect call number
	OnConnect  func(d *MockDriver)

	ch       chan Event
	connects int32
}

func NewMockDriver() *MockDriver {
	return &MockDriver{ch: make(chan Event, 64)}
}

func (d *MockDriver) Init(ctx context.Context, log *log2.Log) error { return d.InitErr }
func (d *MockDriver) Events() <-chan Event                       { return d.ch }

func (d *MockDriver) Connect() error {
	n := atomic.AddInt32(&d.connects, 1)
	if d.ConnectErr != nil {
		if err := d.ConnectErr(int(n)); err != nil {
			return err
		}
	}
	if d.OnConnect != nil {
		d.OnConnect(d)
	}
	return nil
}

func (d *MockDriver) Emit(kind EventKind, detail string) {
	d.ch <- Event{Kind: kind, Detail: detail}
}

func (d *MockDriver) Connects() int { return int(atomic.LoadInt32(&d.connects)) }
