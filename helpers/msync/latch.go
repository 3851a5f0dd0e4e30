package msync

import (
	"context"
	"sync"
)

type Nothing struct{}

// Latch is one-shot signal: Set() any number of times from any goroutine,
// Wait() blocks until first Set(). Never resets.
type Latch struct {
	once sync.Once
	ch   chan Nothing
	init sync.Once
}

func NewLatch() *Latch {
	l := &Latch{}
	l.lazy()
	return l
}

func (l *Latch) lazy() { l.init.Do(func() { l.ch = make(chan Nothing) }) }

// Set returns true only for the call that actually fired the latch.
func (l *Latch) Set() bool {
	l.lazy()
	fired := false
	l.once.Do(func() {
		close(l.ch)
		fired = true
	})
	return fired
}

func (l *Latch) IsSet() bool {
	l.lazy()
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

func (l *Latch) Wait(ctx context.Context) error {
	l.lazy()
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		// set wins if both are ready
		if l.IsSet() {
			return nil
		}
		return ctx.Err()
	}
}
