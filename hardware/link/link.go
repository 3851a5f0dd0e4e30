// Package link keeps network link up.
//
// Manager is event driven state machine:
//   Disconnected -> Connecting   station start, issue association
//   Connecting   -> Connected    address acquired, readiness latch set
//   Connected    -> Connecting   disconnect, association re-issued immediately
// Readiness latch is one-shot, later disconnects never clear it.
// Association failures are retried forever, this is headless device.
package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envagent/helpers/atomic_clock"
	"github.com/temoto/envagent/helpers/msync"
	"github.com/temoto/envagent/log2"
)

const DefaultConnectRetry = time.Second

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state?%d", int32(s))
}

type EventKind uint8

const (
	EventStationStart EventKind = iota + 1
	EventStationDisconnected
	EventAddressAcquired
)

func (k EventKind) String() string {
	switch k {
	case EventStationStart:
		return "station-start"
	case EventStationDisconnected:
		return "station-disconnected"
	case EventAddressAcquired:
		return "address-acquired"
	}
	return fmt.Sprintf("event?%d", uint8(k))
}

type Event struct {
	Kind   EventKind
	Detail string // disconnect reason, acquired address
}

func (e Event) String() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + " " + e.Detail
}

// Driver is link layer: radio association and address acquisition.
// Events must be delivered in order they happened.
type Driver interface {
	// Init registers for link events. Error here is unrecoverable.
	Init(ctx context.Context, log *log2.Log) error
	Events() <-chan Event
	// Connect initiates association, returns without waiting for result.
	Connect() error
}

// StartupError means event registration failed, process can not proceed.
type StartupError struct{ Err error }

func (e *StartupError) Error() string { return "link startup: " + e.Err.Error() }

func IsStartupError(err error) bool {
	_, ok := errors.Cause(err).(*StartupError)
	return ok
}

type Stat struct {
	Events        uint32
	Connects      uint32
	ConnectErrors uint32
	Disconnects   uint32
	Acquired      uint32
}

type Manager struct {
	lastReady atomic_clock.Clock // first for 64-bit atomic alignment on arm

	driver Driver
	log    *log2.Log
	alive  *alive.Alive
	retry  time.Duration

	ready   msync.Latch
	state   int32 // State
	stat    Stat
	retryCh chan struct{}
	retryLk sync.Mutex
	retryT  *time.Timer

	changedLk sync.Mutex
	changed   chan struct{}
}

// NewManager with retry<=0 uses DefaultConnectRetry.
func NewManager(driver Driver, a *alive.Alive, retry time.Duration, log *log2.Log) *Manager {
	if retry <= 0 {
		retry = DefaultConnectRetry
	}
	return &Manager{
		driver:  driver,
		log:     log,
		alive:   a,
		retry:   retry,
		retryCh: make(chan struct{}, 1),
		changed: make(chan struct{}),
	}
}

// Start registers for link events and runs dispatcher in background.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.driver.Init(ctx, m.log); err != nil {
		return errors.Trace(&StartupError{Err: err})
	}
	if !m.alive.Add(1) {
		return errors.Trace(&StartupError{Err: errors.New("stopped before start")})
	}
	m.setState(Disconnected)
	go m.dispatch(ctx)
	return nil
}

// AwaitReady blocks until first address acquisition.
// Reference behavior is context.Background(): no timeout, no cancel.
func (m *Manager) AwaitReady(ctx context.Context) error {
	return m.ready.Wait(ctx)
}

// WaitConnected blocks until link is Connected right now, not just once.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.changedLk.Lock()
		if m.State() == Connected {
			m.changedLk.Unlock()
			return nil
		}
		ch := m.changed
		m.changedLk.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) Ready() bool  { return m.ready.IsSet() }
func (m *Manager) State() State { return State(atomic.LoadInt32(&m.state)) }

// LastReady is zero until first address acquisition.
func (m *Manager) LastReady() time.Time {
	return m.lastReady.Time()
}

func (m *Manager) Stat() Stat {
	return Stat{
		Events:        atomic.LoadUint32(&m.stat.Events),
		Connects:      atomic.LoadUint32(&m.stat.Connects),
		ConnectErrors: atomic.LoadUint32(&m.stat.ConnectErrors),
		Disconnects:   atomic.LoadUint32(&m.stat.Disconnects),
		Acquired:      atomic.LoadUint32(&m.stat.Acquired),
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	defer m.alive.Done()
	events := m.driver.Events()
	stopCh := m.alive.StopChan()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				m.log.Errorf("link driver closed events")
				return
			}
			m.handle(e)
		case <-m.retryCh:
			m.log.Debugf("link connect retry")
			m.connect()
		case <-stopCh:
			m.stopRetry()
			return
		case <-ctx.Done():
			m.stopRetry()
			return
		}
	}
}

// handle runs only in dispatcher goroutine, one event at a time.
func (m *Manager) handle(e Event) {
	atomic.AddUint32(&m.stat.Events, 1)
	m.log.Debugf("link event=%s state=%s", e.String(), m.State().String())
	switch e.Kind {
	case EventStationStart:
		m.connect()

	case EventStationDisconnected:
		atomic.AddUint32(&m.stat.Disconnects, 1)
		m.log.Infof("link disconnected %s, retrying connection", e.Detail)
		m.connect()

	case EventAddressAcquired:
		m.stopRetry()
		m.setState(Connected)
		atomic.AddUint32(&m.stat.Acquired, 1)
		m.lastReady.SetNow()
		if m.ready.Set() {
			m.log.Infof("link connected address=%s", e.Detail)
		} else {
			m.log.Infof("link restored address=%s", e.Detail)
		}

	default:
		m.log.Errorf("link unknown event=%s", e.String())
	}
}

func (m *Manager) connect() {
	m.setState(Connecting)
	atomic.AddUint32(&m.stat.Connects, 1)
	if err := m.driver.Connect(); err != nil {
		atomic.AddUint32(&m.stat.ConnectErrors, 1)
		m.log.Errorf("link connect: %v", err)
		// no event will follow failed request, re-issue later
		m.scheduleRetry()
	}
}

func (m *Manager) scheduleRetry() {
	m.retryLk.Lock()
	defer m.retryLk.Unlock()
	if m.retryT != nil {
		m.retryT.Stop()
	}
	m.retryT = time.AfterFunc(m.retry, func() {
		select {
		case m.retryCh <- struct{}{}:
		default:
		}
	})
}

func (m *Manager) stopRetry() {
	m.retryLk.Lock()
	defer m.retryLk.Unlock()
	if m.retryT != nil {
		m.retryT.Stop()
		m.retryT = nil
	}
	select {
	case <-m.retryCh:
	default:
	}
}

func (m *Manager) setState(s State) {
	m.changedLk.Lock()
	defer m.changedLk.Unlock()
	atomic.StoreInt32(&m.state, int32(s))
	close(m.changed)
	m.changed = make(chan struct{})
}
