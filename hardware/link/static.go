package link

import (
	"context"

	"github.com/temoto/envagent/log2"
)

// StaticDriver is for hosts where network is managed elsewhere (ethernet, NetworkManager).
// Association is no-op and immediately reports configured address.
type StaticDriver struct {
	Address string
	ch      chan Event
}

func NewStaticDriver(address string) *StaticDriver {
	return &StaticDriver{Address: address, ch: make(chan Event, 4)}
}

func (d *StaticDriver) Init(ctx context.Context, log *log2.Log) error {
	d.ch <- Event{Kind: EventStationStart}
	return nil
}

func (d *StaticDriver) Events() <-chan Event { return d.ch }

func (d *StaticDriver) Connect() error {
	select {
	case d.ch <- Event{Kind: EventAddressAcquired, Detail: d.Address}:
	default:
	}
	return nil
}
