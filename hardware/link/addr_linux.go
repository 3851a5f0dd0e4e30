package link

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/envagent/log2"
	"github.com/vishvananda/netlink"
)

// NetlinkWatcher listens rtnetlink address notifications.
type NetlinkWatcher struct {
	done     chan struct{}
	doneOnce sync.Once
}

func NewNetlinkWatcher() *NetlinkWatcher { return &NetlinkWatcher{done: make(chan struct{})} }

func (w *NetlinkWatcher) Watch(iface string, log *log2.Log, found func(addr string)) error {
	l, err := netlink.LinkByName(iface)
	if err != nil {
		return errors.Annotatef(err, "interface=%s", iface)
	}
	index := l.Attrs().Index
	ch := make(chan netlink.AddrUpdate, 16)
	err = netlink.AddrSubscribeWithOptions(ch, w.done, netlink.AddrSubscribeOptions{
		ErrorCallback: func(err error) {
			select {
			case <-w.done:
			default:
				log.Errorf("netlink: %v", err)
			}
		},
	})
	if err != nil {
		return errors.Annotate(err, "netlink subscribe")
	}
	// ch is closed by netlink after subscription socket is closed
	go func() {
		for u := range ch {
			if addr, ok := acquiredAddr(u, index); ok {
				found(addr)
			}
		}
	}()
	return nil
}

func (w *NetlinkWatcher) Current(iface string) string { return interfaceAddress(iface) }

func (w *NetlinkWatcher) Close() error {
	w.doneOnce.Do(func() { close(w.done) })
	return nil
}

// acquiredAddr accepts only new IPv4 address on watched interface.
func acquiredAddr(u netlink.AddrUpdate, index int) (string, bool) {
	if !u.NewAddr || u.LinkIndex != index {
		return "", false
	}
	ip := u.LinkAddress.IP.To4()
	if ip == nil {
		return "", false
	}
	return ip.String(), true
}
