package link

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/juju/errors"
	"github.com/temoto/envagent/log2"
)

const DefaultWpaTimeout = 2 * time.Second

type WpaConfig struct {
	Interface string
	SSID      string
	Password  string // secret
	Timeout   time.Duration
}

// AddrWatcher reports IPv4 address acquisition on interface.
type AddrWatcher interface {
	Watch(iface string, log *log2.Log, found func(addr string)) error
	Current(iface string) string
	Close() error
}

// WpaDriver: station events from wpa_supplicant D-Bus API, address events from AddrWatcher.
type WpaDriver struct {
	config WpaConfig
	addrs  AddrWatcher
	dial   func() (wpaBus, error)
	log    *log2.Log
	ch     chan Event

	lk     sync.Mutex
	bus    wpaBus
	path   dbus.ObjectPath
	closed uint32
}

func NewWpaDriver(config WpaConfig, addrs AddrWatcher) *WpaDriver {
	if config.Timeout <= 0 {
		config.Timeout = DefaultWpaTimeout
	}
	if addrs == nil {
		addrs = NewNetlinkWatcher()
	}
	return &WpaDriver{
		config: config,
		addrs:  addrs,
		dial:   dialSystemBus,
		ch:     make(chan Event, 64),
	}
}

func (d *WpaDriver) Events() <-chan Event { return d.ch }

func (d *WpaDriver) Init(ctx context.Context, log *log2.Log) error {
	d.log = log
	if d.config.Interface == "" {
		return errors.NotValidf("link interface empty")
	}
	signals, err := d.open(ctx)
	if err != nil {
		return err
	}
	if d.config.SSID != "" {
		if err = d.configureNetwork(ctx); err != nil {
			d.Close()
			return errors.Annotate(err, "wpa configure network")
		}
	}
	if err = d.addrs.Watch(d.config.Interface, log, d.onAddress); err != nil {
		d.Close()
		return errors.Annotatef(err, "address watch iface=%s", d.config.Interface)
	}

	d.ch <- Event{Kind: EventStationStart}
	go d.monitor(signals)
	// address could be acquired before we started listening
	if addr := d.addrs.Current(d.config.Interface); addr != "" {
		d.onAddress(addr)
	}
	return nil
}

func (d *WpaDriver) Connect() error {
	d.lk.Lock()
	bus, path := d.bus, d.path
	d.lk.Unlock()
	if bus == nil {
		return errors.New("wpa bus not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
	defer cancel()
	err := bus.Call(ctx, path, wpaInterface+".Reconnect").Store()
	if err == nil {
		return nil
	}
	// wpa_supplicant restart invalidates interface object path
	d.log.Debugf("wpa Reconnect err=%v, resolve interface", err)
	newPath, perr := wpaInterfacePath(ctx, bus, d.config.Interface)
	if perr != nil {
		return errors.Annotate(err, "wpa connect")
	}
	d.lk.Lock()
	d.path = newPath
	d.lk.Unlock()
	return errors.Annotate(bus.Call(ctx, newPath, wpaInterface+".Reconnect").Store(), "wpa connect")
}

func (d *WpaDriver) Close() error {
	if !atomic.CompareAndSwapUint32(&d.closed, 0, 1) {
		return nil
	}
	d.lk.Lock()
	defer d.lk.Unlock()
	var err error
	if d.bus != nil {
		err = d.bus.Close()
	}
	if aerr := d.addrs.Close(); err == nil {
		err = aerr
	}
	return err
}

func (d *WpaDriver) isClosed() bool { return atomic.LoadUint32(&d.closed) != 0 }

// open connects bus, subscribes to state changes and resolves interface object.
func (d *WpaDriver) open(ctx context.Context) (<-chan *dbus.Signal, error) {
	bus, err := d.dial()
	if err != nil {
		return nil, errors.Annotate(err, "wpa bus")
	}
	signals, err := bus.Watch()
	if err != nil {
		bus.Close()
		return nil, errors.Annotate(err, "wpa watch")
	}
	path, err := wpaInterfacePath(ctx, bus, d.config.Interface)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.lk.Lock()
	d.bus, d.path = bus, path
	d.lk.Unlock()
	return signals, nil
}

func (d *WpaDriver) configureNetwork(ctx context.Context) error {
	args := map[string]dbus.Variant{"ssid": dbus.MakeVariant(d.config.SSID)}
	if d.config.Password == "" {
		args["key_mgmt"] = dbus.MakeVariant("NONE")
	} else {
		args["psk"] = dbus.MakeVariant(d.config.Password)
	}
	var network dbus.ObjectPath
	if err := d.bus.Call(ctx, d.path, wpaInterface+".AddNetwork", args).Store(&network); err != nil {
		return errors.Annotate(err, "AddNetwork")
	}
	if err := d.bus.Call(ctx, d.path, wpaInterface+".SelectNetwork", network).Store(); err != nil {
		return errors.Annotate(err, "SelectNetwork")
	}
	d.log.Debugf("wpa network=%s ssid=%s configured", network, d.config.SSID)
	return nil
}

func (d *WpaDriver) monitor(signals <-chan *dbus.Signal) {
	for {
		for sig := range signals {
			d.lk.Lock()
			path := d.path
			d.lk.Unlock()
			if sig.Path != path {
				continue
			}
			if e, ok := parseWpaSignal(sig); ok {
				d.ch <- e
			}
		}
		if d.isClosed() {
			return
		}
		d.log.Errorf("wpa bus connection lost")
		if signals = d.reopen(); signals == nil {
			return
		}
	}
}

// reopen blocks until bus is connected again or driver closed.
func (d *WpaDriver) reopen() <-chan *dbus.Signal {
	d.ch <- Event{Kind: EventStationDisconnected, Detail: "wpa-bus-lost"}
	for !d.isClosed() {
		time.Sleep(d.config.Timeout)
		d.lk.Lock()
		old := d.bus
		d.lk.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
		signals, err := d.open(ctx)
		cancel()
		if err != nil {
			d.log.Errorf("wpa reopen: %v", err)
			continue
		}
		old.Close()
		if d.isClosed() {
			d.lk.Lock()
			d.bus.Close()
			d.lk.Unlock()
			return nil
		}
		return signals
	}
	return nil
}

func (d *WpaDriver) onAddress(addr string) {
	if d.isClosed() {
		return
	}
	d.ch <- Event{Kind: EventAddressAcquired, Detail: addr}
}

// interfaceAddress returns first global unicast IPv4 on iface or empty string.
func interfaceAddress(iface string) string {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return ""
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil && ipnet.IP.IsGlobalUnicast() {
			return ipnet.IP.String()
		}
	}
	return ""
}
