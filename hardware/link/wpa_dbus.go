package link

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/juju/errors"
)

const (
	wpaService    = "fi.w1.wpa_supplicant1"
	wpaPath       = dbus.ObjectPath("/fi/w1/wpa_supplicant1")
	wpaInterface  = wpaService + ".Interface"
	wpaErrUnknown = wpaService + ".InterfaceUnknown"

	dbusProperties        = "org.freedesktop.DBus.Properties"
	dbusPropertiesChanged = dbusProperties + ".PropertiesChanged"
)

// wpaBus is the part of system bus used to talk to wpa_supplicant.
type wpaBus interface {
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call
	// Watch subscribes to wpa_supplicant property changes of all objects.
	// Channel is closed when bus connection is closed or lost.
	Watch() (<-chan *dbus.Signal, error)
	Close() error
}

type systemBus struct{ conn *dbus.Conn }

func dialSystemBus() (wpaBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Annotate(err, "dbus system bus")
	}
	return &systemBus{conn: conn}, nil
}

func (b *systemBus) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	return b.conn.Object(wpaService, path).CallWithContext(ctx, method, 0, args...)
}

func (b *systemBus) Watch() (<-chan *dbus.Signal, error) {
	err := b.conn.AddMatchSignal(
		dbus.WithMatchSender(wpaService),
		dbus.WithMatchInterface(dbusProperties),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, wpaInterface),
	)
	if err != nil {
		return nil, errors.Annotate(err, "dbus add match")
	}
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch, nil
}

func (b *systemBus) Close() error { return b.conn.Close() }

// wpaInterfacePath finds interface object, asks wpa_supplicant to manage iface if needed.
func wpaInterfacePath(ctx context.Context, bus wpaBus, iface string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	err := bus.Call(ctx, wpaPath, wpaService+".GetInterface", iface).Store(&path)
	if isDbusError(err, wpaErrUnknown) {
		args := map[string]dbus.Variant{"Ifname": dbus.MakeVariant(iface)}
		err = bus.Call(ctx, wpaPath, wpaService+".CreateInterface", args).Store(&path)
	}
	return path, errors.Annotatef(err, "wpa interface=%s", iface)
}

func isDbusError(err error, name string) bool {
	switch e := err.(type) {
	case dbus.Error:
		return e.Name == name
	case *dbus.Error:
		return e.Name == name
	}
	return false
}

// parseWpaSignal maps interface State change to link event.
// Association success is not an event here, link is usable only after address acquisition.
func parseWpaSignal(sig *dbus.Signal) (Event, bool) {
	if sig == nil || sig.Name != dbusPropertiesChanged || len(sig.Body) < 2 {
		return Event{}, false
	}
	if iface, _ := sig.Body[0].(string); iface != wpaInterface {
		return Event{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return Event{}, false
	}
	v, ok := changed["State"]
	if !ok {
		return Event{}, false
	}
	state, _ := v.Value().(string)
	switch state {
	case "disconnected":
		detail := "state=disconnected"
		if r, ok := changed["DisconnectReason"]; ok {
			if reason, ok := r.Value().(int32); ok {
				detail = fmt.Sprintf("reason=%d", reason)
			}
		}
		return Event{Kind: EventStationDisconnected, Detail: detail}, true
	case "inactive", "interface_disabled":
		return Event{Kind: EventStationDisconnected, Detail: "state=" + state}, true
	}
	return Event{}, false
}
