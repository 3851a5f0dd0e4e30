//go:build !linux
// +build !linux

package link

import (
	"github.com/juju/errors"
	"github.com/temoto/envagent/log2"
)

type NetlinkWatcher struct{}

func NewNetlinkWatcher() *NetlinkWatcher { return &NetlinkWatcher{} }

func (w *NetlinkWatcher) Watch(iface string, log *log2.Log, found func(addr string)) error {
	return errors.NotSupportedf("address watch on this OS")
}
func (w *NetlinkWatcher) Current(iface string) string { return interfaceAddress(iface) }
func (w *NetlinkWatcher) Close() error                { return nil }
