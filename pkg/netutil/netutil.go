// Package netutil provides the small host-networking helpers the raw and
// userspace-stack backends need at initialization: resolving an interface
// by name and checking the process has the capabilities raw sockets
// require.
package netutil

import (
	"fmt"

	"github.com/moby/sys/capability"
	"github.com/vishvananda/netlink"
)

// LinkInfo is the subset of interface state Catpowder/Catnip need.
type LinkInfo struct {
	Index        int
	HardwareAddr []byte
	MTU          int
	Up           bool
}

// ResolveLink looks up an interface by name via netlink, the same source
// of truth `ip link show` uses.
func ResolveLink(name string) (LinkInfo, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("netutil: resolving interface %q: %w", name, err)
	}
	attrs := link.Attrs()
	return LinkInfo{
		Index:        attrs.Index,
		HardwareAddr: attrs.HardwareAddr,
		MTU:          attrs.MTU,
		Up:           attrs.Flags&0x1 != 0, // net.FlagUp
	}, nil
}

// RequireRawSocketCapabilities checks the running process holds
// CAP_NET_RAW (required to open AF_PACKET sockets) before Catpowder
// attempts to do so, turning an opaque EPERM from the kernel into an
// actionable error at backend construction time.
func RequireRawSocketCapabilities() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("netutil: reading process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("netutil: loading process capabilities: %w", err)
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_NET_RAW) {
		return fmt.Errorf("netutil: CAP_NET_RAW not held, cannot open raw socket")
	}
	return nil
}
