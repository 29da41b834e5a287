package connectivity

import (
	"context"
	"net"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// Probe reads the current network state.
type Probe interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

var (
	wirelessPrefixes = []string{"wl", "wlan", "wifi", "ath", "ra"}
	wiredPrefixes    = []string{"en", "eth"}
	mobilePrefixes   = []string{"wwan", "rmnet", "ccmni", "ppp"}
)

// InterfaceProbe classifies the host's interfaces by name. Wired LAN counts
// as WiFi since it serves local discovery the same way.
type InterfaceProbe struct {
	hosting func() bool
	list    func(ctx context.Context) (psnet.InterfaceStatList, error)
}

// NewInterfaceProbe builds a probe. hosting reports whether this device is
// currently running a hotspot and may be nil.
func NewInterfaceProbe(hosting func() bool) *InterfaceProbe {
	if hosting == nil {
		hosting = func() bool { return false }
	}
	return &InterfaceProbe{
		hosting: hosting,
		list:    psnet.InterfacesWithContext,
	}
}

func (p *InterfaceProbe) Snapshot(ctx context.Context) (Snapshot, error) {
	ifaces, err := p.list(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	s := classifyInterfaces(ifaces)
	s.HostingHotspot = p.hosting()
	return s, nil
}

func classifyInterfaces(ifaces psnet.InterfaceStatList) Snapshot {
	var s Snapshot
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		if !hasRoutableAddr(iface.Addrs) {
			continue
		}

		switch {
		case hasPrefix(iface.Name, mobilePrefixes):
			s.Mobile = true
		case hasPrefix(iface.Name, wirelessPrefixes), hasPrefix(iface.Name, wiredPrefixes):
			s.WiFi = true
		default:
			continue
		}
		s.Interfaces = append(s.Interfaces, iface.Name)
	}
	return s
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func hasRoutableAddr(addrs psnet.InterfaceAddrList) bool {
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.Addr)
		if err != nil {
			ip = net.ParseIP(a.Addr)
		}
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return true
	}
	return false
}
