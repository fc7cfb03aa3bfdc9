// Package network reports whether the device can reach the network.
package network

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	psnet "github.com/shirou/gopsutil/v3/net"
)

const defaultTimeout = 2 * time.Second

// Monitor checks the network interfaces of the device.
type Monitor struct {
	interfaces func(ctx context.Context) (psnet.InterfaceStatList, error)
}

func NewMonitor() *Monitor {
	return &Monitor{interfaces: psnet.InterfacesWithContext}
}

// Online reports whether an interface other than loopback is up and has an
// address. Failures to list interfaces count as online so that warnings
// depending on connectivity are not suppressed.
func (m *Monitor) Online() bool {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	ifaces, err := m.interfaces(ctx)
	if err != nil {
		log.Warnw("failed to list network interfaces", "error", err)
		return true
	}
	return hasRoute(ifaces)
}

func hasRoute(ifaces psnet.InterfaceStatList) bool {
	for _, iface := range ifaces {
		up, loopback := false, false
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback && len(iface.Addrs) > 0 {
			return true
		}
	}
	return false
}
