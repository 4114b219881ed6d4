package api

import (
	"context"
	"net"
	"time"
)

// Connectivity reports whether the machine has network connectivity at all.
// It is consulted only after a request failed without a response.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// InterfaceProbe reports online when any non-loopback interface is up and
// has an address.
type InterfaceProbe struct{}

// Online implements Connectivity.
func (InterfaceProbe) Online(context.Context) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Unknown is treated as online so the failure surfaces as a network error.
		return true
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// DialProbe reports online when a TCP connection to Address succeeds.
type DialProbe struct {
	Address string
	Timeout time.Duration
}

// Online implements Connectivity.
func (p DialProbe) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func(ctx context.Context) bool

// Online implements Connectivity.
func (f ConnectivityFunc) Online(ctx context.Context) bool {
	return f(ctx)
}
