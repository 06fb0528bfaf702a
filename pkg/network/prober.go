package network

import (
	"context"
	"net"
)

// Prober answers whether the network is usable right now.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool {
	return f(ctx)
}

// InterfaceProber reports reachable when an up, non-loopback interface has at
// least one address.
type InterfaceProber struct{}

// Probe implements Prober.
func (InterfaceProber) Probe(ctx context.Context) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
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

// OnlineChecker is satisfied by access.Client.
type OnlineChecker interface {
	CheckOnline(ctx context.Context) bool
}

// ServerProber reports whether the presence server answers its test endpoint.
type ServerProber struct {
	Checker OnlineChecker
}

// Probe implements Prober.
func (p ServerProber) Probe(ctx context.Context) bool {
	return p.Checker.CheckOnline(ctx)
}

// AllProber is reachable only when every prober is. Probers run in order and
// stop at the first failure.
type AllProber []Prober

// Probe implements Prober.
func (a AllProber) Probe(ctx context.Context) bool {
	for _, p := range a {
		if !p.Probe(ctx) {
			return false
		}
	}
	return len(a) > 0
}
