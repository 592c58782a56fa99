// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry implements the daemon's client bookkeeping: the
// address:port lookup table filled during channel accept, and the two
// identifier lookup tables filled once a client completes its INIT
// handshake.
//
// Every method here is called only from the daemon's single dispatch
// goroutine, so none of the fields below need a lock. That invariant
// lives with the caller, not in this package.
package registry

import (
	"fmt"
	"net"

	"github.com/nsb-ucsc/nsb-beta/wire"
)

// systemWideKey is the sentinel under which the sole SYSTEM_WIDE sim
// is registered in sims.
const systemWideKey = "simulator"

// ChannelLabel identifies one of a client's three connections.
type ChannelLabel int

const (
	ChannelCtrl ChannelLabel = iota
	ChannelSend
	ChannelRecv
)

func (l ChannelLabel) String() string {
	switch l {
	case ChannelCtrl:
		return "CTRL"
	case ChannelSend:
		return "SEND"
	case ChannelRecv:
		return "RECV"
	default:
		return "UNKNOWN"
	}
}

// ClientDetails is the daemon's per-client record, derived from a
// completed INIT handshake.
type ClientDetails struct {
	Identifier string
	Originator wire.Originator
	Address    string
	Ctrl       net.Conn
	Send       net.Conn
	Recv       net.Conn
}

// Conn returns the connection bound to label.
func (c *ClientDetails) Conn(label ChannelLabel) net.Conn {
	switch label {
	case ChannelCtrl:
		return c.Ctrl
	case ChannelSend:
		return c.Send
	case ChannelRecv:
		return c.Recv
	default:
		return nil
	}
}

// Conns returns the three connections, in CTRL, SEND, RECV order.
func (c *ClientDetails) Conns() []net.Conn {
	return []net.Conn{c.Ctrl, c.Send, c.Recv}
}

// Registry is the daemon's flat client bookkeeping: apps and sims are
// indexed independently by identifier rather than cross-referencing
// each other's records.
type Registry struct {
	simulatorMode wire.SimulatorMode

	// byAddrPort maps "address:port" to the accepted connection,
	// populated as each of a client's three channels connects, and
	// consumed when the INIT frame arrives on CTRL.
	byAddrPort map[string]net.Conn

	apps map[string]*ClientDetails
	sims map[string]*ClientDetails
}

// New creates an empty [Registry] for the given simulator routing mode.
func New(simulatorMode wire.SimulatorMode) *Registry {
	return &Registry{
		simulatorMode: simulatorMode,
		byAddrPort:    make(map[string]net.Conn),
		apps:          make(map[string]*ClientDetails),
		sims:          make(map[string]*ClientDetails),
	}
}

// AddrPortKey builds the lookup key for a channel's locally-bound
// address and port, as reported by the client's own IntroDetails or
// observed at accept time.
func AddrPortKey(address string, port int32) string {
	return fmt.Sprintf("%s:%d", address, port)
}

// RegisterConn records a freshly accepted connection under its
// address:port key, for later resolution by an INIT frame.
func (r *Registry) RegisterConn(key string, conn net.Conn) {
	r.byAddrPort[key] = conn
}

// ResolveConn looks up and removes a pending connection by its
// address:port key.
func (r *Registry) ResolveConn(key string) (net.Conn, bool) {
	conn, ok := r.byAddrPort[key]
	if ok {
		delete(r.byAddrPort, key)
	}
	return conn, ok
}

// HasPendingConn reports whether a connection is waiting under key,
// without consuming it. Callers gating a multi-key resolution (an INIT
// frame naming three channels) should check every key with this before
// calling ResolveConn on any of them, so a partial match never destroys
// an entry the caller ends up unable to use.
func (r *Registry) HasPendingConn(key string) bool {
	_, ok := r.byAddrPort[key]
	return ok
}

// RegisterClient finalizes an INIT handshake, folding three resolved
// connections into one [ClientDetails] and indexing it by originator
// kind. It returns an error if a SYSTEM_WIDE sim is already registered.
func (r *Registry) RegisterClient(details *ClientDetails) error {
	switch details.Originator {
	case wire.OriginatorApp:
		r.apps[details.Identifier] = details
		return nil

	case wire.OriginatorSim:
		if r.simulatorMode == wire.SimulatorModeSystemWide {
			if _, exists := r.sims[systemWideKey]; exists {
				return fmt.Errorf("registry: a SYSTEM_WIDE simulator is already registered")
			}
			r.sims[systemWideKey] = details
			return nil
		}
		r.sims[details.Identifier] = details
		return nil

	default:
		return fmt.Errorf("registry: INIT originator must be APP or SIM, got %v", details.Originator)
	}
}

// App looks up an app client by identifier.
func (r *Registry) App(identifier string) (*ClientDetails, bool) {
	d, ok := r.apps[identifier]
	return d, ok
}

// Sim looks up a sim client. Under SYSTEM_WIDE routing, identifier is
// ignored and the sole registered sim is returned.
func (r *Registry) Sim(identifier string) (*ClientDetails, bool) {
	if r.simulatorMode == wire.SimulatorModeSystemWide {
		d, ok := r.sims[systemWideKey]
		return d, ok
	}
	d, ok := r.sims[identifier]
	return d, ok
}

// RemoveConn removes conn from every table it may appear in, once its
// channel closes. Buffers are left untouched. It returns the removed
// client's identifier, originator kind, and which of its three
// channels conn was, if any.
func (r *Registry) RemoveConn(conn net.Conn) (identifier string, originator wire.Originator, label ChannelLabel, found bool) {
	for key, c := range r.byAddrPort {
		if c == conn {
			delete(r.byAddrPort, key)
		}
	}
	for id, d := range r.apps {
		if l, ok := connLabel(d, conn); ok {
			delete(r.apps, id)
			return d.Identifier, wire.OriginatorApp, l, true
		}
	}
	for id, d := range r.sims {
		if l, ok := connLabel(d, conn); ok {
			delete(r.sims, id)
			return d.Identifier, wire.OriginatorSim, l, true
		}
	}
	return "", wire.OriginatorUnspecified, 0, false
}

// allChannelLabels enumerates a [ClientDetails]'s three channels in a
// fixed order, for connLabel's scan.
var allChannelLabels = []ChannelLabel{ChannelCtrl, ChannelSend, ChannelRecv}

// connLabel reports which of d's three channels conn is, if any.
func connLabel(d *ClientDetails, conn net.Conn) (ChannelLabel, bool) {
	for _, label := range allChannelLabels {
		if d.Conn(label) == conn {
			return label, true
		}
	}
	return 0, false
}

// containsConn reports whether conn is any of d's three channels.
func containsConn(d *ClientDetails, conn net.Conn) bool {
	for _, c := range d.Conns() {
		if c == conn {
			return true
		}
	}
	return false
}

// ChannelLabelOf reports which of a registered client's three channels
// conn is. It returns false for a connection that has not completed
// INIT yet, since only CTRL is written to before registration.
func (r *Registry) ChannelLabelOf(conn net.Conn) (ChannelLabel, bool) {
	for _, d := range r.apps {
		if l, ok := connLabel(d, conn); ok {
			return l, true
		}
	}
	for _, d := range r.sims {
		if l, ok := connLabel(d, conn); ok {
			return l, true
		}
	}
	return 0, false
}

// IdentifyConn finds the registered client that owns conn on any of
// its three channels, used to recover a caller's own identifier when
// a frame's metadata omits it.
func (r *Registry) IdentifyConn(conn net.Conn) (identifier string, originator wire.Originator, found bool) {
	for _, d := range r.apps {
		if containsConn(d, conn) {
			return d.Identifier, wire.OriginatorApp, true
		}
	}
	for _, d := range r.sims {
		if containsConn(d, conn) {
			return d.Identifier, wire.OriginatorSim, true
		}
	}
	return "", wire.OriginatorUnspecified, false
}
