// SPDX-License-Identifier: GPL-3.0-or-later

// Package daemon implements the broker's single-threaded dispatcher:
// the multi-channel socket server, the accept/INIT handshake, and the
// SEND/FETCH/POST/RECEIVE/PING/EXIT handlers.
//
// Every mutation of the registry and the two buffers happens on one
// goroutine, the dispatch loop started by [Daemon.Run]. Per-connection
// reader goroutines only decode frames off the wire and hand them to
// that loop over a channel; they never touch shared state directly.
// An earlier per-connection-goroutine-with-mutex design produced data
// races under load, so this trades that model for a single owning
// goroutine fed by channels instead of locks.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/nsb-ucsc/nsb-beta/broker"
	"github.com/nsb-ucsc/nsb-beta/config"
	"github.com/nsb-ucsc/nsb-beta/connset"
	"github.com/nsb-ucsc/nsb-beta/registry"
	"github.com/nsb-ucsc/nsb-beta/wire"
)

// eventKind discriminates the three things a connection's lifecycle
// can hand to the dispatch loop.
type eventKind int

const (
	eventAccepted eventKind = iota
	eventFrame
	eventClosed
)

// event is one item flowing from the accept/reader goroutines to
// [Daemon.dispatchLoop], the daemon's sole state-mutating goroutine.
type event struct {
	kind eventKind
	conn net.Conn
	key  string        // eventAccepted: address:port lookup key
	msg  *wire.Message // eventFrame: the decoded frame
	err  error         // eventClosed: why the connection ended
}

// Daemon is the broker daemon: the accept loop, the dispatch loop, and
// all state the dispatch loop owns exclusively.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	listener net.Listener
	conns    connset.Set
	events   chan event
	closing  chan struct{} // closed once, when Run begins shutting down
	wg       sync.WaitGroup
	ready    chan struct{}

	// Fields below are mutated only inside dispatchLoop.
	running      bool
	reg          *registry.Registry
	txBuffer     *broker.Buffer // SENDs awaiting FETCH
	rxBuffer     *broker.Buffer // POSTs awaiting RECEIVE
	pendingInits []pendingInit  // INIT frames parked on an unresolved channel
}

// New creates a [Daemon] from its resolved configuration. The payload
// offload store, if any, is externally shared: clients connect to it
// directly using the address the daemon hands out in ConfigParams, so
// the daemon itself never touches it.
func New(cfg *config.Config, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		cfg:      cfg,
		log:      log,
		events:   make(chan event, 64),
		closing:  make(chan struct{}),
		ready:    make(chan struct{}),
		running:  true,
		reg:      registry.New(cfg.SimulatorMode),
		txBuffer: broker.NewBuffer(),
		rxBuffer: broker.NewBuffer(),
	}
}

// Run binds the listening socket and blocks, running the accept loop
// and the dispatch loop, until ctx is cancelled or an EXIT frame is
// dispatched.
func (d *Daemon) Run(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", d.cfg.ServerPort)
	lc := tuneListener(net.ListenConfig{})
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: bind %s: %w", addr, err)
	}
	d.listener = ln
	d.log.Info("daemon listening", "address", ln.Addr().String())
	close(d.ready)

	d.wg.Add(1)
	go d.acceptLoop()

	dispatchDone := make(chan struct{})
	go func() {
		d.dispatchLoop()
		close(dispatchDone)
	}()

	select {
	case <-ctx.Done():
	case <-dispatchDone:
	}

	// Signal every accept/reader goroutine that may be blocked trying to
	// hand an event to dispatchLoop, which has either already stopped
	// (EXIT) or is about to once ctx is done: without this, closing the
	// client connections below can fill the events buffer and wedge
	// those goroutines forever, and wg.Wait() never returns.
	close(d.closing)

	d.listener.Close()
	if err := d.conns.CloseAll(); err != nil {
		d.log.Warn("error closing client connections", "error", err)
	}
	d.wg.Wait()
	return nil
}

// Addr blocks until the daemon is listening and returns its bound
// address. It exists for tests that start a daemon in a goroutine on
// an ephemeral port and need to learn which one it picked.
func (d *Daemon) Addr() net.Addr {
	<-d.ready
	return d.listener.Addr()
}

// acceptLoop accepts new channel connections, tunes their socket
// options, and starts a reader goroutine for each. It exits, without
// error, once the listener closes.
func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		if err := tuneConn(conn); err != nil {
			d.log.Warn("socket tuning failed", "error", err)
		}
		d.conns.Add(conn)

		host, port, err := splitHostPort(conn.RemoteAddr())
		if err != nil {
			d.log.Warn("could not parse remote address", "error", err)
			conn.Close()
			continue
		}

		// Guarded by closing: Run may already be tearing connections
		// down, in which case this send would otherwise block forever
		// once the events buffer fills (conn is still left in conns
		// for CloseAll to reap).
		select {
		case d.events <- event{kind: eventAccepted, conn: conn, key: registry.AddrPortKey(host, port)}:
		case <-d.closing:
			continue
		}

		d.wg.Add(1)
		go d.readLoop(conn)
	}
}

// readLoop decodes frames off conn until it errors or closes, handing
// each to the dispatch loop. Sends are guarded by closing so a
// dispatchLoop that has already stopped draining events can never
// wedge this goroutine, and therefore [Daemon.Run]'s wg.Wait, forever.
func (d *Daemon) readLoop(conn net.Conn) {
	defer d.wg.Done()
	for {
		msg, err := wire.ReadFrame(conn)
		if err != nil {
			select {
			case d.events <- event{kind: eventClosed, conn: conn, err: err}:
			case <-d.closing:
			}
			return
		}
		select {
		case d.events <- event{kind: eventFrame, conn: conn, msg: msg}:
		case <-d.closing:
			return
		}
	}
}

// splitHostPort parses a [net.Addr] into its host and numeric port.
func splitHostPort(addr net.Addr) (host string, port int32, err error) {
	h, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	var n int
	if _, err := fmt.Sscanf(p, "%d", &n); err != nil {
		return "", 0, fmt.Errorf("daemon: invalid port %q: %w", p, err)
	}
	return h, int32(n), nil
}

// dispatchLoop is the daemon's single state-mutating goroutine. It
// owns the registry, both buffers, and running until EXIT flips it
// false or closing fires (ctx cancellation, observed by Run rather
// than by this loop's own running flag).
func (d *Daemon) dispatchLoop() {
	for d.running {
		select {
		case ev := <-d.events:
			switch ev.kind {
			case eventAccepted:
				d.reg.RegisterConn(ev.key, ev.conn)
				d.retryPendingInits()

			case eventClosed:
				id, og, label, found := d.reg.RemoveConn(ev.conn)
				if found {
					d.log.Info("client channel closed", "identifier", id, "originator", og.String(), "channel", label.String(), "error", ev.err)
				}
				ev.conn.Close()

			case eventFrame:
				d.dispatchFrame(ev.conn, ev.msg)
			}

		case <-d.closing:
			return
		}
	}
}

// dispatchFrame routes one decoded frame to its handler by manifest
// op. An unknown op is always logged and dropped; it only draws a
// {PING, DAEMON, FAILURE} response when it arrived on CTRL, since SEND
// and RECV are never expected to carry a request the daemon can't
// answer on. A connection that hasn't finished INIT yet is treated as
// CTRL too, since CTRL is the only channel a client writes before
// registration completes.
func (d *Daemon) dispatchFrame(conn net.Conn, msg *wire.Message) {
	switch msg.Manifest.Op {
	case wire.OpInit:
		d.handleInit(conn, msg)
	case wire.OpPing:
		d.handlePing(conn, msg)
	case wire.OpSend:
		d.handleSend(conn, msg)
	case wire.OpFetch:
		d.handleFetch(conn, msg)
	case wire.OpPost:
		d.handlePost(conn, msg)
	case wire.OpReceive:
		d.handleReceive(conn, msg)
	case wire.OpExit:
		d.handleExit(conn, msg)
	default:
		d.log.Warn("unknown manifest op", "op", msg.Manifest.Op)
		if label, found := d.reg.ChannelLabelOf(conn); found && label != registry.ChannelCtrl {
			return
		}
		d.reply(conn, &wire.Message{Manifest: wire.Manifest{
			Op: wire.OpPing, Og: wire.OriginatorDaemon, Code: wire.CodeFailure,
		}})
	}
}

// reply writes one response frame back on conn, logging (rather than
// propagating) a write failure: a dead connection is handled by the
// read side's subsequent eventClosed, not here.
func (d *Daemon) reply(conn net.Conn, msg *wire.Message) {
	if err := wire.WriteFrame(conn, msg); err != nil {
		d.log.Warn("failed writing reply", "error", err)
	}
}
