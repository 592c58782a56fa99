// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"net"

	"github.com/nsb-ucsc/nsb-beta/broker"
	"github.com/nsb-ucsc/nsb-beta/registry"
	"github.com/nsb-ucsc/nsb-beta/wire"
)

// pendingInit is an INIT frame parked because one of the three channels
// it names had not yet been accepted (see [Daemon.handleInit]).
type pendingInit struct {
	conn net.Conn
	msg  *wire.Message
}

// handleInit folds the three resolved channel connections named by an
// INIT frame's IntroDetails into one [registry.ClientDetails] and
// registers it.
//
// A client dials its three channels and writes INIT on CTRL as soon as
// all three are established. acceptLoop only guarantees that a given
// connection's own eventAccepted precedes the frames that connection's
// readLoop later decodes. It says nothing about the relative order of
// the SEND/RECV accepts versus the CTRL reader's INIT frame. On a
// multicore host the CTRL readLoop can reach dispatchLoop before
// acceptLoop has finished accepting SEND and RECV, so failing outright
// here would spuriously reject a well-formed handshake. Instead, park
// the INIT and retry it whenever another channel is accepted.
func (d *Daemon) handleInit(conn net.Conn, msg *wire.Message) {
	if msg.Intro == nil {
		d.reply(conn, initFailure())
		return
	}
	if !d.tryCompleteInit(conn, msg) {
		d.pendingInits = append(d.pendingInits, pendingInit{conn: conn, msg: msg})
	}
}

// retryPendingInits re-attempts every parked INIT, in the order parked,
// after a new channel has been accepted.
func (d *Daemon) retryPendingInits() {
	if len(d.pendingInits) == 0 {
		return
	}
	remaining := d.pendingInits[:0]
	for _, p := range d.pendingInits {
		if !d.tryCompleteInit(p.conn, p.msg) {
			remaining = append(remaining, p)
		}
	}
	d.pendingInits = remaining
}

// tryCompleteInit attempts to resolve and register one INIT's three
// channels. It returns false only when a channel named by intro has not
// been accepted yet, meaning the caller should retry later; any other
// outcome (success, or a permanent registration failure) is handled
// here and reported true.
func (d *Daemon) tryCompleteInit(conn net.Conn, msg *wire.Message) bool {
	intro := msg.Intro
	ctrlKey := registry.AddrPortKey(intro.Address, intro.ChCtrl)
	sendKey := registry.AddrPortKey(intro.Address, intro.ChSend)
	recvKey := registry.AddrPortKey(intro.Address, intro.ChRecv)

	if !d.reg.HasPendingConn(ctrlKey) || !d.reg.HasPendingConn(sendKey) || !d.reg.HasPendingConn(recvKey) {
		return false
	}

	ctrlConn, _ := d.reg.ResolveConn(ctrlKey)
	sendConn, _ := d.reg.ResolveConn(sendKey)
	recvConn, _ := d.reg.ResolveConn(recvKey)

	details := &registry.ClientDetails{
		Identifier: intro.Identifier,
		Originator: msg.Manifest.Og,
		Address:    intro.Address,
		Ctrl:       ctrlConn,
		Send:       sendConn,
		Recv:       recvConn,
	}

	if err := d.reg.RegisterClient(details); err != nil {
		d.log.Warn("INIT registration failed", "identifier", intro.Identifier, "error", err)
		d.reply(ctrlConn, initFailure())
		return true
	}

	d.log.Info("client registered", "identifier", intro.Identifier, "originator", details.Originator.String())
	d.reply(ctrlConn, &wire.Message{
		Manifest: wire.Manifest{Op: wire.OpInit, Og: wire.OriginatorDaemon, Code: wire.CodeSuccess},
		Config:   d.cfg.ToWireParams(),
	})
	return true
}

func initFailure() *wire.Message {
	return &wire.Message{Manifest: wire.Manifest{Op: wire.OpInit, Og: wire.OriginatorDaemon, Code: wire.CodeFailure}}
}

// handlePing answers a CTRL keepalive.
func (d *Daemon) handlePing(conn net.Conn, msg *wire.Message) {
	d.reply(conn, &wire.Message{Manifest: wire.Manifest{Op: wire.OpPing, Og: wire.OriginatorDaemon, Code: wire.CodeSuccess}})
}

// handleExit flips the daemon's running flag to false. Run tears down
// every channel fd once the dispatch loop returns.
func (d *Daemon) handleExit(conn net.Conn, msg *wire.Message) {
	d.log.Info("EXIT received, shutting down")
	d.running = false
}

// handleSend is the app-to-daemon half of message delivery: PULL mode
// buffers the entry; PUSH mode rewrites the op to FORWARD and writes
// it straight to the target sim's RECV channel.
func (d *Daemon) handleSend(conn net.Conn, msg *wire.Message) {
	entry := entryFromMessage(msg)

	if d.cfg.SystemMode == wire.SystemModePull {
		d.txBuffer.Push(entry)
		return
	}

	target := d.forwardTargetSim(entry.Source)
	if target == nil {
		d.log.Warn("PUSH SEND dropped: no sim registered", "src_id", entry.Source)
		return
	}
	d.forward(target.Recv, wire.OriginatorApp, msg)
}

// forwardTargetSim resolves the sim that should receive a forwarded
// SEND. Under PER_NODE routing this keys on the entry's source, so
// each app's traffic reaches the sim that owns its node.
func (d *Daemon) forwardTargetSim(srcID string) *registry.ClientDetails {
	details, ok := d.reg.Sim(srcID)
	if !ok {
		return nil
	}
	return details
}

// handlePost is the sim-to-daemon half of delivered-message posting. A
// NO_MESSAGE code means the simulated network dropped the payload and
// causes no state change.
func (d *Daemon) handlePost(conn net.Conn, msg *wire.Message) {
	if msg.Manifest.Code == wire.CodeNoMessage {
		return
	}

	entry := entryFromMessage(msg)

	if d.cfg.SystemMode == wire.SystemModePull {
		d.rxBuffer.Push(entry)
		return
	}

	app, ok := d.reg.App(entry.Destination)
	if !ok {
		d.log.Warn("PUSH POST dropped: unknown app", "dest_id", entry.Destination)
		return
	}
	d.forward(app.Recv, wire.OriginatorSim, msg)
}

// forward rewrites msg's op to FORWARD and writes it to target,
// preserving metadata and payload carrier verbatim.
func (d *Daemon) forward(target net.Conn, og wire.Originator, msg *wire.Message) {
	if target == nil {
		return
	}
	fwd := &wire.Message{
		Manifest: wire.Manifest{Op: wire.OpForward, Og: og, Code: wire.CodeMessage},
		Metadata: msg.Metadata,
		Payload:  msg.Payload,
		MsgKey:   msg.MsgKey,
	}
	d.reply(target, fwd)
}

// handleFetch is the sim-to-daemon half of message retrieval: a PULL
// sim searches tx_buffer, optionally filtered by src_id. Under
// PER_NODE routing a caller-supplied src_id is overridden with the
// sim's own identifier, treating the request as "give me something I
// sourced" rather than letting one sim fetch on another's behalf.
func (d *Daemon) handleFetch(conn net.Conn, msg *wire.Message) {
	if d.cfg.SystemMode == wire.SystemModePush {
		// The sim waits passively on RECV in PUSH mode; FETCH is a no-op.
		return
	}

	srcID := ""
	if msg.Metadata != nil {
		srcID = msg.Metadata.SrcID
	}

	if d.cfg.SimulatorMode == wire.SimulatorModePerNode && srcID != "" {
		if id, og, ok := d.reg.IdentifyConn(conn); ok && og == wire.OriginatorSim {
			d.log.Warn("PER_NODE FETCH overriding caller-supplied src_id", "requested", srcID, "sim", id)
			srcID = id
		}
	}

	var (
		entry broker.Entry
		found bool
	)
	if srcID != "" {
		entry, found = d.txBuffer.PopFirstMatch(srcID)
	} else {
		entry, found = d.txBuffer.PopFront()
	}

	if !found {
		d.reply(conn, &wire.Message{Manifest: wire.Manifest{Op: wire.OpFetch, Og: wire.OriginatorDaemon, Code: wire.CodeNoMessage}})
		return
	}

	d.reply(conn, messageFromEntry(wire.OpFetch, entry))
}

// handleReceive is the app-to-daemon half of message retrieval: search
// rx_buffer for the first entry addressed to dest_id, defaulting to
// the caller's own identifier when absent.
func (d *Daemon) handleReceive(conn net.Conn, msg *wire.Message) {
	if d.cfg.SystemMode == wire.SystemModePush {
		// The app waits passively on RECV in PUSH mode; RECEIVE is a no-op.
		return
	}

	destID := ""
	if msg.Metadata != nil {
		destID = msg.Metadata.DestID
	}
	if destID == "" {
		if id, og, ok := d.reg.IdentifyConn(conn); ok && og == wire.OriginatorApp {
			destID = id
		}
	}

	entry, found := d.rxBuffer.PopFirstDestination(destID)
	if !found {
		d.reply(conn, &wire.Message{Manifest: wire.Manifest{Op: wire.OpReceive, Og: wire.OriginatorDaemon, Code: wire.CodeNoMessage}})
		return
	}

	d.reply(conn, messageFromEntry(wire.OpReceive, entry))
}

// entryFromMessage converts a SEND/POST frame's metadata and payload
// carrier into a [broker.Entry].
func entryFromMessage(msg *wire.Message) broker.Entry {
	var e broker.Entry
	if msg.Metadata != nil {
		e.Source = msg.Metadata.SrcID
		e.Destination = msg.Metadata.DestID
		e.PayloadSize = msg.Metadata.PayloadSize
	}
	e.PayloadObj = msg.Payload
	e.MsgKey = msg.MsgKey
	return e
}

// messageFromEntry builds the MESSAGE response for a successful
// FETCH/RECEIVE from a buffered [broker.Entry].
func messageFromEntry(op wire.Op, e broker.Entry) *wire.Message {
	return &wire.Message{
		Manifest: wire.Manifest{Op: op, Og: wire.OriginatorDaemon, Code: wire.CodeMessage},
		Metadata: &wire.Metadata{SrcID: e.Source, DestID: e.Destination, PayloadSize: e.PayloadSize},
		Payload:  e.PayloadObj,
		MsgKey:   e.MsgKey,
	}
}
