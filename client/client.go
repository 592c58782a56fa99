// SPDX-License-Identifier: GPL-3.0-or-later

// Package client implements the broker's client protocol runtime: the
// shared INIT handshake, PING, and EXIT calls used by both application
// and simulator processes, and the framing/channel-choice/payload-store
// plumbing their SEND/RECEIVE and FETCH/POST calls hide.
//
// A value here is used from one caller goroutine plus, optionally, one
// listener goroutine of the caller's own that blocks in
// ListenReceive/ListenFetch; those calls block in whichever goroutine
// invokes them and start none themselves. The three channel
// connections are otherwise untouched by any other goroutine.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nsb-ucsc/nsb-beta/broker"
	"github.com/nsb-ucsc/nsb-beta/errclass"
	"github.com/nsb-ucsc/nsb-beta/store"
	"github.com/nsb-ucsc/nsb-beta/wire"
)

// connectGraceWindow bounds how long a single channel dial retries a
// transient failure (refused, timed out, network/host unreachable)
// before giving up and returning the last error to the caller. The
// library does not exit the process itself.
const connectGraceWindow = 5 * time.Second

// connectRetryInterval is the pause between connect retries.
const connectRetryInterval = 100 * time.Millisecond

// pollInterval is how often a blocking Receive/Fetch retries the
// daemon while its deadline has not elapsed. The daemon itself never
// blocks a FETCH/RECEIVE, so waiting for a match is the client's job.
const pollInterval = 50 * time.Millisecond

// baseClient holds the three channel connections and handshake state
// shared by [AppClient] and [SimClient]. The two are composed by
// embedding this struct rather than through an interface, since both
// need the same concrete fields, not just the same method set.
type baseClient struct {
	identifier string
	originator wire.Originator
	store      store.Store

	ctrl net.Conn
	send net.Conn
	recv net.Conn

	config *wire.ConfigParams
}

// dial opens the three channel connections to the daemon in order
// CTRL, SEND, RECV, and tunes each.
func dial(ctx context.Context, daemonAddr string) (ctrl, send, recv net.Conn, err error) {
	var d net.Dialer
	conns := make([]net.Conn, 0, 3)
	defer func() {
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
		}
	}()

	for i := 0; i < 3; i++ {
		c, dialErr := dialWithRetry(ctx, &d, daemonAddr)
		if dialErr != nil {
			return nil, nil, nil, fmt.Errorf("client: connect channel %d: %w", i, dialErr)
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			_ = tc.SetKeepAlive(true)
		}
		conns = append(conns, c)
	}
	return conns[0], conns[1], conns[2], nil
}

// dialWithRetry dials daemonAddr once, retrying on a transient failure
// (per [errclass.IsTransient]) until connectGraceWindow elapses, at
// which point it gives up and returns the last error.
func dialWithRetry(ctx context.Context, d *net.Dialer, daemonAddr string) (net.Conn, error) {
	deadline := time.Now().Add(connectGraceWindow)
	for {
		conn, err := d.DialContext(ctx, "tcp", daemonAddr)
		if err == nil {
			return conn, nil
		}
		if !errclass.IsTransient(errclass.New(err)) || !time.Now().Before(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryInterval):
		}
	}
}

// introDetails builds the IntroDetails for a just-dialed triple,
// reading back each connection's own locally-bound address the way a
// client reads its own getsockname result before announcing itself.
func introDetails(identifier string, ctrl, send, recv net.Conn) (*wire.IntroDetails, error) {
	host, ctrlPort, err := localHostPort(ctrl)
	if err != nil {
		return nil, err
	}
	_, sendPort, err := localHostPort(send)
	if err != nil {
		return nil, err
	}
	_, recvPort, err := localHostPort(recv)
	if err != nil {
		return nil, err
	}
	return &wire.IntroDetails{
		Identifier: identifier,
		Address:    host,
		ChCtrl:     ctrlPort,
		ChSend:     sendPort,
		ChRecv:     recvPort,
	}, nil
}

func localHostPort(conn net.Conn) (host string, port int32, err error) {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("client: connection has no TCP local address")
	}
	return addr.IP.String(), int32(addr.Port), nil
}

// initialize dials the channel triple to daemonAddr, performs the INIT
// handshake over it, and adopts the daemon's [wire.ConfigParams]
// verbatim on success.
func (c *baseClient) initialize(ctx context.Context, daemonAddr string) error {
	ctrl, send, recv, err := dial(ctx, daemonAddr)
	if err != nil {
		return err
	}
	c.ctrl, c.send, c.recv = ctrl, send, recv

	intro, err := introDetails(c.identifier, ctrl, send, recv)
	if err != nil {
		c.Close()
		return err
	}

	if err := wire.WriteFrame(ctrl, &wire.Message{
		Manifest: wire.Manifest{Op: wire.OpInit, Og: c.originator, Code: wire.CodeUnspecified},
		Intro:    intro,
	}); err != nil {
		c.Close()
		return fmt.Errorf("client: send INIT: %w", err)
	}

	resp, err := wire.ReadFrame(ctrl)
	if err != nil {
		c.Close()
		return fmt.Errorf("client: read INIT response: %w", err)
	}
	if resp.Manifest.Code != wire.CodeSuccess {
		c.Close()
		return fmt.Errorf("client: INIT rejected by daemon (code=%s)", resp.Manifest.Code)
	}

	c.config = resp.Config
	return nil
}

// Ping sends PING on CTRL and reports whether the daemon answered
// SUCCESS.
func (c *baseClient) Ping(ctx context.Context) (bool, error) {
	if err := wire.WriteFrame(c.ctrl, &wire.Message{
		Manifest: wire.Manifest{Op: wire.OpPing, Og: c.originator, Code: wire.CodeUnspecified},
	}); err != nil {
		return false, fmt.Errorf("client: send PING: %w", err)
	}
	resp, err := wire.ReadFrame(c.ctrl)
	if err != nil {
		return false, fmt.Errorf("client: read PING response: %w", err)
	}
	return resp.Manifest.Code == wire.CodeSuccess, nil
}

// Exit sends EXIT on CTRL without awaiting a response.
func (c *baseClient) Exit() error {
	return wire.WriteFrame(c.ctrl, &wire.Message{
		Manifest: wire.Manifest{Op: wire.OpExit, Og: c.originator, Code: wire.CodeUnspecified},
	})
}

// Close closes all three channel connections.
func (c *baseClient) Close() error {
	var err error
	for _, conn := range []net.Conn{c.ctrl, c.send, c.recv} {
		if conn == nil {
			continue
		}
		if cerr := conn.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// Identifier returns the client's own identifier.
func (c *baseClient) Identifier() string { return c.identifier }

// Config returns the [wire.ConfigParams] adopted from the daemon at
// INIT, or nil before initialize succeeds.
func (c *baseClient) Config() *wire.ConfigParams { return c.config }

// resolvePayload brings a MESSAGE response's payload carrier into an
// inline byte slice, consulting the offload store when the carrier is
// a key. take selects TAKE vs PEEK semantics: FETCH peeks, since the
// payload is still in flight through the simulator; RECEIVE takes,
// since it is the final delivery.
func (c *baseClient) resolvePayload(ctx context.Context, msg *wire.Message, take bool) ([]byte, error) {
	if !msg.HasMsgKey() {
		return msg.Payload, nil
	}
	if c.store == nil {
		return nil, fmt.Errorf("client: message carries msg_key %q but no offload store is configured", msg.MsgKey)
	}
	if take {
		return c.store.Take(ctx, msg.MsgKey)
	}
	return c.store.Peek(ctx, msg.MsgKey)
}

// offloadOrInline stores payload in the offload store and returns its
// key, or returns payload unchanged if offload is disabled.
func (c *baseClient) offloadOrInline(ctx context.Context, payload []byte) (inline []byte, msgKey string, err error) {
	if c.config == nil || !c.config.UseDB || c.store == nil {
		return payload, "", nil
	}
	key, err := c.store.Put(ctx, c.identifier, payload)
	if err != nil {
		return nil, "", fmt.Errorf("client: offload put: %w", err)
	}
	return nil, key, nil
}

// waitForward blocks on RECV for a daemon-pushed FORWARD frame, the
// PUSH-mode delivery path shared by [AppClient.Receive] and
// [SimClient.Fetch].
func (c *baseClient) waitForward(ctx context.Context, timeout *time.Duration, take bool) (broker.Entry, bool, error) {
	if err := applyReadDeadline(c.recv, timeout); err != nil {
		return broker.Entry{}, false, err
	}
	msg, err := wire.ReadFrame(c.recv)
	if err != nil {
		if isTimeout(err) {
			return broker.Entry{}, false, nil
		}
		return broker.Entry{}, false, fmt.Errorf("client: read FORWARD: %w", err)
	}
	e, err := c.entryFromResponse(ctx, msg, take)
	return e, err == nil, err
}

// entryFromResponse converts a MESSAGE response into a [broker.Entry],
// resolving its payload carrier.
func (c *baseClient) entryFromResponse(ctx context.Context, msg *wire.Message, take bool) (broker.Entry, error) {
	payload, err := c.resolvePayload(ctx, msg, take)
	if err != nil {
		return broker.Entry{}, err
	}
	e := broker.Entry{PayloadObj: payload}
	if msg.Metadata != nil {
		e.Source = msg.Metadata.SrcID
		e.Destination = msg.Metadata.DestID
		e.PayloadSize = msg.Metadata.PayloadSize
	}
	return e, nil
}
