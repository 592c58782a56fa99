// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nsb-ucsc/nsb-beta/broker"
	"github.com/nsb-ucsc/nsb-beta/store"
	"github.com/nsb-ucsc/nsb-beta/wire"
)

// AppClient is the library used by application processes: it sends
// payloads and receives delivered ones.
type AppClient struct {
	baseClient
}

// NewAppClient creates an [AppClient] identified by identifier. st may
// be nil when the daemon is not configured with an offload store.
func NewAppClient(identifier string, st store.Store) *AppClient {
	return &AppClient{baseClient{identifier: identifier, originator: wire.OriginatorApp, store: st}}
}

// Initialize performs the INIT handshake against daemonAddr. On
// failure the caller is expected to exit the process; this library
// surfaces the failure as an error instead of calling os.Exit itself,
// so embedding code can decide how to fail.
func (c *AppClient) Initialize(ctx context.Context, daemonAddr string) error {
	return c.initialize(ctx, daemonAddr)
}

// Send serializes and transmits a SEND frame on the SEND channel. It
// returns the offload key used, or the empty string when offload is
// disabled.
func (c *AppClient) Send(ctx context.Context, destID string, payload []byte) (msgKey string, err error) {
	inline, key, err := c.offloadOrInline(ctx, payload)
	if err != nil {
		return "", err
	}
	msg := &wire.Message{
		Manifest: wire.Manifest{Op: wire.OpSend, Og: wire.OriginatorApp, Code: wire.CodeMessage},
		Metadata: &wire.Metadata{SrcID: c.identifier, DestID: destID, PayloadSize: int32(len(payload))},
		Payload:  inline,
		MsgKey:   key,
	}
	if err := wire.WriteFrame(c.send, msg); err != nil {
		return "", fmt.Errorf("client: send SEND: %w", err)
	}
	return key, nil
}

// Receive issues RECEIVE and waits up to timeout for a matching
// payload. destID defaults to the caller's own identifier when empty.
// timeout == nil blocks forever; a zero timeout polls once. On PUSH
// configuration it instead waits directly on RECV for a FORWARD frame.
//
// The returned bool is false on NO_MESSAGE or timeout, leaving the
// caller with a zero-value [broker.Entry] in both cases.
func (c *AppClient) Receive(ctx context.Context, destID string, timeout *time.Duration) (broker.Entry, bool, error) {
	if c.config != nil && c.config.SysMode == wire.SystemModePush {
		// RECEIVE is a final delivery, so take rather than peek.
		return c.waitForward(ctx, timeout, true)
	}
	return c.pollReceive(ctx, destID, timeout)
}

// ListenReceive is the indefinite-blocking form of Receive.
func (c *AppClient) ListenReceive(ctx context.Context, destID string) (broker.Entry, error) {
	e, ok, err := c.Receive(ctx, destID, nil)
	if err != nil {
		return broker.Entry{}, err
	}
	if !ok {
		return broker.Entry{}, fmt.Errorf("client: listen returned without a message")
	}
	return e, nil
}

func (c *AppClient) pollReceive(ctx context.Context, destID string, timeout *time.Duration) (broker.Entry, bool, error) {
	return pollLoop(ctx, timeout, func() (broker.Entry, bool, error) {
		if err := wire.WriteFrame(c.recv, &wire.Message{
			Manifest: wire.Manifest{Op: wire.OpReceive, Og: wire.OriginatorApp, Code: wire.CodeSuccess},
			Metadata: &wire.Metadata{DestID: destID},
		}); err != nil {
			return broker.Entry{}, false, fmt.Errorf("client: send RECEIVE: %w", err)
		}
		resp, err := wire.ReadFrame(c.recv)
		if err != nil {
			return broker.Entry{}, false, fmt.Errorf("client: read RECEIVE response: %w", err)
		}
		if resp.Manifest.Code == wire.CodeNoMessage {
			return broker.Entry{}, false, nil
		}
		// RECEIVE is a final delivery, so take rather than peek.
		e, err := c.entryFromResponse(ctx, resp, true)
		return e, err == nil, err
	})
}

