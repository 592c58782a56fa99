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

// SimClient is the library used by simulator processes: it fetches
// outbound payloads and posts delivered ones.
type SimClient struct {
	baseClient
}

// NewSimClient creates a [SimClient] identified by identifier. st may
// be nil when the daemon is not configured with an offload store.
func NewSimClient(identifier string, st store.Store) *SimClient {
	return &SimClient{baseClient{identifier: identifier, originator: wire.OriginatorSim, store: st}}
}

// Initialize performs the INIT handshake against daemonAddr. Under
// SYSTEM_WIDE routing a second simulator's INIT fails; the caller is
// expected to exit on failure.
func (c *SimClient) Initialize(ctx context.Context, daemonAddr string) error {
	return c.initialize(ctx, daemonAddr)
}

// Post serializes and transmits a POST frame on the SEND channel. code
// should be [wire.CodeMessage], or [wire.CodeNoMessage] to report that
// the simulated network dropped the payload without placing anything
// in the store or buffers.
func (c *SimClient) Post(ctx context.Context, srcID, destID string, payload []byte, code wire.Code) (msgKey string, err error) {
	msg := &wire.Message{
		Manifest: wire.Manifest{Op: wire.OpPost, Og: wire.OriginatorSim, Code: code},
		Metadata: &wire.Metadata{SrcID: srcID, DestID: destID, PayloadSize: int32(len(payload))},
	}
	if code == wire.CodeMessage {
		inline, key, err := c.offloadOrInline(ctx, payload)
		if err != nil {
			return "", err
		}
		msg.Payload, msg.MsgKey = inline, key
		msgKey = key
	}
	if err := wire.WriteFrame(c.send, msg); err != nil {
		return "", fmt.Errorf("client: send POST: %w", err)
	}
	return msgKey, nil
}

// Fetch issues FETCH and waits up to timeout for a matching payload.
// srcID filters by source when non-empty. On PUSH configuration it
// instead waits directly on RECV for a FORWARD frame.
func (c *SimClient) Fetch(ctx context.Context, srcID string, timeout *time.Duration) (broker.Entry, bool, error) {
	if c.config != nil && c.config.SysMode == wire.SystemModePush {
		// The payload is still in flight through the simulator, so peek
		// rather than take.
		return c.waitForward(ctx, timeout, false)
	}
	return c.pollFetch(ctx, srcID, timeout)
}

// ListenFetch is the indefinite-blocking form of Fetch.
func (c *SimClient) ListenFetch(ctx context.Context, srcID string) (broker.Entry, error) {
	e, ok, err := c.Fetch(ctx, srcID, nil)
	if err != nil {
		return broker.Entry{}, err
	}
	if !ok {
		return broker.Entry{}, fmt.Errorf("client: listen returned without a message")
	}
	return e, nil
}

func (c *SimClient) pollFetch(ctx context.Context, srcID string, timeout *time.Duration) (broker.Entry, bool, error) {
	return pollLoop(ctx, timeout, func() (broker.Entry, bool, error) {
		if err := wire.WriteFrame(c.recv, &wire.Message{
			Manifest: wire.Manifest{Op: wire.OpFetch, Og: wire.OriginatorSim, Code: wire.CodeSuccess},
			Metadata: &wire.Metadata{SrcID: srcID},
		}); err != nil {
			return broker.Entry{}, false, fmt.Errorf("client: send FETCH: %w", err)
		}
		resp, err := wire.ReadFrame(c.recv)
		if err != nil {
			return broker.Entry{}, false, fmt.Errorf("client: read FETCH response: %w", err)
		}
		if resp.Manifest.Code == wire.CodeNoMessage {
			return broker.Entry{}, false, nil
		}
		// The payload is still in flight through the simulator, so peek
		// rather than take.
		e, err := c.entryFromResponse(ctx, resp, false)
		return e, err == nil, err
	})
}

