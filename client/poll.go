// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"net"
	"time"

	"github.com/nsb-ucsc/nsb-beta/broker"
	"github.com/nsb-ucsc/nsb-beta/errclass"
)

// pollLoop repeats attempt until it reports a message, an error, or
// timeout elapses, sleeping pollInterval between empty attempts. A nil
// timeout blocks forever; a zero duration tries exactly once.
func pollLoop(ctx context.Context, timeout *time.Duration, attempt func() (broker.Entry, bool, error)) (broker.Entry, bool, error) {
	var deadline time.Time
	hasDeadline := timeout != nil
	if hasDeadline {
		deadline = time.Now().Add(*timeout)
	}

	for {
		e, ok, err := attempt()
		if err != nil || ok {
			return e, ok, err
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return broker.Entry{}, false, nil
		}

		select {
		case <-ctx.Done():
			return broker.Entry{}, false, ctx.Err()
		case <-time.After(pollInterval):
		}

		if hasDeadline && !time.Now().Before(deadline) {
			return broker.Entry{}, false, nil
		}
	}
}

// applyReadDeadline sets conn's read deadline from timeout: nil clears
// any deadline (block forever), otherwise it expires after *timeout.
// A zero duration expires immediately, matching "timeout = 0 means
// poll and return immediately" for the PUSH direct-wait path.
func applyReadDeadline(conn net.Conn, timeout *time.Duration) error {
	if timeout == nil {
		return conn.SetReadDeadline(time.Time{})
	}
	return conn.SetReadDeadline(time.Now().Add(*timeout))
}

// isTimeout reports whether err is a read-deadline expiry, using the
// same error classification the rest of the stack uses.
func isTimeout(err error) bool {
	return errclass.New(err) == errclass.ETIMEDOUT
}
