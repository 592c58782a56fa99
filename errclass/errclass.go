// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package errclass implements error classification for the broker's
transport layer.

The general idea is to classify Go errors into an enum of strings with
names resembling standard Unix error names, so that the daemon and the
client runtime can log and branch on a stable vocabulary instead of the
underlying error message.

# Design Principles

1. Preserve the original error in the `err` structured-log field; add
the classified error as the `class` field.

2. Use [errors.Is] for classification wherever the stdlib or syscall
package exposes a sentinel; fall back to message-suffix matching for
the handful of errors that don't.

3. Map the nil error to the empty string.

The actual system error constants are defined in platform-specific
files:

  - unix.go for Unix-like systems using x/sys/unix
  - windows.go for Windows systems using x/sys/windows
*/
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
)

// Class is the type of a classified error.
type Class = string

const (
	// EADDRNOTAVAIL is the address not available error.
	EADDRNOTAVAIL = Class("EADDRNOTAVAIL")

	// EADDRINUSE is the address in use error.
	EADDRINUSE = Class("EADDRINUSE")

	// ECONNABORTED is the connection aborted error.
	ECONNABORTED = Class("ECONNABORTED")

	// ECONNREFUSED is the connection refused error.
	ECONNREFUSED = Class("ECONNREFUSED")

	// ECONNRESET is the connection reset by peer error.
	ECONNRESET = Class("ECONNRESET")

	// EHOSTUNREACH is the host unreachable error.
	EHOSTUNREACH = Class("EHOSTUNREACH")

	// EEOF indicates an (unexpected) end of file.
	EEOF = Class("EEOF")

	// EINVAL is the invalid argument error.
	EINVAL = Class("EINVAL")

	// EINTR is the interrupted system call error, also used for
	// context cancellation and use-of-closed-connection.
	EINTR = Class("EINTR")

	// ENETDOWN is the network is down error.
	ENETDOWN = Class("ENETDOWN")

	// ENETUNREACH is the network unreachable error.
	ENETUNREACH = Class("ENETUNREACH")

	// ENOBUFS is the no buffer space available error.
	ENOBUFS = Class("ENOBUFS")

	// ENOTCONN is the socket not connected error.
	ENOTCONN = Class("ENOTCONN")

	// ETIMEDOUT is the operation timed out error, also used for
	// context deadline exceeded.
	ETIMEDOUT = Class("ETIMEDOUT")

	// EGENERIC is the fallback for an unclassified, non-nil error.
	EGENERIC = Class("EGENERIC")
)

// errorsIsMap lists the errors we classify with [errors.Is].
var errorsIsMap = map[error]Class{
	context.DeadlineExceeded: ETIMEDOUT,
	os.ErrDeadlineExceeded:   ETIMEDOUT,
	context.Canceled:         EINTR,
	net.ErrClosed:            EINTR,
	io.EOF:                   EEOF,
	io.ErrUnexpectedEOF:      EEOF,
	errEADDRNOTAVAIL:         EADDRNOTAVAIL,
	errEADDRINUSE:            EADDRINUSE,
	errECONNABORTED:          ECONNABORTED,
	errECONNREFUSED:          ECONNREFUSED,
	errECONNRESET:            ECONNRESET,
	errEHOSTUNREACH:          EHOSTUNREACH,
	errEINVAL:                EINVAL,
	errEINTR:                 EINTR,
	errENETDOWN:              ENETDOWN,
	errENETUNREACH:           ENETUNREACH,
	errENOBUFS:               ENOBUFS,
	errENOTCONN:              ENOTCONN,
	errETIMEDOUT:             ETIMEDOUT,
}

// stringSuffixMap lists the errors we classify by message suffix, for
// errors the runtime does not expose as typed sentinels.
var stringSuffixMap = map[string]Class{
	"use of closed network connection": EINTR,
	"i/o timeout":                      ETIMEDOUT,
}

// New classifies err into a [Class]. It returns the empty string for a
// nil error and [EGENERIC] for an error it cannot otherwise classify.
func New(err error) Class {
	if err == nil {
		return ""
	}
	for sentinel, class := range errorsIsMap {
		if errors.Is(err, sentinel) {
			return class
		}
	}
	msg := err.Error()
	for suffix, class := range stringSuffixMap {
		if strings.HasSuffix(msg, suffix) {
			return class
		}
	}
	return EGENERIC
}

// IsTransient reports whether class describes a condition a client
// should retry its connect attempt for within its grace window, rather
// than exiting immediately.
func IsTransient(class Class) bool {
	switch class {
	case ECONNREFUSED, ETIMEDOUT, ENETUNREACH, ENETDOWN, EHOSTUNREACH:
		return true
	default:
		return false
	}
}
