// SPDX-License-Identifier: GPL-3.0-or-later

// Package store implements the payload offload store contract: an
// abstract key/value store with atomic get-and-delete, used to move
// large payloads out of the wire frame when the daemon is configured
// with use_offload_store.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Take and Peek when the key is missing,
// surfaced distinctly from a put failure.
var ErrNotFound = errors.New("store: key not found")

// Store is the abstract payload offload contract.
type Store interface {
	// Put stores value and returns a key unique under concurrent puts
	// from any client. clientID identifies the caller and feeds the
	// key scheme.
	Put(ctx context.Context, clientID string, value []byte) (key string, err error)

	// Take atomically retrieves and deletes the value for key. It
	// returns ErrNotFound if key is absent.
	Take(ctx context.Context, key string) ([]byte, error)

	// Peek retrieves the value for key without deleting it. It
	// returns ErrNotFound if key is absent.
	Peek(ctx context.Context, key string) ([]byte, error)
}

// keygen generates offload keys of the form "<timestamp>-<clientID>-<counter>",
// where counter is a mutex-protected monotonic value masked to 20 bits.
// Each store value owns one keygen. Keys from different clients differ
// in their clientID part, and concurrent puts through one store value
// differ in their counter.
type keygen struct {
	mu      sync.Mutex
	counter uint32
}

const counterMask = 0xFFFFF // 20 bits

// next returns a fresh key for clientID. now is injected so tests don't
// depend on wall-clock time.
func (g *keygen) next(clientID string, now time.Time) string {
	g.mu.Lock()
	g.counter = (g.counter + 1) & counterMask
	c := g.counter
	g.mu.Unlock()
	return fmt.Sprintf("%d-%s-%d", now.UnixNano(), clientID, c)
}
