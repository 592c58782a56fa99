// SPDX-License-Identifier: GPL-3.0-or-later

// Package connset pools a set of channel connections and closes them
// all in a single operation, used by the daemon to tear down every
// client channel fd on EXIT or shutdown.
package connset

import (
	"errors"
	"io"
	"slices"
	"sync"
)

// Set pools a set of [io.Closer] handles.
//
// The zero value is ready to use.
type Set struct {
	handles []io.Closer
	mu      sync.Mutex
}

// Add adds conn to the set.
func (s *Set) Add(conn io.Closer) {
	s.mu.Lock()
	s.handles = append(s.handles, conn)
	s.mu.Unlock()
}

// CloseAll closes every handle in the set, iterating in backward
// (most-recently-added-first) order, and removes them from the set.
// It returns the join of every close error encountered.
func (s *Set) CloseAll() error {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	var errv []error
	for _, h := range slices.Backward(handles) {
		if err := h.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}

// Len returns the number of handles currently pooled.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
