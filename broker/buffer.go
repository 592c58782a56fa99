// SPDX-License-Identifier: GPL-3.0-or-later

// Package broker implements the daemon's tx_buffer and rx_buffer: the
// two FIFO queues of in-flight payloads that PULL mode matches SENDs
// against FETCHes and POSTs against RECEIVEs.
//
// Like [registry.Registry], a [Buffer] carries no lock of its own: the
// daemon's single dispatch goroutine is the only caller.
package broker

// Entry is one payload in flight through a [Buffer]. PayloadObj holds
// the inline bytes and MsgKey the offload-store key; which of the two
// is set depends on the daemon's use_db setting, and the buffer itself
// is agnostic to which.
type Entry struct {
	Source      string
	Destination string
	PayloadObj  []byte
	MsgKey      string
	PayloadSize int32
}

// HasMsgKey reports whether e carries an offload-store key rather than
// an inline payload.
func (e Entry) HasMsgKey() bool {
	return e.MsgKey != ""
}

// Buffer is a FIFO queue of [Entry] values with source/destination
// matching, used for both tx_buffer and rx_buffer.
type Buffer struct {
	entries []Entry
}

// NewBuffer creates an empty [Buffer].
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Push appends e to the tail of the queue.
func (b *Buffer) Push(e Entry) {
	b.entries = append(b.entries, e)
}

// Len returns the number of entries currently queued.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// PopFront removes and returns the head of the queue. ok is false if
// the queue is empty.
func (b *Buffer) PopFront() (e Entry, ok bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	e = b.entries[0]
	b.entries = b.entries[1:]
	return e, true
}

// PopFirstMatch removes and returns the first entry whose Source
// equals source, preserving FIFO order among the rest.
func (b *Buffer) PopFirstMatch(source string) (e Entry, ok bool) {
	for i := range b.entries {
		if b.entries[i].Source == source {
			e = b.entries[i]
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// PopFirstDestination removes and returns the first entry whose
// Destination equals destination.
func (b *Buffer) PopFirstDestination(destination string) (e Entry, ok bool) {
	for i := range b.entries {
		if b.entries[i].Destination == destination {
			e = b.entries[i]
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}
