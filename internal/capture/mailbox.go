// Package capture owns the video source and hands frames to the inference
// loop through a single-slot mailbox.
package capture

import (
	"image"
	"sync/atomic"
	"time"
)

// Frame is one decoded image from the video source. Image must not be
// modified after the frame is put into a mailbox.
type Frame struct {
	Seq        uint64
	Image      image.Image
	CapturedAt time.Time
}

// Mailbox is a single-slot buffer with overwrite-on-write semantics: a Put
// over an unread frame discards it (latest frame wins, no backpressure).
// One writer and one reader may use it concurrently without locks.
type Mailbox struct {
	slot   atomic.Pointer[Frame]
	puts   atomic.Uint64
	drops  atomic.Uint64
	onDrop func()
}

// NewMailbox creates an empty mailbox. onDrop, if not nil, is called for every
// overwritten frame.
func NewMailbox(onDrop func()) *Mailbox {
	return &Mailbox{onDrop: onDrop}
}

// Put stores f, replacing any unread frame.
func (m *Mailbox) Put(f *Frame) {
	m.puts.Add(1)
	if old := m.slot.Swap(f); old != nil {
		m.drops.Add(1)
		if m.onDrop != nil {
			m.onDrop()
		}
	}
}

// Take removes and returns the pending frame, or nil when the slot is empty.
func (m *Mailbox) Take() *Frame {
	return m.slot.Swap(nil)
}

// Stats reports how many frames were written and how many were overwritten unread.
func (m *Mailbox) Stats() (puts, drops uint64) {
	return m.puts.Load(), m.drops.Load()
}
