// Package ipc carries the engine-to-control-thread back channel: user
// notes posted by processors during render, and a separate notification
// bit the engine sets whenever any processor wants the control thread to
// re-read its state. Both are lock-free: notes ride the same intrusive
// stack primitive as the job queues, and notification is a single atomic
// flag with test-and-clear semantics.
package ipc

import (
	"sync/atomic"

	"github.com/ritschwumm/anklang/internal/stack"
)

// NoteFlag distinguishes how a note's Text should be merged with any note
// already pending on its channel: Clear replaces the channel's prior text,
// Append concatenates onto it.
type NoteFlag int

const (
	Clear NoteFlag = iota
	Append
)

// Note is a single posted message, keyed by an arbitrary channel name
// (e.g. a processor's identity) chosen by the poster.
type Note struct {
	next    atomic.Pointer[Note]
	Channel string
	Flag    NoteFlag
	Text    string
}

func (n *Note) NextPtr() *atomic.Pointer[Note] { return &n.next }

// Channel is the engine's side of the back channel: a LIFO of posted notes
// plus a one-bit "a processor wants attention" flag, both safe to touch
// from the engine thread without blocking it.
type Channel struct {
	notes         stack.Stack[Note, *Note]
	notifyPending atomic.Bool
	wake          func()
}

// New constructs a Channel that calls wake whenever PostNote or SetProcNotify
// transitions pending state from false to true, so the control thread can
// be woken exactly once per batch rather than polled.
func New(wake func()) *Channel {
	return &Channel{wake: wake}
}

// PostNote enqueues a note from the engine thread. Always safe to call
// from render; never blocks.
func (c *Channel) PostNote(channel string, flag NoteFlag, text string) {
	if wasEmpty := c.notes.Push(&Note{Channel: channel, Flag: flag, Text: text}); wasEmpty && c.wake != nil {
		c.wake()
	}
}

// Pending reports whether any notes are queued or the processor
// notification bit is set, without draining either (§4.9).
func (c *Channel) Pending() bool { return !c.notes.Empty() || c.notifyPending.Load() }

// Dispatch drains all pending notes in post order and merges them into a
// map keyed by channel, applying each note's Flag as it is folded in:
// Clear replaces the channel's accumulated text, Append concatenates.
// Intended to run on the control thread.
func (c *Channel) Dispatch() map[string]string {
	result := make(map[string]string)
	for n := c.notes.PopReversed(); n != nil; n = n.next.Load() {
		switch n.Flag {
		case Clear:
			result[n.Channel] = n.Text
		case Append:
			result[n.Channel] += n.Text
		}
	}
	return result
}

// SetProcNotify raises the processor-notification bit, waking the control
// thread on the false->true transition only.
func (c *Channel) SetProcNotify() {
	if c.notifyPending.CompareAndSwap(false, true) {
		if c.wake != nil {
			c.wake()
		}
	}
}

// TestAndClearProcNotify atomically reads and clears the notification bit,
// returning whether it was set. Intended to run on the control thread.
func (c *Channel) TestAndClearProcNotify() bool {
	return c.notifyPending.CompareAndSwap(true, false)
}
