// Package ring implements the SPSC deinterleaved multi-channel audio ring
// buffer shared between a driver's foreign real-time callback and the
// engine thread. Exactly one thread may call the write side, exactly one
// distinct thread the read side; Clear/Resize are not safe against either.
package ring

import "sync/atomic"

// FrameRingBuffer holds capacity-1 usable frames across n channels. The
// extra slot distinguishes "empty" from "full" without a separate count.
type FrameRingBuffer[T any] struct {
	channels [][]T
	capacity int

	// readPos is written only by the reader, writePos only by the writer.
	// Each side publishes its own position with release ordering (Store)
	// after its copies complete, and observes the other with acquire
	// ordering (Load) before computing how much room/data is available.
	readPos  atomic.Uint64
	writePos atomic.Uint64
}

// New allocates a ring able to hold nFrames frames across the given number
// of channels.
func New[T any](nFrames, channels int) *FrameRingBuffer[T] {
	if nFrames < 1 {
		panic("ring: nFrames must be >= 1")
	}
	if channels < 1 {
		panic("ring: channels must be >= 1")
	}
	capacity := nFrames + 1
	chans := make([][]T, channels)
	for i := range chans {
		chans[i] = make([]T, capacity)
	}
	return &FrameRingBuffer[T]{channels: chans, capacity: capacity}
}

// Capacity returns n+1, the raw slot count (one more than the usable frame
// count).
func (r *FrameRingBuffer[T]) Capacity() int { return r.capacity }

// Channels returns the channel count the ring was constructed with.
func (r *FrameRingBuffer[T]) Channels() int { return len(r.channels) }

func (r *FrameRingBuffer[T]) diff(a, b uint64) int {
	d := int(a) - int(b)
	if d < 0 {
		d += r.capacity
	}
	return d
}

// Readable reports how many frames are available to Read.
func (r *FrameRingBuffer[T]) Readable() int {
	w := r.writePos.Load()
	rp := r.readPos.Load()
	return r.diff(w, rp)
}

// Writable reports how many frames of room remain for Write. Equivalent to
// ((read_pos - write_pos - 1) mod capacity); expressed here as
// capacity-1-Readable() so the empty/full invariant
// (Readable()+Writable()+1 == Capacity()) holds by construction.
func (r *FrameRingBuffer[T]) Writable() int {
	return r.capacity - 1 - r.Readable()
}

// Write copies up to n frames from in (one slice per channel, each at least
// n long) into the ring, split around the wrap boundary as needed, and
// returns the number of frames actually written (clamped to Writable()).
// The writer-side position is published only after every channel's copy has
// completed.
func (r *FrameRingBuffer[T]) Write(n int, in [][]T) int {
	if n > r.Writable() {
		n = r.Writable()
	}
	if n <= 0 {
		return 0
	}
	wp := int(r.writePos.Load())
	first := n
	if first > r.capacity-wp {
		first = r.capacity - wp
	}
	second := n - first

	for ch := range r.channels {
		dst := r.channels[ch]
		src := in[ch]
		copy(dst[wp:wp+first], src[:first])
		if second > 0 {
			copy(dst[0:second], src[first:first+second])
		}
	}

	newWP := (wp + n) % r.capacity
	r.writePos.Store(uint64(newWP))
	return n
}

// Read copies up to n frames into out (one slice per channel, each at least
// n long), split around the wrap boundary, and returns the number of frames
// actually read (clamped to Readable()). The reader-side position is
// published only after every channel's copy has completed.
func (r *FrameRingBuffer[T]) Read(n int, out [][]T) int {
	if n > r.Readable() {
		n = r.Readable()
	}
	if n <= 0 {
		return 0
	}
	rp := int(r.readPos.Load())
	first := n
	if first > r.capacity-rp {
		first = r.capacity - rp
	}
	second := n - first

	for ch := range r.channels {
		dst := out[ch]
		src := r.channels[ch]
		copy(dst[:first], src[rp:rp+first])
		if second > 0 {
			copy(dst[first:first+second], src[0:second])
		}
	}

	newRP := (rp + n) % r.capacity
	r.readPos.Store(uint64(newRP))
	return n
}

// Clear resets both positions to zero. Not safe to call concurrently with
// Read or Write.
func (r *FrameRingBuffer[T]) Clear() {
	r.readPos.Store(0)
	r.writePos.Store(0)
}

// Resize reallocates the ring for a new frame capacity, discarding any
// buffered content. Not safe to call concurrently with Read or Write.
func (r *FrameRingBuffer[T]) Resize(nFrames int) {
	if nFrames < 1 {
		panic("ring: nFrames must be >= 1")
	}
	capacity := nFrames + 1
	chans := make([][]T, len(r.channels))
	for i := range chans {
		chans[i] = make([]T, capacity)
	}
	r.channels = chans
	r.capacity = capacity
	r.Clear()
}
