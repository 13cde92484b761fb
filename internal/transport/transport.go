// Package transport tracks the audio engine's monotonic frame clock and
// running state. Per §1's Non-goals the sample rate is fixed for the
// lifetime of the process; only the frame counter moves.
package transport

import "sync/atomic"

// Arrangement names the fixed speaker layout the engine renders for.
type Arrangement int

const (
	Mono Arrangement = iota
	Stereo
)

// SampleRate is the one sample rate this core supports (§6).
const SampleRate uint32 = 48000

// Transport is the audio engine's shared clock. FrameCounter is advanced
// only from the engine thread; Running is set from project/control-thread
// jobs and read from the engine thread without locking.
type Transport struct {
	arrangement  Arrangement
	frameCounter atomic.Uint64
	running      atomic.Bool
}

// New creates a Transport for the given speaker arrangement, stopped, at
// frame 0.
func New(arrangement Arrangement) *Transport {
	return &Transport{arrangement: arrangement}
}

// SampleRate returns the fixed engine sample rate.
func (t *Transport) SampleRate() uint32 { return SampleRate }

// Arrangement returns the speaker arrangement fixed at construction.
func (t *Transport) Arrangement() Arrangement { return t.arrangement }

// FrameCounter is the number of frames rendered so far.
func (t *Transport) FrameCounter() uint64 { return t.frameCounter.Load() }

// Advance moves the frame counter forward by n frames. Only the engine
// thread may call this.
func (t *Transport) Advance(n uint64) { t.frameCounter.Add(n) }

// Running reports whether the project transport is playing.
func (t *Transport) Running() bool { return t.running.Load() }

// SetRunning updates the running/stopped flag; driven by the project via a
// job, but safe to read from the engine thread without synchronization
// beyond the atomic itself.
func (t *Transport) SetRunning(running bool) { t.running.Store(running) }
