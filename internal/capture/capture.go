// Package capture implements the engine's capture sink: an optional file
// recorder fed the same interleaved stereo blocks handed to the PCM
// driver, gated by transport running-state and an autostop sample count
// (§4.8). Concrete sinks are resolved from a filename suffix; unrecognized
// suffixes are a CaptureIoError surfaced as a user-note, not a panic.
package capture

import "fmt"

// Sink accepts interleaved stereo float32 blocks and is closed exactly
// once, synchronously, on the engine thread when capture stops.
type Sink interface {
	WriteBlock(interleaved []float32, nFrames int) error
	Close() error
}

// Opener constructs a Sink for a given filename at the engine's fixed
// sample rate.
type Opener func(filename string, sampleRate uint32) (Sink, error)

// Factory resolves a Sink implementation by filename suffix. Only suffixes
// passed to Register are recognized; this package provides a sink for
// ".wav" only (RegisterWav), so ".flac" and ".opus" get the same
// "unrecognized file suffix" error as any other unregistered suffix.
type Factory struct {
	openers map[string]Opener
}

func NewFactory() *Factory {
	return &Factory{openers: make(map[string]Opener)}
}

func (f *Factory) Register(suffix string, open Opener) {
	f.openers[suffix] = open
}

func (f *Factory) Open(filename string, sampleRate uint32) (Sink, error) {
	suffix := suffixOf(filename)
	open, ok := f.openers[suffix]
	if !ok {
		return nil, fmt.Errorf("capture: unrecognized file suffix %q", suffix)
	}
	return open(filename, sampleRate)
}

func suffixOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[i:]
		}
		if filename[i] == '/' {
			break
		}
	}
	return ""
}

// Controller gates writes to an open Sink per §4.8: a block is forwarded
// only while writeStamp+frames does not exceed autostop, and while either
// needsRunning is false or the transport is reported running. It also
// tracks the one-shot autostop signal.
type Controller struct {
	sink         Sink
	needsRunning bool
	autostop     uint64
	writeStamp   uint64
	quitSignaled bool
}

// Start begins gating writes to sink from writeStamp, with the given
// autostop sample count (0 means unbounded) and needsRunning gate.
func (c *Controller) Start(sink Sink, writeStamp uint64, autostop uint64, needsRunning bool) {
	c.sink = sink
	c.writeStamp = writeStamp
	c.autostop = autostop
	c.needsRunning = needsRunning
	c.quitSignaled = false
}

// Active reports whether a sink is currently open.
func (c *Controller) Active() bool { return c.sink != nil }

// WriteBlock forwards interleaved to the open sink if §4.8's gating
// conditions hold, and advances writeStamp by nFrames regardless (the
// transport's own clock keeps moving even while capture is paused by
// needsRunning). It reports whether autostop was just reached.
func (c *Controller) WriteBlock(interleaved []float32, nFrames int, running bool) (autostopHit bool, err error) {
	if c.sink == nil {
		return false, nil
	}

	withinAutostop := c.autostop == 0 || c.writeStamp+uint64(nFrames) <= c.autostop
	runningOK := !c.needsRunning || running

	if withinAutostop && runningOK {
		if err := c.sink.WriteBlock(interleaved, nFrames); err != nil {
			return false, err
		}
	}
	c.writeStamp += uint64(nFrames)

	if c.autostop != 0 && c.writeStamp >= c.autostop && !c.quitSignaled {
		c.quitSignaled = true
		return true, nil
	}
	return false, nil
}

// Stop closes the sink synchronously and clears the controller.
func (c *Controller) Stop() error {
	if c.sink == nil {
		return nil
	}
	err := c.sink.Close()
	c.sink = nil
	return err
}
