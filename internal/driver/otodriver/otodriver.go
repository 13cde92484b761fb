// Package otodriver is the default cross-platform PCM output backend,
// built on github.com/ebitengine/oto/v3. oto pulls bytes on its own
// callback goroutine via Read; the engine pushes rendered stereo frames
// from the render thread. A ring.FrameRingBuffer bridges the two without
// locking either side.
package otodriver

import (
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/oto/v3"

	"github.com/ritschwumm/anklang/internal/driver"
	"github.com/ritschwumm/anklang/internal/ring"
)

const channels = 2

// Driver is a driver.PcmDriver backed by an oto.Context. Write enqueues
// rendered frames into the ring buffer; oto's Read callback drains it on
// its own goroutine, lock-free on both ends via ring.FrameRingBuffer.
type Driver struct {
	deviceID   string
	sampleRate uint32
	ctx        *oto.Context
	player     *oto.Player
	buf        *ring.FrameRingBuffer[float32]
	closed     atomic.Bool
}

// Open starts an oto context at sampleRate and begins playback immediately
// (oto has no separate start/stop once a Player exists); Write supplies
// frames as they become available. deviceID is accepted for interface
// symmetry with other backends but oto has no device selection of its own.
func Open(deviceID string, sampleRate uint32, ringFrames int) (*Driver, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(sampleRate),
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   0,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	d := &Driver{
		deviceID:   deviceID,
		sampleRate: sampleRate,
		ctx:        ctx,
		buf:        ring.New[float32](ringFrames, channels),
	}
	d.player = ctx.NewPlayer(d)
	d.player.Play()
	return d, nil
}

func OpenBackend(reg *driver.Registry, priority int) {
	reg.RegisterPcm("oto", priority, func(deviceID string, sampleRate uint32, ch int) (driver.PcmDriver, error) {
		return Open(deviceID, sampleRate, 8192)
	})
}

func (d *Driver) DeviceID() string { return d.deviceID }

// Write pushes nFrames of interleaved stereo samples into the ring buffer
// for oto's Read callback to drain. It returns immediately once the
// buffer has accepted what it can hold; frames beyond the ring's free room
// are dropped, and Write does not report how many were accepted.
func (d *Driver) Write(interleaved []float32, nFrames int) error {
	deinterleaved := [][]float32{make([]float32, nFrames), make([]float32, nFrames)}
	for f := 0; f < nFrames; f++ {
		deinterleaved[0][f] = interleaved[f*2]
		deinterleaved[1][f] = interleaved[f*2+1]
	}
	d.buf.Write(nFrames, deinterleaved)
	return nil
}

// Read implements io.Reader for oto's own pull-based callback. Missing
// frames are filled with silence rather than blocking oto's goroutine, the
// same underrun behavior the teacher's OtoPlayer.Read falls back to when
// its chip pointer is nil.
func (d *Driver) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	nFrames := len(p) / 4 / channels
	if nFrames == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	out := [][]float32{make([]float32, nFrames), make([]float32, nFrames)}
	got := d.buf.Read(nFrames, out)
	for ch := range out {
		for f := got; f < nFrames; f++ {
			out[ch][f] = 0
		}
	}

	interleaved := make([]float32, nFrames*channels)
	for f := 0; f < nFrames; f++ {
		interleaved[f*2] = out[0][f]
		interleaved[f*2+1] = out[1][f]
	}
	copy(p, (*[1 << 30]byte)(unsafe.Pointer(&interleaved[0]))[:len(p)])
	return len(p), nil
}

// ReadCapture never produces input: oto is a playback-only pull-based
// context with no microphone/line-in path wired here.
func (d *Driver) ReadCapture(interleaved []float32, nFrames int) (int, error) { return 0, nil }

// Latency approximates pcm_latency as the number of frames already
// written but not yet drained by oto's Read callback.
func (d *Driver) Latency() int { return d.buf.Readable() }

func (d *Driver) Frequency() uint32 { return d.sampleRate }

func (d *Driver) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.player.Close()
	}
	return nil
}
