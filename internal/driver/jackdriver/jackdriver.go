// Package jackdriver drives an out-of-process JACK audio server via
// github.com/xthexder/go-jack, the library used for the same purpose in
// the pack's fox-audio JACK client. JACK calls back on its own real-time
// thread; two ring.FrameRingBuffer instances (one per direction) bridge
// that foreign callback to the engine's render thread without locking.
package jackdriver

import (
	"fmt"
	"sync/atomic"

	jack "github.com/xthexder/go-jack"
	"golang.org/x/sys/unix"

	"github.com/ritschwumm/anklang/internal/driver"
	"github.com/ritschwumm/anklang/internal/ring"
)

// closePollInterval is how long Close() sleeps between checks that the JACK
// callback thread is not mid-cycle, via a real nanosecond-resolution sleep
// rather than time.Sleep's millisecond-rounded one -- the callback thread
// runs a hard real-time cycle typically well under a millisecond.
var closePollInterval = unix.Timespec{Sec: 0, Nsec: 200_000}

// closePollAttempts bounds how long Close() waits for an in-flight process
// callback to finish before closing the client out from under it; past this
// it proceeds anyway rather than hanging shutdown indefinitely.
const closePollAttempts = 50

// Driver is a driver.PcmDriver backed by a JACK client with one stereo
// output port pair and one stereo input port pair (§4.6: "JACK-style
// driver uses two such rings"). Xruns reported by the server are counted
// rather than logged on the callback thread, matching the teacher's
// pack-sourced jackXrun handler's non-blocking style.
type Driver struct {
	deviceID string
	client   *jack.Client
	outL     *jack.Port
	outR     *jack.Port
	inL      *jack.Port
	inR      *jack.Port
	out      *ring.FrameRingBuffer[float32]
	in       *ring.FrameRingBuffer[float32]
	xruns    atomic.Uint64
	closed   atomic.Bool
	inCycle  atomic.Bool
}

// Open registers a new JACK client named deviceID (or "anklang" if empty)
// with one stereo output port pair, one stereo input port pair, and
// activates it immediately; JACK itself determines the sample rate, which
// the caller must reconcile with the engine's fixed 48kHz elsewhere (§1
// Non-goals: no resampling here).
func Open(deviceID string, ringFrames int) (*Driver, error) {
	if deviceID == "" {
		deviceID = "anklang"
	}
	client, status := jack.ClientOpen(deviceID, jack.NoStartServer)
	if status != 0 {
		return nil, fmt.Errorf("jackdriver: client open failed: status %d", status)
	}

	d := &Driver{
		deviceID: deviceID,
		client:   client,
		out:      ring.New[float32](ringFrames, 2),
		in:       ring.New[float32](ringFrames, 2),
	}

	d.outL = client.PortRegister("out_l", jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
	d.outR = client.PortRegister("out_r", jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
	d.inL = client.PortRegister("in_l", jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
	d.inR = client.PortRegister("in_r", jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)

	client.SetProcessCallback(d.process)
	client.SetXRunCallback(d.xrun)
	client.SetShutdownCallback(d.shutdown)

	if code := client.Activate(); code != 0 {
		client.Close()
		return nil, fmt.Errorf("jackdriver: activate failed: code %d", code)
	}
	return d, nil
}

func OpenBackend(reg *driver.Registry, priority int) {
	reg.RegisterPcm("jack", priority, func(deviceID string, sampleRate uint32, ch int) (driver.PcmDriver, error) {
		return Open(deviceID, 8192)
	})
}

func (d *Driver) DeviceID() string { return d.deviceID }

// Write enqueues nFrames of interleaved stereo samples for the JACK
// process callback to drain on its next cycle.
func (d *Driver) Write(interleaved []float32, nFrames int) error {
	deinterleaved := [][]float32{make([]float32, nFrames), make([]float32, nFrames)}
	for f := 0; f < nFrames; f++ {
		deinterleaved[0][f] = interleaved[f*2]
		deinterleaved[1][f] = interleaved[f*2+1]
	}
	d.out.Write(nFrames, deinterleaved)
	return nil
}

// Xruns reports the number of buffer underruns the server has signaled
// since Open.
func (d *Driver) Xruns() uint64 { return d.xruns.Load() }

func (d *Driver) process(nFrames uint32) int {
	d.inCycle.Store(true)
	defer d.inCycle.Store(false)

	n := int(nFrames)
	bufs := [][]float32{make([]float32, n), make([]float32, n)}
	got := d.out.Read(n, bufs)
	for ch := range bufs {
		for f := got; f < n; f++ {
			bufs[ch][f] = 0
		}
	}
	left := d.outL.GetBuffer(nFrames)
	right := d.outR.GetBuffer(nFrames)
	for f := 0; f < n; f++ {
		left[f] = jack.AudioSample(bufs[0][f])
		right[f] = jack.AudioSample(bufs[1][f])
	}

	inLeft := d.inL.GetBuffer(nFrames)
	inRight := d.inR.GetBuffer(nFrames)
	captured := [][]float32{make([]float32, n), make([]float32, n)}
	for f := 0; f < n; f++ {
		captured[0][f] = float32(inLeft[f])
		captured[1][f] = float32(inRight[f])
	}
	d.in.Write(n, captured)

	return 0
}

func (d *Driver) xrun() int {
	d.xruns.Add(1)
	return 0
}

func (d *Driver) shutdown() {
	d.closed.Store(true)
}

// ReadCapture drains up to nFrames of captured stereo input from the ring
// the process callback fills each cycle (pcm_read, §4.7), interleaving it
// back into interleaved. It returns the number of frames actually filled.
func (d *Driver) ReadCapture(interleaved []float32, nFrames int) (int, error) {
	bufs := [][]float32{make([]float32, nFrames), make([]float32, nFrames)}
	got := d.in.Read(nFrames, bufs)
	for f := 0; f < got; f++ {
		interleaved[f*2] = bufs[0][f]
		interleaved[f*2+1] = bufs[1][f]
	}
	return got, nil
}

// Latency approximates pcm_latency as the number of output frames already
// queued but not yet drained by the process callback.
func (d *Driver) Latency() int { return d.out.Readable() }

// Frequency reports the sample rate JACK's server is actually running at,
// which may differ from the rate the engine requested (§4.7: pcm_frequency
// is a query, not a negotiation).
func (d *Driver) Frequency() uint32 { return uint32(d.client.GetSampleRate()) }

// Close tears the client down, first giving an in-flight process callback a
// bounded chance to finish its cycle so the server doesn't observe ports
// vanishing mid-callback. The wait uses unix.Nanosleep directly rather than
// time.Sleep so the poll granularity matches the callback's own real-time
// cycle instead of the Go runtime timer's coarser resolution.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	for i := 0; i < closePollAttempts && d.inCycle.Load(); i++ {
		rem := closePollInterval
		for unix.Nanosleep(&rem, &rem) == unix.EINTR {
		}
	}
	return d.client.Close()
}
