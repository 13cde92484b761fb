// Package nulldriver is the always-available PCM fallback: it accepts and
// discards every frame written to it. Grounded on the teacher's
// audio_backend_headless.go stub, which the headless build tag swaps in
// in place of a real output backend for the same reason -- a build or
// environment with no usable audio device still needs a driver that
// satisfies the interface.
package nulldriver

import "github.com/ritschwumm/anklang/internal/driver"

// Driver discards everything written to it and never errors, so it is
// always a valid "auto" resolution fallback at the lowest priority.
type Driver struct {
	deviceID   string
	sampleRate uint32
}

func Open(deviceID string, sampleRate uint32) *Driver {
	return &Driver{deviceID: deviceID, sampleRate: sampleRate}
}

// OpenBackend registers nulldriver at priority 0, the resolution floor for
// driver.Registry.OpenPcm("auto", ...).
func OpenBackend(reg *driver.Registry) {
	reg.RegisterPcm("null", 0, func(deviceID string, sampleRate uint32, channels int) (driver.PcmDriver, error) {
		return Open(deviceID, sampleRate), nil
	})
}

func (d *Driver) DeviceID() string { return d.deviceID }

func (d *Driver) Write(interleaved []float32, nFrames int) error { return nil }

// ReadCapture never produces input: the null driver has no device of any
// kind behind it.
func (d *Driver) ReadCapture(interleaved []float32, nFrames int) (int, error) { return 0, nil }

// Latency is always zero: frames are dropped immediately, never buffered.
func (d *Driver) Latency() int { return 0 }

func (d *Driver) Frequency() uint32 { return d.sampleRate }

func (d *Driver) Close() error { return nil }

// MidiDriver is the always-available MIDI fallback for an unused slot
// ("null" per audio.midi_driver_{1..4}): FetchEvents never produces
// events.
type MidiDriver struct {
	deviceID string
}

func OpenMidi(deviceID string) *MidiDriver {
	return &MidiDriver{deviceID: deviceID}
}

// OpenMidiBackend registers nulldriver's MIDI fallback at priority 0.
func OpenMidiBackend(reg *driver.Registry) {
	reg.RegisterMidi("null", 0, func(deviceID string) (driver.MidiDriver, error) {
		return OpenMidi(deviceID), nil
	})
}

func (m *MidiDriver) DeviceID() string { return m.deviceID }

func (m *MidiDriver) FetchEvents(events []driver.MidiEvent, sampleRate uint32) []driver.MidiEvent {
	return events
}

func (m *MidiDriver) Close() error { return nil }
