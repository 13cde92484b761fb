// Package driver defines the PCM and MIDI device abstractions the engine
// hot-swaps at runtime, plus a priority-ordered registry concrete backends
// are registered into through their OpenBackend functions. Device selection is driven by a
// string preference (e.g. "auto", "alsa", "oto", "null") resolved against
// this registry; "auto" picks the highest-priority entry that opens
// successfully.
package driver

import (
	"fmt"
	"sort"
)

// PcmDriver is an open audio output device. Write hands the given
// interleaved stereo frames to the device: alsadriver blocks until ALSA has
// accepted them, the ring-backed otodriver and jackdriver return at once and
// drop whatever does not fit in their ring, and the null driver discards
// them.
// Close releases any OS resources; it must not be called from the render
// callback itself.
type PcmDriver interface {
	DeviceID() string
	Write(interleaved []float32, nFrames int) error

	// ReadCapture fills interleaved with up to nFrames of captured input
	// samples (pcm_read, §4.7) and returns how many frames were actually
	// filled. A driver with no input capture path (every backend here
	// except the JACK case, which has a real input ring) returns (0, nil).
	ReadCapture(interleaved []float32, nFrames int) (int, error)

	// Latency reports the driver's approximate output latency in frames
	// (pcm_latency, §4.7).
	Latency() int

	// Frequency reports the sample rate the driver is actually running
	// at (pcm_frequency, §4.7); this can differ from the requested rate
	// for a server-negotiated backend like JACK.
	Frequency() uint32

	Close() error
}

// MidiEvent is one raw MIDI message fetched from a driver, timestamped in
// frames relative to the start of the block it was fetched for.
type MidiEvent struct {
	FrameOffset int
	Data        []byte
}

// MidiDriver is an open MIDI input device. Slots (up to 4, per §4.7) hold
// drivers keyed by device ID so a preference change that names the same
// device already open is a no-op swap.
type MidiDriver interface {
	DeviceID() string
	// FetchEvents appends every event received since the last call onto
	// events and returns the extended slice, timestamping each against
	// sampleRate.
	FetchEvents(events []MidiEvent, sampleRate uint32) []MidiEvent
	Close() error
}

// PcmOpener constructs a PcmDriver for the given device ID at the fixed
// engine sample rate, or returns an error if the device cannot be opened.
type PcmOpener func(deviceID string, sampleRate uint32, channels int) (PcmDriver, error)

// MidiOpener constructs a MidiDriver for the given device ID.
type MidiOpener func(deviceID string) (MidiDriver, error)

type pcmEntry struct {
	name     string
	priority int
	open     PcmOpener
}

type midiEntry struct {
	name     string
	priority int
	open     MidiOpener
}

// Registry holds every backend a build was compiled with, ordered by
// priority for "auto" resolution. Backends are added by explicit
// RegisterPcm/RegisterMidi calls (each backend package's OpenBackend does
// this); the engine takes one Registry for PCM and one for MIDI. The
// priorities mirror the teacher's fixed backend order (software > ALSA >
// headless).
type Registry struct {
	pcm  []pcmEntry
	midi []midiEntry
}

func NewRegistry() *Registry { return &Registry{} }

// RegisterPcm adds a PCM backend under name at the given priority; higher
// priority wins when resolving "auto". Name "null" is reserved for the
// always-available fallback and should be registered at the lowest
// priority.
func (r *Registry) RegisterPcm(name string, priority int, open PcmOpener) {
	r.pcm = append(r.pcm, pcmEntry{name: name, priority: priority, open: open})
	sort.SliceStable(r.pcm, func(i, j int) bool { return r.pcm[i].priority > r.pcm[j].priority })
}

// RegisterMidi adds a MIDI backend under name at the given priority.
func (r *Registry) RegisterMidi(name string, priority int, open MidiOpener) {
	r.midi = append(r.midi, midiEntry{name: name, priority: priority, open: open})
	sort.SliceStable(r.midi, func(i, j int) bool { return r.midi[i].priority > r.midi[j].priority })
}

// OpenPcm resolves preference against the registry: "auto" tries every
// backend in priority order and returns the first that opens
// successfully; any other value is looked up by exact name.
func (r *Registry) OpenPcm(preference, deviceID string, sampleRate uint32, channels int) (PcmDriver, error) {
	if preference == "auto" || preference == "" {
		var lastErr error
		for _, e := range r.pcm {
			d, err := e.open(deviceID, sampleRate, channels)
			if err == nil {
				return d, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("driver: no pcm backends registered")
		}
		return nil, lastErr
	}
	for _, e := range r.pcm {
		if e.name == preference {
			return e.open(deviceID, sampleRate, channels)
		}
	}
	return nil, fmt.Errorf("driver: unknown pcm backend %q", preference)
}

// OpenMidi resolves a MIDI preference the same way OpenPcm does.
func (r *Registry) OpenMidi(preference, deviceID string) (MidiDriver, error) {
	if preference == "auto" || preference == "" {
		var lastErr error
		for _, e := range r.midi {
			d, err := e.open(deviceID)
			if err == nil {
				return d, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("driver: no midi backends registered")
		}
		return nil, lastErr
	}
	for _, e := range r.midi {
		if e.name == preference {
			return e.open(deviceID)
		}
	}
	return nil, fmt.Errorf("driver: unknown midi backend %q", preference)
}
