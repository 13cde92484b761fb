//go:build linux

// Package alsamidi is the Linux MIDI input backend via ALSA's rawmidi
// API, the same libasound dependency alsadriver uses for PCM output
// (grounded on the teacher's audio_backend_alsa.go cgo style), applied
// here to raw MIDI byte capture instead of PCM frames.
package alsamidi

/*
#cgo LDFLAGS: -lasound
#include <alsa/asoundlib.h>
#include <stdlib.h>

static snd_rawmidi_t* openRawMidi(const char* device, int* err) {
    snd_rawmidi_t* handle;
    *err = snd_rawmidi_open(&handle, NULL, device, SND_RAWMIDI_NONBLOCK);
    return handle;
}

static int readRawMidi(snd_rawmidi_t* handle, unsigned char* buf, int n) {
    return snd_rawmidi_read(handle, buf, n);
}

static void closeRawMidi(snd_rawmidi_t* handle) {
    if (handle != NULL) {
        snd_rawmidi_close(handle);
    }
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/ritschwumm/anklang/internal/driver"
)

// Driver wraps one open ALSA rawmidi input handle in non-blocking mode so
// FetchEvents never stalls the audio thread.
type Driver struct {
	deviceID string
	handle   *C.snd_rawmidi_t
}

func Open(deviceID string) (*Driver, error) {
	if deviceID == "" {
		deviceID = "default"
	}
	cDevice := C.CString(deviceID)
	defer C.free(unsafe.Pointer(cDevice))

	var cerr C.int
	handle := C.openRawMidi(cDevice, &cerr)
	if cerr < 0 {
		return nil, fmt.Errorf("alsamidi: open %s: %s", deviceID, C.GoString(C.snd_strerror(cerr)))
	}
	return &Driver{deviceID: deviceID, handle: handle}, nil
}

func OpenBackend(reg *driver.Registry, priority int) {
	reg.RegisterMidi("alsa", priority, func(deviceID string) (driver.MidiDriver, error) {
		return Open(deviceID)
	})
}

func (d *Driver) DeviceID() string { return d.deviceID }

// FetchEvents drains whatever bytes ALSA currently has buffered, non-
// blocking (up to 256 bytes per call), and appends them as a single
// MidiEvent with FrameOffset 0; the bytes are not split into individual
// MIDI messages, and no per-message timestamp is derived.
func (d *Driver) FetchEvents(events []driver.MidiEvent, sampleRate uint32) []driver.MidiEvent {
	var buf [256]byte
	n := C.readRawMidi(d.handle, (*C.uchar)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
	if n <= 0 {
		return events
	}
	data := make([]byte, int(n))
	copy(data, buf[:n])
	return append(events, driver.MidiEvent{FrameOffset: 0, Data: data})
}

func (d *Driver) Close() error {
	if d.handle != nil {
		C.closeRawMidi(d.handle)
		d.handle = nil
	}
	return nil
}
