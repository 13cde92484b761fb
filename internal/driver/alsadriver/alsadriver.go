//go:build linux

// Package alsadriver is the Linux native PCM output backend via ALSA's
// libasound, cgo-bound directly rather than through a higher-level Go
// wrapper. Grounded on the teacher's audio_backend_alsa.go ALSAPlayer,
// adapted here from its mono fixed-rate setup to the engine's fixed
// 48kHz stereo-interleaved output and the driver.PcmDriver contract.
package alsadriver

/*
#cgo LDFLAGS: -lasound
#include <alsa/asoundlib.h>
#include <stdlib.h>

static snd_pcm_t* openPCM(const char* device, int* err) {
    snd_pcm_t* handle;
    *err = snd_pcm_open(&handle, device, SND_PCM_STREAM_PLAYBACK, 0);
    return handle;
}

static int setupPCM(snd_pcm_t* handle, unsigned int rate, unsigned int channels) {
    snd_pcm_hw_params_t* params;
    int err;

    snd_pcm_hw_params_alloca(&params);
    err = snd_pcm_hw_params_any(handle, params);
    if (err < 0) return err;

    err = snd_pcm_hw_params_set_access(handle, params, SND_PCM_ACCESS_RW_INTERLEAVED);
    if (err < 0) return err;

    err = snd_pcm_hw_params_set_format(handle, params, SND_PCM_FORMAT_FLOAT);
    if (err < 0) return err;

    err = snd_pcm_hw_params_set_channels(handle, params, channels);
    if (err < 0) return err;

    err = snd_pcm_hw_params_set_rate(handle, params, rate, 0);
    if (err < 0) return err;

    err = snd_pcm_hw_params(handle, params);
    if (err < 0) return err;

    return snd_pcm_prepare(handle);
}

static int writePCM(snd_pcm_t* handle, float* buffer, int frames) {
    return snd_pcm_writei(handle, buffer, frames);
}

static void closePCM(snd_pcm_t* handle) {
    if (handle != NULL) {
        snd_pcm_drain(handle);
        snd_pcm_close(handle);
    }
}

static long latencyFrames(snd_pcm_t* handle) {
    snd_pcm_sframes_t delay = 0;
    if (snd_pcm_delay(handle, &delay) < 0) {
        return 0;
    }
    return (long)delay;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ritschwumm/anklang/internal/driver"
)

const channels = 2

// Driver wraps one open ALSA PCM handle. Write is synchronous and may
// block inside snd_pcm_writei; the engine's dispatcher goroutine calls it
// between renders.
type Driver struct {
	deviceID   string
	sampleRate uint32
	handle     *C.snd_pcm_t
	mutex      sync.Mutex
}

func Open(deviceID string, sampleRate uint32) (*Driver, error) {
	if deviceID == "" {
		deviceID = "default"
	}
	cDevice := C.CString(deviceID)
	defer C.free(unsafe.Pointer(cDevice))

	var cerr C.int
	handle := C.openPCM(cDevice, &cerr)
	if cerr < 0 {
		return nil, fmt.Errorf("alsadriver: open %s: %s", deviceID, C.GoString(C.snd_strerror(cerr)))
	}

	if err := C.setupPCM(handle, C.uint(sampleRate), C.uint(channels)); err < 0 {
		C.closePCM(handle)
		return nil, fmt.Errorf("alsadriver: setup: %s", C.GoString(C.snd_strerror(err)))
	}

	return &Driver{deviceID: deviceID, sampleRate: sampleRate, handle: handle}, nil
}

// OpenBackend registers alsadriver at a priority above the null fallback
// but below a software mixer backend, matching the teacher's preference
// for a real device when one is available.
func OpenBackend(reg *driver.Registry, priority int) {
	reg.RegisterPcm("alsa", priority, func(deviceID string, sampleRate uint32, ch int) (driver.PcmDriver, error) {
		return Open(deviceID, sampleRate)
	})
}

func (d *Driver) DeviceID() string { return d.deviceID }

// Write blocks until ALSA has accepted nFrames interleaved stereo frames,
// retrying once on an EPIPE (buffer underrun) exactly as the teacher's
// ALSAPlayer.Write does.
func (d *Driver) Write(interleaved []float32, nFrames int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.handle == nil {
		return fmt.Errorf("alsadriver: write after close")
	}

	frames := C.writePCM(d.handle, (*C.float)(unsafe.Pointer(&interleaved[0])), C.int(nFrames))
	if frames < 0 {
		if frames == -C.EPIPE {
			C.snd_pcm_prepare(d.handle)
			frames = C.writePCM(d.handle, (*C.float)(unsafe.Pointer(&interleaved[0])), C.int(nFrames))
		}
		if frames < 0 {
			return fmt.Errorf("alsadriver: write: %s", C.GoString(C.snd_strerror(C.int(frames))))
		}
	}
	return nil
}

// ReadCapture never produces input: handle is opened with
// SND_PCM_STREAM_PLAYBACK only, no capture stream.
func (d *Driver) ReadCapture(interleaved []float32, nFrames int) (int, error) { return 0, nil }

// Latency reports ALSA's own reported output delay in frames via
// snd_pcm_delay, falling back to 0 if the handle is closed or the query
// fails.
func (d *Driver) Latency() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.handle == nil {
		return 0
	}
	return int(C.latencyFrames(d.handle))
}

func (d *Driver) Frequency() uint32 { return d.sampleRate }

func (d *Driver) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.handle != nil {
		C.closePCM(d.handle)
		d.handle = nil
	}
	return nil
}
