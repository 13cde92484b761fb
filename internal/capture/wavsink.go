package capture

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WavSink streams interleaved stereo float32 blocks into a 16-bit PCM WAV
// file via go-audio/wav's streaming Encoder, which patches the RIFF
// header's size fields on Close -- the streaming counterpart to the
// teacher pack's fixed-length WriteWAV16 (ik5-audpbx/formats/wav), needed
// here because capture length is not known up front.
type WavSink struct {
	file    *os.File
	encoder *wav.Encoder
	intBuf  *audio.IntBuffer
}

func OpenWav(filename string, sampleRate uint32) (Sink, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", filename, err)
	}

	enc := wav.NewEncoder(f, int(sampleRate), wavBitDepth, 2, 1)

	return &WavSink{
		file:    f,
		encoder: enc,
		intBuf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: 2, SampleRate: int(sampleRate)},
		},
	}, nil
}

// RegisterWav installs the WAV sink under the ".wav" suffix.
func RegisterWav(f *Factory) {
	f.Register(".wav", OpenWav)
}

func (s *WavSink) WriteBlock(interleaved []float32, nFrames int) error {
	if cap(s.intBuf.Data) < nFrames*2 {
		s.intBuf.Data = make([]int, nFrames*2)
	}
	s.intBuf.Data = s.intBuf.Data[:nFrames*2]
	for i, v := range interleaved[:nFrames*2] {
		s.intBuf.Data[i] = int(v * 32767)
	}
	return s.encoder.Write(s.intBuf)
}

func (s *WavSink) Close() error {
	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
