// Package audio decodes synthesized speech and plays it to a speaker.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/maddoxdev/askmaddox/pkg/audioio"
)

// ErrInvalidMP3 is returned for data that does not start a decodable MP3 stream.
var ErrInvalidMP3 = errors.New("audio: invalid mp3")

// Clip is decoded mono PCM16 audio.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Validate checks that data parses as MP3, the way a browser confirms it can
// play a file before playback starts.
func Validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidMP3)
	}
	if _, err := mp3.NewDecoder(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMP3, err)
	}
	return nil
}

// Decode decodes MP3 data to mono PCM16.
func Decode(data []byte) (*Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMP3, err)
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always produces interleaved stereo.
	stereo := audioio.BytesToSamples(raw.Bytes())
	return &Clip{
		Samples:    audioio.StereoToMono(stereo),
		SampleRate: dec.SampleRate(),
	}, nil
}

// SilentMP3 returns frames MPEG-1 Layer III frames of silence
// (128 kbps, 44.1 kHz), about 26ms each.
func SilentMP3(frames int) []byte {
	const frameSize = 144 * 128000 / 44100
	out := make([]byte, 0, frames*frameSize)
	for i := 0; i < frames; i++ {
		frame := make([]byte, frameSize)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})
		out = append(out, frame...)
	}
	return out
}
