package stt

import (
	"bytes"

	"github.com/go-audio/wav"
)

// WAVSampleRate returns the sample rate declared in a WAV header.
// ok is false when data is not a readable WAV file.
func WAVSampleRate(data []byte) (rate int, ok bool) {
	d := wav.NewDecoder(bytes.NewReader(data))
	d.ReadInfo()
	if d.Err() != nil || !d.IsValidFile() || d.SampleRate == 0 {
		return 0, false
	}
	return int(d.SampleRate), true
}
