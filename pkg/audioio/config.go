// Package audioio provides microphone capture and speaker playback for the
// terminal client.
//
// Backends:
//   - exec: pipes raw PCM16 through arecord/aplay on Linux or sox rec/play on macOS
//   - mock: scripted levels for tests and machines without audio hardware
//
// The backend is chosen from what is installed, or set explicitly via Config.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto picks exec when a capture tool is installed, mock otherwise.
	BackendAuto Backend = "auto"
	// BackendExec runs an external capture or playback program.
	BackendExec Backend = "exec"
	// BackendMock uses an in-process implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000, the rate recordings are uploaded at.
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `json:"channels"`

	// BufferDuration is the length of one chunk, which is also one
	// analysis frame for silence detection.
	// Default: 100ms
	BufferDuration time.Duration `json:"buffer_duration"`

	// Device is passed to the capture or playback program when set,
	// e.g. "plughw:1,0" for arecord.
	Device string `json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 100 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per chunk.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a chunk in bytes (int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
