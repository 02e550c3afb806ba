package recorder

import (
	"errors"
	"log/slog"
	"time"
)

// Defaults match the browser recorder's tuning.
const (
	DefaultSilenceThreshold = 0.05
	DefaultSilenceFrames    = 5
	DefaultMaxDuration      = 10 * time.Second
	DefaultMinBytes         = 500
	DefaultRestartDelay     = time.Second
	DefaultUploadTimeout    = 30 * time.Second
)

// Config holds recorder settings.
type Config struct {
	// SilenceThreshold is the normalized level below which a frame counts as silent.
	SilenceThreshold float64

	// SilenceFrames consecutive silent frames end a recording.
	SilenceFrames int

	// MaxDuration ends a recording regardless of level.
	MaxDuration time.Duration

	// MinBytes is the smallest encoded recording worth uploading.
	MinBytes int

	// Continuous restarts listening after each recording.
	Continuous bool

	// RestartDelay is the wait before a continuous-mode restart.
	RestartDelay time.Duration

	// UploadTimeout bounds one recognition attempt.
	UploadTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default recorder settings.
func DefaultConfig() *Config {
	return &Config{
		SilenceThreshold: DefaultSilenceThreshold,
		SilenceFrames:    DefaultSilenceFrames,
		MaxDuration:      DefaultMaxDuration,
		MinBytes:         DefaultMinBytes,
		RestartDelay:     DefaultRestartDelay,
		UploadTimeout:    DefaultUploadTimeout,
	}
}

// Option configures the recorder.
type Option func(*Config)

// WithContinuous enables automatic restarts.
func WithContinuous(on bool) Option {
	return func(c *Config) { c.Continuous = on }
}

// WithSilence sets the silence threshold and frame count.
func WithSilence(threshold float64, frames int) Option {
	return func(c *Config) {
		c.SilenceThreshold = threshold
		c.SilenceFrames = frames
	}
}

// WithMaxDuration sets the hard recording limit.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Config) { c.MaxDuration = d }
}

// WithMinBytes sets the smallest recording that is uploaded.
func WithMinBytes(n int) Option {
	return func(c *Config) { c.MinBytes = n }
}

// WithRestartDelay sets the continuous-mode restart delay.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Config) { c.RestartDelay = d }
}

// WithUploadTimeout bounds each recognition attempt.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Config) { c.UploadTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SilenceThreshold <= 0 || c.SilenceThreshold >= 1 {
		return errors.New("recorder: silence threshold must be in (0, 1)")
	}
	if c.SilenceFrames <= 0 {
		return errors.New("recorder: silence frames must be positive")
	}
	if c.MaxDuration <= 0 {
		return errors.New("recorder: max duration must be positive")
	}
	if c.UploadTimeout <= 0 {
		return errors.New("recorder: upload timeout must be positive")
	}
	return nil
}
