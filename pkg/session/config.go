package session

import (
	"errors"
	"log/slog"
	"time"
)

// Default timings for the listen/respond loop.
const (
	DefaultOpenDelay          = time.Second
	DefaultMutedResume        = 3 * time.Second
	DefaultErrorResume        = 2 * time.Second
	DefaultPlaybackResume     = 500 * time.Millisecond
	DefaultPlaybackRetries    = 3
	DefaultPlaybackRetryDelay = time.Second
)

// Config holds session timings.
type Config struct {
	// OpenDelay is the wait between Open and the first listen.
	OpenDelay time.Duration

	// MutedResume is how long a muted reply stays on screen before listening resumes.
	MutedResume time.Duration

	// ErrorResume is the wait before listening resumes after a failed turn.
	ErrorResume time.Duration

	// PlaybackResume is the wait before listening resumes after playback ends.
	PlaybackResume time.Duration

	// PlaybackRetries is the number of retries after a failed first playback.
	PlaybackRetries    int
	PlaybackRetryDelay time.Duration

	Metrics *MetricsCollector
	Logger  *slog.Logger
}

// DefaultConfig returns the default session settings.
func DefaultConfig() *Config {
	return &Config{
		OpenDelay:          DefaultOpenDelay,
		MutedResume:        DefaultMutedResume,
		ErrorResume:        DefaultErrorResume,
		PlaybackResume:     DefaultPlaybackResume,
		PlaybackRetries:    DefaultPlaybackRetries,
		PlaybackRetryDelay: DefaultPlaybackRetryDelay,
	}
}

// Option configures a session.
type Option func(*Config)

// WithOpenDelay sets the delay before the first listen.
func WithOpenDelay(d time.Duration) Option {
	return func(c *Config) { c.OpenDelay = d }
}

// WithResumeDelays sets when listening resumes after a muted reply, a failed
// turn and finished playback.
func WithResumeDelays(muted, failed, played time.Duration) Option {
	return func(c *Config) {
		c.MutedResume = muted
		c.ErrorResume = failed
		c.PlaybackResume = played
	}
}

// WithPlaybackRetry sets the playback retry budget.
func WithPlaybackRetry(retries int, delay time.Duration) Option {
	return func(c *Config) {
		c.PlaybackRetries = retries
		c.PlaybackRetryDelay = delay
	}
}

// WithMetrics sets the latency collector.
func WithMetrics(m *MetricsCollector) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.OpenDelay < 0 || c.MutedResume < 0 || c.ErrorResume < 0 || c.PlaybackResume < 0 {
		return errors.New("session: delays must not be negative")
	}
	if c.PlaybackRetries < 0 {
		return errors.New("session: playback retries must not be negative")
	}
	return nil
}
