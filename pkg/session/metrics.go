package session

import (
	"sync"
	"time"
)

// Metrics tracks latency at each stage of one conversation turn.
// All durations are measured from the moment the transcript arrived.
type Metrics struct {
	// Timestamps for key events
	TranscriptTime time.Time // When the recognized text reached the session
	ResponseTime   time.Time // When the chat reply arrived
	AudioTime      time.Time // When a playable audio URL was ready
	DoneTime       time.Time // When playback finished or the muted reply was shown

	// Computed latencies (from transcript)
	ChatLatency      time.Duration
	SynthesisLatency time.Duration
	TotalLatency     time.Duration

	SpeechAttempts  int  // Synthesis attempts reported by the client
	PlaybackRetries int  // Playback retries after the first attempt
	Muted           bool // Reply was shown instead of played
}

// MetricsCollector collects latency metrics during a conversation turn.
// It is goroutine-safe and can be used from multiple callbacks.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics // Recent turns for averaging

	onUpdate func(Metrics)
}

const metricsHistory = 100

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, metricsHistory),
	}
}

// OnUpdate sets a callback that fires whenever a turn completes.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkTranscript starts a new turn.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{TranscriptTime: time.Now()}
}

// MarkResponse records when the chat reply arrived.
func (m *MetricsCollector) MarkResponse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ResponseTime = time.Now()
	m.current.ChatLatency = m.since(m.current.ResponseTime)
}

// MarkAudio records when synthesis produced a URL after attempts tries.
func (m *MetricsCollector) MarkAudio(attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioTime = time.Now()
	m.current.SynthesisLatency = m.since(m.current.AudioTime)
	m.current.SpeechAttempts = attempts
}

// AddPlaybackRetry counts one playback retry.
func (m *MetricsCollector) AddPlaybackRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.PlaybackRetries++
}

// MarkDone closes the turn and archives it.
func (m *MetricsCollector) MarkDone(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.DoneTime = time.Now()
	m.current.TotalLatency = m.since(m.current.DoneTime)
	m.current.Muted = muted

	m.history = append(m.history, m.current)
	if len(m.history) > metricsHistory {
		m.history = m.history[1:]
	}
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// since must be called with mutex held.
func (m *MetricsCollector) since(t time.Time) time.Duration {
	if m.current.TranscriptTime.IsZero() {
		return 0
	}
	return t.Sub(m.current.TranscriptTime)
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Turns returns the number of archived turns.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Average returns average latencies over recent turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.ChatLatency += h.ChatLatency
		avg.SynthesisLatency += h.SynthesisLatency
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.ChatLatency /= n
	avg.SynthesisLatency /= n
	avg.TotalLatency /= n

	return avg
}

// FormatLatency returns a formatted string of the turn's latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.ChatLatency) + " CHAT | " +
		formatDuration(m.SynthesisLatency) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
