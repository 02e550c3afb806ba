package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a scripted audio source for testing.
//
// Each started capture replays the configured levels, one chunk per level,
// where a chunk of level v has Level(chunk) == v. After the script it emits
// silence, or io.EOF when WithEndOfScript is set.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	levels   []float64
	interval time.Duration
	eof      bool

	mu      sync.Mutex
	running bool
	closed  bool
	chunks  chan AudioChunk
	stopCh  chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	starts      atomic.Int64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithLevels scripts the normalized level of successive chunks.
func WithLevels(levels ...float64) MockSourceOption {
	return func(m *MockSource) {
		m.levels = append([]float64(nil), levels...)
	}
}

// WithInterval sets how often a chunk is produced. Zero produces chunks as
// fast as they are read. Default: the configured buffer duration.
func WithInterval(d time.Duration) MockSourceOption {
	return func(m *MockSource) {
		m.interval = d
	}
}

// WithEndOfScript makes Read return io.EOF once the levels are used up.
func WithEndOfScript() MockSourceOption {
	return func(m *MockSource) {
		m.eof = true
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:      cfg,
		logger:   logger,
		interval: cfg.BufferDuration,
		chunks:   closedChunks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins replaying the script from the first level.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.chunks = make(chan AudioChunk)
	m.starts.Add(1)

	go m.generateLoop(ctx, m.chunks, m.stopCh)
	m.logger.Debug("mock audio source started", "levels", len(m.levels))
	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, out chan<- AudioChunk, stop <-chan struct{}) {
	defer close(out)

	var tick <-chan time.Time
	if m.interval > 0 {
		t := time.NewTicker(m.interval)
		defer t.Stop()
		tick = t.C
	}

	for i := 0; ; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-tick:
			}
		}

		level := 0.0
		if i < len(m.levels) {
			level = m.levels[i]
		} else if m.eof {
			return
		}

		chunk := m.chunk(level)
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case out <- chunk:
			m.chunksRead.Add(1)
			m.samplesRead.Add(int64(len(chunk.Samples)))
		}
	}
}

// chunk builds a square wave whose mean absolute amplitude maps to level.
func (m *MockSource) chunk(level float64) AudioChunk {
	n := m.cfg.BufferSize() * m.cfg.Channels
	samples := make([]int16, n)
	amp := int16(math.Round(math.Min(level, 1) / levelGain * 32768))
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}
	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.logger.Debug("mock audio source stopped")
	return nil
}

// Read returns the next scripted chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	ch := m.chunks
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return "mock" }

// Close stops the source permanently.
func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// IsRunning reports whether the source is capturing.
func (m *MockSource) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Starts:      m.starts.Load(),
		Running:     m.IsRunning(),
		Backend:     "mock",
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink records written audio for inspection.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	played  []int16
	pending []int16

	// WriteErr, when set, is returned by every Write.
	WriteErr error

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Write queues a chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.pending = append(m.pending, chunk.Samples...)
	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush moves queued samples to the played buffer.
func (m *MockSink) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, m.pending...)
	m.pending = nil
	return nil
}

// Clear discards queued samples.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.clears.Add(1)
	return nil
}

// Played returns every sample that was flushed.
func (m *MockSink) Played() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.played...)
}

func (m *MockSink) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSink) Name() string { return "mock" }

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.running = false
	m.mu.Unlock()
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return SinkStats{
		ChunksWritten:  m.chunksWritten.Load(),
		SamplesWritten: m.samplesWritten.Load(),
		Clears:         m.clears.Load(),
		Running:        running,
		Backend:        "mock",
	}
}

var _ SinkWithStats = (*MockSink)(nil)
