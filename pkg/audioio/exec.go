package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ExecSource captures audio by reading raw PCM16 from a recording program.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger
	name   string
	args   []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	chunks  chan AudioChunk
	running bool
	closed  bool

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	starts      atomic.Int64
}

// NewExecSource creates a source backed by arecord (Linux) or sox rec (macOS).
func NewExecSource(cfg Config, logger *slog.Logger) (*ExecSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name, args := captureCommand(cfg)
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("capture program %q not found: %w", name, err)
	}
	return &ExecSource{
		cfg:    cfg,
		logger: logger.With("component", "audioio", "backend", "exec"),
		name:   name,
		args:   args,
		chunks: closedChunks(),
	}, nil
}

func closedChunks() chan AudioChunk {
	ch := make(chan AudioChunk)
	close(ch)
	return ch
}

// Start launches the recording program.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.Command(s.name, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.name, err)
	}

	s.cmd = cmd
	s.running = true
	s.chunks = make(chan AudioChunk, 16)
	s.starts.Add(1)
	go s.readLoop(stdout, s.chunks)

	s.logger.Debug("capture started", "program", s.name, "pid", cmd.Process.Pid)
	return nil
}

func (s *ExecSource) readLoop(r io.Reader, out chan<- AudioChunk) {
	defer close(out)
	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("capture read ended", "error", err)
			}
			return
		}
		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		s.chunksRead.Add(1)
		s.samplesRead.Add(int64(len(chunk.Samples)))
		out <- chunk
	}
}

// Stop kills the recording program. Pending chunks are discarded.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil

	// Unblock the reader if it is waiting on a full channel.
	for range s.chunks {
	}
	s.logger.Debug("capture stopped")
	return nil
}

// Read returns the next captured chunk.
func (s *ExecSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.chunks
	s.mu.Unlock()

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

func (s *ExecSource) Config() Config { return s.cfg }

func (s *ExecSource) Name() string { return "exec:" + s.name }

// Close stops capture permanently.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns capture counters.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Starts:      s.starts.Load(),
		Running:     running,
		Backend:     s.Name(),
	}
}

var _ SourceWithStats = (*ExecSource)(nil)

// ExecSink plays audio by piping raw PCM16 into a playback program.
// The program is started on the first Write and exits after Flush.
type ExecSink struct {
	cfg    Config
	logger *slog.Logger
	name   string
	args   []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	closed  bool

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
}

// NewExecSink creates a sink backed by aplay (Linux) or sox play (macOS).
func NewExecSink(cfg Config, logger *slog.Logger) (*ExecSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name, args := playbackCommand(cfg)
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("playback program %q not found: %w", name, err)
	}
	return &ExecSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio", "backend", "exec"),
		name:   name,
		args:   args,
	}, nil
}

// Start marks the sink ready. The program itself starts lazily.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.started = true
	return nil
}

func (s *ExecSink) ensureRunningLocked() error {
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(s.name, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.name, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// Write sends a chunk to the playback program.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.started {
		return io.ErrClosedPipe
	}
	if err := s.ensureRunningLocked(); err != nil {
		return err
	}
	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		s.killLocked()
		return fmt.Errorf("write to %s: %w", s.name, err)
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush closes the program's input and waits for it to finish playing.
func (s *ExecSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	_ = stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s exited: %w", s.name, err)
		}
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

// Clear kills the playback program, dropping anything queued.
func (s *ExecSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	s.clears.Add(1)
	return nil
}

func (s *ExecSink) killLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
}

// Stop halts playback.
func (s *ExecSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	s.started = false
	return nil
}

func (s *ExecSink) Config() Config { return s.cfg }

func (s *ExecSink) Name() string { return "exec:" + s.name }

// Close stops playback permanently.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns playback counters.
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.cmd != nil
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Clears:         s.clears.Load(),
		Running:        running,
		Backend:        s.Name(),
	}
}

var _ SinkWithStats = (*ExecSink)(nil)
