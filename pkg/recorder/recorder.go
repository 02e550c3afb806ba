// Package recorder captures an utterance from a microphone, ends it on
// silence or a hard timeout, and turns it into text through a Recognizer.
//
// A Recorder moves Idle → Recording → Stopped → Transcribing → Idle. Each
// recording is stopped exactly once and uploaded at most once; the microphone
// is released on every exit path.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maddoxdev/askmaddox/pkg/audioio"
	"github.com/maddoxdev/askmaddox/pkg/retry"
)

var (
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("recorder: closed")

	// ErrTooSmall is reported when a recording is too short to upload.
	ErrTooSmall = errors.New("recorder: recording too small")

	// ErrNoSpeech is reported when recognition returned no text.
	ErrNoSpeech = errors.New("recorder: no speech detected")
)

// TranscribeError wraps the last recognizer failure for a recording.
type TranscribeError struct {
	Recognizer string
	Err        error
}

func (e *TranscribeError) Error() string {
	return "recorder: " + e.Recognizer + " transcription failed: " + e.Err.Error()
}

func (e *TranscribeError) Unwrap() error { return e.Err }

// Message returns the text shown to the user for a recorder error.
func Message(err error) string {
	var te *TranscribeError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSpeech):
		return "No speech detected. Please try speaking again."
	case errors.As(err, &te):
		return "Failed to transcribe audio: " + te.Err.Error()
	default:
		return "Failed to start recording"
	}
}

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
	StateTranscribing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateTranscribing:
		return "transcribing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopReason says why a recording ended.
type StopReason string

const (
	StopSilence StopReason = "silence"
	StopTimeout StopReason = "timeout"
	StopEnded   StopReason = "source ended"
)

// Recording is one captured utterance, WAV encoded.
type Recording struct {
	Audio      []byte
	MIMEType   string
	Filename   string
	SampleRate int
	Channels   int
	Duration   time.Duration
	Reason     StopReason
}

// Stats counts recorder activity.
type Stats struct {
	Recordings int64 `json:"recordings"`
	Stops      int64 `json:"stops"`
	Uploads    int64 `json:"uploads"`
	Fallbacks  int64 `json:"fallbacks"`
	Discarded  int64 `json:"discarded"`
}

// capture is one in-progress recording.
type capture struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Recorder drives a microphone source through the recording state machine.
type Recorder struct {
	cfg      *Config
	source   audioio.Source
	primary  Recognizer
	fallback Recognizer
	logger   *slog.Logger

	// OnTranscript receives each non-empty transcript.
	OnTranscript func(text string)
	// OnError receives recording and recognition failures.
	OnError func(err error)
	// OnState is called on every state change.
	OnState func(State)
	// OnLevel receives the normalized level of each captured frame.
	OnLevel func(level float64)

	mu           sync.Mutex
	state        State
	ctx          context.Context
	cur          *capture
	restart      *time.Timer
	paused       bool
	closed       bool
	fallbackUsed bool

	recordings atomic.Int64
	stops      atomic.Int64
	uploads    atomic.Int64
	fallbacks  atomic.Int64
	discarded  atomic.Int64
}

// New creates a recorder. fallback may be nil.
func New(source audioio.Source, primary, fallback Recognizer, opts ...Option) (*Recorder, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || primary == nil {
		return nil, errors.New("recorder: source and primary recognizer required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{
		cfg:      cfg,
		source:   source,
		primary:  primary,
		fallback: fallback,
		logger:   cfg.Logger.With("component", "recorder"),
		ctx:      context.Background(),
	}, nil
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns activity counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recordings: r.recordings.Load(),
		Stops:      r.stops.Load(),
		Uploads:    r.uploads.Load(),
		Fallbacks:  r.fallbacks.Load(),
		Discarded:  r.discarded.Load(),
	}
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.OnState != nil {
		r.OnState(s)
	}
}

// Start begins a recording. It is a no-op while a recording is in progress.
// ctx bounds this and any continuous-mode restarts.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != StateIdle {
		r.mu.Unlock()
		r.logger.Debug("already recording, ignoring start")
		return nil
	}
	r.ctx = ctx
	r.stopRestartLocked()

	if err := r.source.Start(ctx); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("start microphone: %w", err)
	}

	capCtx, cancel := context.WithCancel(ctx)
	c := &capture{cancel: cancel, done: make(chan struct{})}
	r.cur = c
	r.state = StateRecording
	r.mu.Unlock()

	r.recordings.Add(1)
	if r.OnState != nil {
		r.OnState(StateRecording)
	}
	r.logger.Debug("recording started")

	go r.run(capCtx, c)
	return nil
}

// run captures until silence, timeout or end of input, then transcribes.
func (r *Recorder) run(ctx context.Context, c *capture) {
	rec, err := r.capture(ctx)
	_ = r.source.Stop()

	var text string
	if err == nil {
		r.stops.Add(1)
		r.setState(StateStopped)
		text, err = r.transcribe(ctx, rec)
	}

	aborted := ctx.Err() != nil
	c.cancel()

	r.mu.Lock()
	if r.cur == c {
		r.cur = nil
		r.state = StateIdle
	}
	r.mu.Unlock()
	close(c.done)
	if r.OnState != nil {
		r.OnState(StateIdle)
	}

	if aborted {
		r.logger.Debug("recording stopped externally, skipping processing")
		return
	}

	switch {
	case err == nil && text != "":
		r.logger.Info("transcript ready", "chars", len(text))
		if r.OnTranscript != nil {
			r.OnTranscript(text)
		}
	case err == nil:
		r.report(ErrNoSpeech)
	case errors.Is(err, ErrTooSmall):
		r.discarded.Add(1)
		r.logger.Warn("recording too small")
	default:
		r.report(err)
	}

	if r.cfg.Continuous {
		r.scheduleRestart()
	}
}

// capture reads frames until the recording ends and returns it encoded.
func (r *Recorder) capture(ctx context.Context) (*Recording, error) {
	start := time.Now()
	readCtx, cancel := context.WithTimeout(ctx, r.cfg.MaxDuration)
	defer cancel()

	var (
		chunks []audioio.AudioChunk
		silent int
		reason StopReason
	)
loop:
	for {
		chunk, err := r.source.Read(readCtx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			reason = StopTimeout
			break loop
		case errors.Is(err, io.EOF):
			reason = StopEnded
			break loop
		default:
			return nil, fmt.Errorf("read microphone: %w", err)
		}

		chunks = append(chunks, chunk)
		level := audioio.Level(chunk.Samples)
		if r.OnLevel != nil {
			r.OnLevel(level)
		}
		if level < r.cfg.SilenceThreshold {
			silent++
			if silent >= r.cfg.SilenceFrames {
				reason = StopSilence
				break loop
			}
		} else {
			silent = 0
		}
	}

	r.logger.Debug("recording stopped", "reason", reason, "chunks", len(chunks))
	if len(chunks) == 0 {
		return nil, ErrTooSmall
	}
	audio, err := audioio.EncodeChunks(chunks)
	if err != nil {
		return nil, err
	}
	if len(audio) < r.cfg.MinBytes {
		return nil, ErrTooSmall
	}
	return &Recording{
		Audio:      audio,
		MIMEType:   "audio/wav",
		Filename:   "recording.wav",
		SampleRate: chunks[0].SampleRate,
		Channels:   chunks[0].Channels,
		Duration:   time.Since(start),
		Reason:     reason,
	}, nil
}

// transcribe runs the primary recognizer, then the fallback once per
// recorder lifetime if the primary fails.
func (r *Recorder) transcribe(ctx context.Context, rec *Recording) (string, error) {
	r.setState(StateTranscribing)
	r.uploads.Add(1)

	chain := []Recognizer{r.primary}
	r.mu.Lock()
	if r.fallback != nil && !r.fallbackUsed {
		chain = append(chain, r.fallback)
	}
	r.mu.Unlock()

	var (
		text string
		last Recognizer
	)
	policy := retry.Policy{
		MaxRetries: len(chain) - 1,
		OnRetry: func(n int, err error) {
			r.mu.Lock()
			r.fallbackUsed = true
			r.mu.Unlock()
			r.fallbacks.Add(1)
			r.logger.Warn("recognizer failed, falling back", "from", chain[n-1].Name(), "to", chain[n].Name(), "error", err)
		},
	}
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, r.cfg.UploadTimeout)
		defer cancel()
		last = chain[attempt]
		t, err := last.Recognize(actx, rec)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		return "", &TranscribeError{Recognizer: last.Name(), Err: err}
	}
	return text, nil
}

func (r *Recorder) report(err error) {
	r.logger.Warn("recording failed", "error", err)
	if r.OnError != nil {
		r.OnError(err)
	}
}

func (r *Recorder) scheduleRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.paused || r.state != StateIdle {
		return
	}
	r.stopRestartLocked()
	ctx := r.ctx
	r.restart = time.AfterFunc(r.cfg.RestartDelay, func() {
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		paused := r.paused
		r.mu.Unlock()
		if paused {
			return
		}
		if err := r.Start(ctx); err != nil && !errors.Is(err, ErrClosed) {
			r.report(err)
		}
	})
}

func (r *Recorder) stopRestartLocked() {
	if r.restart != nil {
		r.restart.Stop()
		r.restart = nil
	}
}

// Stop aborts the current recording without uploading it and cancels any
// pending restart.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.stopRestartLocked()
	c := r.cur
	r.mu.Unlock()

	if c != nil {
		c.cancel()
		<-c.done
	}
	_ = r.source.Stop()
}

// SetListening pauses or resumes listening. Resuming starts a recording.
func (r *Recorder) SetListening(on bool) {
	r.mu.Lock()
	r.paused = !on
	ctx := r.ctx
	r.mu.Unlock()

	if !on {
		r.Stop()
		return
	}
	if err := r.Start(ctx); err != nil && !errors.Is(err, ErrClosed) {
		r.report(err)
	}
}

// Run starts listening and blocks until ctx is done, then closes the recorder.
func (r *Recorder) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Close()
	return ctx.Err()
}

// Close stops recording for good and releases the microphone.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.fallbackUsed = false
	r.mu.Unlock()

	r.Stop()
	return r.source.Close()
}
