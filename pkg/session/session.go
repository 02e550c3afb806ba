// Package session runs the hands-free conversation loop: each transcript is
// answered by the chat model, spoken back, and listening resumes afterwards.
//
// A Session owns the conversation history and decides when the microphone
// listens. Every failure path ends with listening resumed after a delay, so
// the loop recovers without user action.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maddoxdev/askmaddox/pkg/audio"
	"github.com/maddoxdev/askmaddox/pkg/chat"
	"github.com/maddoxdev/askmaddox/pkg/recorder"
	"github.com/maddoxdev/askmaddox/pkg/retry"
	"github.com/maddoxdev/askmaddox/pkg/voiceclient"
)

// Status lines shown while a turn progresses.
const (
	StatusReady      = "Ready to listen. Please speak..."
	StatusProcessing = "Processing your request..."
	StatusChat       = "Getting AI response..."
	StatusSynthesis  = "Converting response to speech..."
	StatusPlaying    = "Playing response..."
	StatusListening  = "Listening..."
	StatusWaiting    = "Waiting for next command..."
	mutedPrefix      = "Response (muted): "
)

// Error lines shown to the user.
const (
	ErrTextAudioInit     = "Failed to initialize audio system"
	ErrTextPlaybackRetry = "Error playing audio, retrying..."
	ErrTextPlayback      = "Error playing audio response after multiple attempts"
)

var (
	// ErrClosed is returned for transcripts that arrive after Close.
	ErrClosed = errors.New("session: closed")

	// ErrBusy is returned when a transcript arrives while a turn is in flight.
	ErrBusy = errors.New("session: turn in progress")

	errEmptyReply = errors.New("empty response")
)

// Backend answers and voices a turn. *voiceclient.Client implements it.
type Backend interface {
	Chat(ctx context.Context, message string, history []chat.Message) (string, error)
	TextToSpeech(ctx context.Context, text string) (*voiceclient.SpeechResult, error)
}

// Player plays a synthesized reply. Play blocks until playback ends and
// returns audio.ErrStopped when interrupted by Stop.
type Player interface {
	Prepare(ctx context.Context) error
	Play(ctx context.Context, url string) error
	Stop()
}

// Listener turns the microphone on and off.
type Listener interface {
	SetListening(on bool)
}

var (
	_ Backend  = (*voiceclient.Client)(nil)
	_ Player   = (*audio.Player)(nil)
	_ Listener = (*recorder.Recorder)(nil)
)

// Snapshot is the user-visible session state.
type Snapshot struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Muted      bool           `json:"muted"`
	Processing bool           `json:"processing"`
	Listening  bool           `json:"listening"`
	Playing    bool           `json:"playing"`
	History    []chat.Message `json:"history"`
}

// Session is one open conversation.
type Session struct {
	cfg      *Config
	backend  Backend
	player   Player
	listener Listener
	metrics  *MetricsCollector
	logger   *slog.Logger

	// OnStatus receives every status line.
	OnStatus func(status string)
	// OnError receives error lines; an empty string clears the error.
	OnError func(msg string)
	// OnReply receives each assistant reply as soon as it arrives.
	OnReply func(text string)

	mu         sync.Mutex
	id         string
	gen        uint64
	open       bool
	processing bool
	listening  bool
	playing    bool
	muted      bool
	status     string
	errMsg     string
	history    chat.History
	timers     map[*time.Timer]struct{}
}

// New creates a closed session. listener may be nil.
func New(backend Backend, player Player, listener Listener, opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil || player == nil {
		return nil, errors.New("session: backend and player required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsCollector()
	}
	return &Session{
		cfg:      cfg,
		backend:  backend,
		player:   player,
		listener: listener,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "session"),
		timers:   make(map[*time.Timer]struct{}),
	}, nil
}

// Metrics returns the latency collector.
func (s *Session) Metrics() *MetricsCollector {
	return s.metrics
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Status:     s.status,
		Error:      s.errMsg,
		Muted:      s.muted,
		Processing: s.processing,
		Listening:  s.listening,
		Playing:    s.playing,
		History:    s.history.Turns(),
	}
}

// Open starts a fresh conversation and begins listening after the open delay.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = true
	s.gen++
	gen := s.gen
	s.id = uuid.NewString()
	s.processing = false
	s.history.Reset()
	s.mu.Unlock()

	s.logger.Info("session opened", "session", s.id)
	s.setError(gen, "")
	s.setStatus(gen, "")

	if err := s.player.Prepare(ctx); err != nil {
		s.logger.Error("audio init failed", "error", err)
		s.setError(gen, ErrTextAudioInit)
	}

	s.after(gen, s.cfg.OpenDelay, func() {
		s.mu.Lock()
		busy := s.processing
		s.mu.Unlock()
		if busy {
			return
		}
		s.setStatus(gen, StatusReady)
		s.listen(gen, true)
	})
	return nil
}

// HandleTranscript answers one recognized utterance. Blank text is ignored.
// It blocks until the reply has been played or shown and returns ErrBusy
// when another turn is still in flight.
func (s *Session) HandleTranscript(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Debug("empty transcript, ignoring")
		return nil
	}

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.processing {
		s.mu.Unlock()
		s.logger.Debug("turn in progress, ignoring transcript")
		return ErrBusy
	}
	s.processing = true
	gen := s.gen
	s.history.Add(chat.RoleUser, text)
	history := s.history.Request()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.processing = false
		}
		s.mu.Unlock()
	}()

	s.metrics.MarkTranscript()
	s.logger.Info("transcript received", "chars", len(text))
	s.setError(gen, "")
	s.setStatus(gen, StatusProcessing)
	s.listen(gen, false)

	s.setStatus(gen, StatusChat)
	reply, err := s.backend.Chat(ctx, text, history)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyReply
	}
	if err != nil {
		s.fail(gen, "Failed to get AI response: "+err.Error())
		return fmt.Errorf("chat: %w", err)
	}
	if !s.current(gen) {
		return ErrClosed
	}

	s.mu.Lock()
	s.history.Add(chat.RoleAssistant, reply)
	muted := s.muted
	s.mu.Unlock()
	s.metrics.MarkResponse()
	if s.OnReply != nil {
		s.OnReply(reply)
	}

	s.setStatus(gen, StatusSynthesis)
	speech, err := s.backend.TextToSpeech(ctx, reply)
	if err != nil {
		s.fail(gen, "Speech synthesis failed: "+err.Error())
		return fmt.Errorf("synthesize: %w", err)
	}
	if !s.current(gen) {
		return ErrClosed
	}
	s.metrics.MarkAudio(speech.Attempts)

	s.mu.Lock()
	muted = muted || s.muted
	s.mu.Unlock()
	if muted {
		s.setStatus(gen, mutedPrefix+reply)
		s.metrics.MarkDone(true)
		s.after(gen, s.cfg.MutedResume, func() {
			s.setStatus(gen, StatusListening)
			s.listen(gen, true)
		})
		return nil
	}
	return s.play(ctx, gen, speech.AudioURL)
}

// play plays url with a bounded number of retries and schedules the next listen.
func (s *Session) play(ctx context.Context, gen uint64, url string) error {
	policy := retry.Policy{
		MaxRetries: s.cfg.PlaybackRetries,
		Delay:      s.cfg.PlaybackRetryDelay,
		OnRetry: func(n int, err error) {
			s.metrics.AddPlaybackRetry()
			s.logger.Warn("playback failed, retrying", "attempt", n, "error", err)
			s.setError(gen, ErrTextPlaybackRetry)
		},
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		if !s.current(gen) {
			return retry.Permanent(ErrClosed)
		}
		s.setStatus(gen, StatusPlaying)
		s.setPlaying(true)
		err := s.player.Play(ctx, url)
		s.setPlaying(false)
		if errors.Is(err, audio.ErrStopped) {
			return retry.Permanent(err)
		}
		return err
	})

	switch {
	case errors.Is(err, ErrClosed):
		return err
	case err == nil || errors.Is(err, audio.ErrStopped):
		if !s.current(gen) {
			return ErrClosed
		}
		s.metrics.MarkDone(false)
		s.setError(gen, "")
		s.setStatus(gen, StatusListening)
		s.after(gen, s.cfg.PlaybackResume, func() {
			s.listen(gen, true)
		})
		return nil
	default:
		s.fail(gen, ErrTextPlayback)
		return fmt.Errorf("play: %w", err)
	}
}

// fail reports a failed turn and resumes listening after the error delay.
func (s *Session) fail(gen uint64, msg string) {
	s.logger.Warn("turn failed", "error", msg)
	s.setError(gen, msg)
	s.setStatus(gen, StatusWaiting)
	s.after(gen, s.cfg.ErrorResume, func() {
		s.listen(gen, true)
		s.setStatus(gen, StatusListening)
	})
}

// ToggleMute flips the mute flag, stopping any reply that is playing.
// It returns the new state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	playing := s.playing
	s.mu.Unlock()

	if muted && playing {
		s.player.Stop()
	}
	s.logger.Debug("mute toggled", "muted", muted)
	return muted
}

// Close ends the conversation. In-flight requests are not aborted; their
// results are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.gen++
	for t := range s.timers {
		t.Stop()
	}
	clear(s.timers)
	s.processing = false
	s.status = ""
	s.errMsg = ""
	s.history.Reset()
	wasListening := s.listening
	s.listening = false
	id := s.id
	s.mu.Unlock()

	s.player.Stop()
	if wasListening && s.listener != nil {
		s.listener.SetListening(false)
	}
	s.logger.Info("session closed", "session", id)
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && s.gen == gen
}

// after runs fn once d has elapsed unless the session was closed meanwhile.
func (s *Session) after(gen uint64, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.gen != gen {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		ok := s.open && s.gen == gen
		s.mu.Unlock()
		if ok {
			fn()
		}
	})
	s.timers[t] = struct{}{}
}

func (s *Session) setStatus(gen uint64, status string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()
	if s.OnStatus != nil {
		s.OnStatus(status)
	}
}

func (s *Session) setError(gen uint64, msg string) {
	s.mu.Lock()
	if s.gen != gen || s.errMsg == msg {
		s.mu.Unlock()
		return
	}
	s.errMsg = msg
	s.mu.Unlock()
	if s.OnError != nil {
		s.OnError(msg)
	}
}

func (s *Session) setPlaying(on bool) {
	s.mu.Lock()
	s.playing = on
	s.mu.Unlock()
}

func (s *Session) listen(gen uint64, on bool) {
	s.mu.Lock()
	if !s.open || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.listening = on
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.SetListening(on)
	}
}
