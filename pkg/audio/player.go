package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maddoxdev/askmaddox/pkg/audioio"
)

// ErrStopped is returned by Play when playback was interrupted by Stop.
var ErrStopped = errors.New("audio: playback stopped")

// Fetcher loads the bytes behind an audio URL.
type Fetcher interface {
	Audio(ctx context.Context, url string) ([]byte, error)
}

// Player fetches MP3 responses, decodes them and plays them to a sink.
// One clip plays at a time.
type Player struct {
	sink   audioio.Sink
	fetch  Fetcher
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing bool

	// OnPlaybackStart is called once decoded audio starts going to the sink.
	OnPlaybackStart func(url string)
	// OnPlaybackEnd is called after the clip finished or was stopped.
	OnPlaybackEnd func(url string)
}

// NewPlayer creates a player writing to sink.
func NewPlayer(sink audioio.Sink, fetch Fetcher, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		sink:   sink,
		fetch:  fetch,
		logger: logger.With("component", "player"),
	}
}

// Prepare opens the sink. It is called once before the first Play.
func (p *Player) Prepare(ctx context.Context) error {
	return p.sink.Start(ctx)
}

// Play fetches url and blocks until the clip has played, ctx is done or
// Stop is called.
func (p *Player) Play(ctx context.Context, url string) error {
	data, err := p.fetch.Audio(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch audio: %w", err)
	}
	clip, err := Decode(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.playing = true
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.playing = false
		p.cancel = nil
		p.mu.Unlock()
		if p.OnPlaybackEnd != nil {
			p.OnPlaybackEnd(url)
		}
	}()

	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart(url)
	}
	p.logger.Debug("playing", "url", url, "seconds", clip.Duration())

	if err := p.write(ctx, clip); err != nil {
		if ctx.Err() != nil {
			return ErrStopped
		}
		return err
	}
	if err := p.sink.Flush(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrStopped
		}
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (p *Player) write(ctx context.Context, clip *Clip) error {
	cfg := p.sink.Config()
	samples := audioio.Resample(clip.Samples, clip.SampleRate, cfg.SampleRate)
	if cfg.Channels == 2 {
		samples = audioio.MonoToStereo(samples)
	}

	step := cfg.BufferSize() * cfg.Channels
	if step <= 0 {
		step = len(samples)
	}
	for off := 0; off < len(samples); off += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+step, len(samples))
		chunk := audioio.AudioChunk{
			Samples:    samples[off:end],
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}
		if err := p.sink.Write(ctx, chunk); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

// Stop interrupts the current clip, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		_ = p.sink.Clear()
	}
}

// IsPlaying reports whether a clip is playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close stops playback and releases the sink.
func (p *Player) Close() error {
	p.Stop()
	return p.sink.Close()
}
