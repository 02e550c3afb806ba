package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maddoxdev/askmaddox/pkg/audioio"
)

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Audio(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func staticFetch(data []byte) Fetcher {
	return fetchFunc(func(context.Context, string) ([]byte, error) { return data, nil })
}

func sinkConfig() audioio.Config {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	return cfg
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(SilentMP3(10)))
	assert.ErrorIs(t, Validate(nil), ErrInvalidMP3)
	assert.ErrorIs(t, Validate([]byte("<html>not found</html>")), ErrInvalidMP3)
}

func TestDecodeSilence(t *testing.T) {
	clip, err := Decode(SilentMP3(20))
	require.NoError(t, err)
	assert.Equal(t, 44100, clip.SampleRate)
	assert.NotEmpty(t, clip.Samples)
	assert.Zero(t, audioio.Level(clip.Samples))
	assert.InDelta(t, 20*1152.0/44100, clip.Duration(), 0.1)
}

func TestPlayerPlays(t *testing.T) {
	sink := audioio.NewMockSink(sinkConfig(), nil)
	p := NewPlayer(sink, staticFetch(SilentMP3(20)), nil)

	var mu sync.Mutex
	var events []string
	p.OnPlaybackStart = func(url string) { mu.Lock(); events = append(events, "start "+url); mu.Unlock() }
	p.OnPlaybackEnd = func(url string) { mu.Lock(); events = append(events, "end "+url); mu.Unlock() }

	ctx := context.Background()
	require.NoError(t, p.Prepare(ctx))
	require.NoError(t, p.Play(ctx, "/api/voice/audio/a.mp3"))

	assert.Equal(t, []string{"start /api/voice/audio/a.mp3", "end /api/voice/audio/a.mp3"}, events)
	assert.NotEmpty(t, sink.Played())
	assert.False(t, p.IsPlaying())
}

func TestPlayerFetchError(t *testing.T) {
	sink := audioio.NewMockSink(sinkConfig(), nil)
	boom := errors.New("connection refused")
	p := NewPlayer(sink, fetchFunc(func(context.Context, string) ([]byte, error) { return nil, boom }), nil)
	require.NoError(t, p.Prepare(context.Background()))

	err := p.Play(context.Background(), "/x.mp3")
	assert.ErrorIs(t, err, boom)
}

func TestPlayerInvalidAudio(t *testing.T) {
	sink := audioio.NewMockSink(sinkConfig(), nil)
	p := NewPlayer(sink, staticFetch([]byte("garbage")), nil)
	require.NoError(t, p.Prepare(context.Background()))

	assert.ErrorIs(t, p.Play(context.Background(), "/x.mp3"), ErrInvalidMP3)
}

func TestPlayerSinkError(t *testing.T) {
	sink := audioio.NewMockSink(sinkConfig(), nil)
	sink.WriteErr = errors.New("device busy")
	p := NewPlayer(sink, staticFetch(SilentMP3(5)), nil)
	require.NoError(t, p.Prepare(context.Background()))

	err := p.Play(context.Background(), "/x.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
}

// blockingSink blocks writes until the context is cancelled.
type blockingSink struct {
	*audioio.MockSink
	entered chan struct{}
	once    sync.Once
}

func (b *blockingSink) Write(ctx context.Context, _ audioio.AudioChunk) error {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func TestPlayerStop(t *testing.T) {
	sink := &blockingSink{MockSink: audioio.NewMockSink(sinkConfig(), nil), entered: make(chan struct{})}
	p := NewPlayer(sink, staticFetch(SilentMP3(10)), nil)
	require.NoError(t, p.Prepare(context.Background()))

	done := make(chan error, 1)
	go func() { done <- p.Play(context.Background(), "/x.mp3") }()

	<-sink.entered
	assert.True(t, p.IsPlaying())
	p.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Stop")
	}
	assert.Equal(t, int64(1), sink.Stats().Clears)
}
