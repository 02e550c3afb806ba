package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maddoxdev/askmaddox/pkg/audioio"
	"github.com/maddoxdev/askmaddox/pkg/stt"
)

func mockSource(levels []float64, opts ...audioio.MockSourceOption) *audioio.MockSource {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 20 * time.Millisecond
	opts = append([]audioio.MockSourceOption{audioio.WithLevels(levels...), audioio.WithInterval(0)}, opts...)
	return audioio.NewMockSource(cfg, nil, opts...)
}

// events collects recorder callbacks.
type events struct {
	mu          sync.Mutex
	transcripts []string
	errs        []error
	done        chan struct{}
	once        sync.Once
}

func newEvents(r *Recorder) *events {
	e := &events{done: make(chan struct{})}
	r.OnTranscript = func(text string) {
		e.mu.Lock()
		e.transcripts = append(e.transcripts, text)
		e.mu.Unlock()
		e.once.Do(func() { close(e.done) })
	}
	r.OnError = func(err error) {
		e.mu.Lock()
		e.errs = append(e.errs, err)
		e.mu.Unlock()
		e.once.Do(func() { close(e.done) })
	}
	return e
}

func (e *events) wait(t *testing.T) {
	t.Helper()
	select {
	case <-e.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for recorder result")
	}
}

func waitIdle(t *testing.T, r *Recorder) {
	t.Helper()
	require.Eventually(t, func() bool { return r.State() == StateIdle }, 3*time.Second, 5*time.Millisecond)
}

func speech(n int) []float64 {
	levels := make([]float64, n)
	for i := range levels {
		levels[i] = 0.4
	}
	return levels
}

func TestSilenceStopsOnceAndUploadsOnce(t *testing.T) {
	levels := append(speech(5), 0.01, 0.02, 0.03, 0.01, 0.04)
	// Loud frames after the silent run must never be read.
	levels = append(levels, speech(20)...)
	src := mockSource(levels)

	rec := NewMockRecognizer("what is the weather")
	r, err := New(src, rec, nil)
	require.NoError(t, err)
	ev := newEvents(r)

	require.NoError(t, r.Start(context.Background()))
	ev.wait(t)
	waitIdle(t, r)

	assert.Equal(t, []string{"what is the weather"}, ev.transcripts)
	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Stops)
	assert.Equal(t, int64(1), stats.Uploads)
	assert.Equal(t, 1, rec.CallCount())
	assert.Equal(t, int64(10), src.Stats().ChunksRead)
	assert.False(t, src.IsRunning())

	got := rec.Calls()[0]
	assert.Equal(t, StopSilence, got.Reason)
	assert.Equal(t, "audio/wav", got.MIMEType)
	assert.Equal(t, 16000, got.SampleRate)
}

func TestSilenceCounterResetsOnSound(t *testing.T) {
	levels := []float64{0.01, 0.01, 0.01, 0.01, 0.5, 0.01, 0.01, 0.01, 0.01, 0.01}
	src := mockSource(levels, audioio.WithEndOfScript())
	rec := NewMockRecognizer("hi")
	r, err := New(src, rec, nil)
	require.NoError(t, err)
	ev := newEvents(r)

	require.NoError(t, r.Start(context.Background()))
	ev.wait(t)

	assert.Equal(t, StopSilence, rec.Calls()[0].Reason)
	assert.Equal(t, int64(10), src.Stats().ChunksRead)
}

func TestTimeoutStops(t *testing.T) {
	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	src := audioio.NewMockSource(cfg, nil, audioio.WithLevels(speech(1000)...))

	rec := NewMockRecognizer("long speech")
	r, err := New(src, rec, nil, WithMaxDuration(100*time.Millisecond))
	require.NoError(t, err)
	ev := newEvents(r)

	require.NoError(t, r.Start(context.Background()))
	ev.wait(t)

	require.Equal(t, 1, rec.CallCount())
	assert.Equal(t, StopTimeout, rec.Calls()[0].Reason)
	assert.Equal(t, int64(1), r.Stats().Stops)
}

func TestTooSmallIsDiscarded(t *testing.T) {
	src := mockSource(nil, audioio.WithEndOfScript())
	rec := NewMockRecognizer("x")
	r, err := New(src, rec, nil)
	require.NoError(t, err)
	newEvents(r)

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return r.Stats().Discarded == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.CallCount())
	assert.Zero(t, r.Stats().Uploads)
}

func TestEmptyTranscriptReportsNoSpeech(t *testing.T) {
	src := mockSource(append(speech(2), 0, 0, 0, 0, 0))
	r, err := New(src, NewMockRecognizer(""), nil)
	require.NoError(t, err)
	ev := newEvents(r)

	require.NoError(t, r.Start(context.Background()))
	ev.wait(t)

	require.Len(t, ev.errs, 1)
	assert.ErrorIs(t, ev.errs[0], ErrNoSpeech)
	assert.Equal(t, "No speech detected. Please try speaking again.", Message(ev.errs[0]))
}

func TestFallbackUsedOnce(t *testing.T) {
	primary := &MockRecognizer{NameValue: "server", RecognizeFunc: func(context.Context, *Recording) (string, error) {
		return "", errors.New("status 500")
	}}
	fallback := &MockRecognizer{NameValue: "direct", RecognizeFunc: func(context.Context, *Recording) (string, error) {
		return "from fallback", nil
	}}
	src := mockSource(append(speech(2), 0, 0, 0, 0, 0))
	r, err := New(src, primary, fallback)
	require.NoError(t, err)

	// First recording: primary fails, fallback answers.
	ev := newEvents(r)
	require.NoError(t, r.Start(context.Background()))
	ev.wait(t)
	waitIdle(t, r)
	assert.Equal(t, []string{"from fallback"}, ev.transcripts)
	assert.Equal(t, 1, fallback.CallCount())

	// Second recording: fallback already used, the error surfaces.
	ev = newEvents(r)
	require.NoError(t, r.Start(context.Background()))
	ev.wait(t)
	waitIdle(t, r)

	require.Len(t, ev.errs, 1)
	var te *TranscribeError
	require.ErrorAs(t, ev.errs[0], &te)
	assert.Equal(t, "server", te.Recognizer)
	assert.Equal(t, "Failed to transcribe audio: status 500", Message(ev.errs[0]))
	assert.Equal(t, 1, fallback.CallCount())
	assert.Equal(t, 2, primary.CallCount())
	assert.Equal(t, int64(1), r.Stats().Fallbacks)
}

func TestFallbackFailureSurfacesLastError(t *testing.T) {
	primary := &MockRecognizer{RecognizeFunc: func(context.Context, *Recording) (string, error) {
		return "", errors.New("primary down")
	}}
	fallback := &MockRecognizer{NameValue: "direct", RecognizeFunc: func(context.Context, *Recording) (string, error) {
		return "", errors.New("fallback down")
	}}
	r, err := New(mockSource(append(speech(1), 0, 0, 0, 0, 0)), primary, fallback)
	require.NoError(t, err)
	ev := newEvents(r)

	require.NoError(t, r.Start(context.Background()))
	ev.wait(t)

	require.Len(t, ev.errs, 1)
	assert.Equal(t, "Failed to transcribe audio: fallback down", Message(ev.errs[0]))
	assert.Equal(t, int64(1), r.Stats().Uploads)
}

func TestContinuousRestarts(t *testing.T) {
	src := mockSource(append(speech(1), 0, 0, 0, 0, 0))
	rec := NewMockRecognizer("again")
	r, err := New(src, rec, nil, WithContinuous(true), WithRestartDelay(10*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	count := 0
	r.OnTranscript = func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	assert.False(t, src.IsRunning())
	assert.ErrorIs(t, r.Start(context.Background()), ErrClosed)
}

func TestPauseStopsWithoutUpload(t *testing.T) {
	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	src := audioio.NewMockSource(cfg, nil, audioio.WithLevels(speech(1000)...))
	rec := NewMockRecognizer("never")
	r, err := New(src, rec, nil, WithContinuous(true), WithRestartDelay(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return src.Stats().ChunksRead > 2 }, time.Second, 5*time.Millisecond)

	r.SetListening(false)
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, src.IsRunning())

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.CallCount())
	assert.Equal(t, StateIdle, r.State(), "paused recorder must not restart")

	r.SetListening(true)
	assert.Equal(t, StateRecording, r.State())
	require.NoError(t, r.Close())
}

func TestStopDuringTranscriptionIgnoresResult(t *testing.T) {
	entered := make(chan struct{})
	rec := &MockRecognizer{RecognizeFunc: func(ctx context.Context, _ *Recording) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	r, err := New(mockSource(append(speech(1), 0, 0, 0, 0, 0)), rec, nil)
	require.NoError(t, err)
	ev := newEvents(r)

	require.NoError(t, r.Start(context.Background()))
	<-entered
	r.Stop()

	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, ev.transcripts)
	assert.Empty(t, ev.errs)
}

func TestStartWhileRecordingIsNoop(t *testing.T) {
	cfg := audioio.DefaultConfig()
	src := audioio.NewMockSource(cfg, nil, audioio.WithLevels(speech(1000)...))
	r, err := New(src, NewMockRecognizer("x"), nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, int64(1), r.Stats().Recordings)
	assert.Equal(t, int64(1), src.Stats().Starts)
}

func TestDirectRecognizer(t *testing.T) {
	mock := stt.NewMock("hello from google")
	d := NewDirectRecognizer(mock)

	wav, err := audioio.EncodeWAV(make([]int16, 800), 16000, 1)
	require.NoError(t, err)
	text, err := d.Recognize(context.Background(), &Recording{Audio: wav, MIMEType: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "hello from google", text)

	req := mock.Requests()[0]
	assert.Equal(t, stt.EncodingLinear16, req.Encoding)
	assert.Equal(t, 16000, req.SampleRate)

	mock.TranscribeFunc = func(context.Context, stt.Request) (*stt.Result, error) { return nil, stt.ErrNoSpeech }
	text, err = d.Recognize(context.Background(), &Recording{Audio: wav, MIMEType: "audio/wav"})
	require.NoError(t, err)
	assert.Empty(t, text)
}

type uploaderFunc func(ctx context.Context, audio []byte, filename, mimeType string) (string, error)

func (f uploaderFunc) Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	return f(ctx, audio, filename, mimeType)
}

func TestServerRecognizer(t *testing.T) {
	s := NewServerRecognizer(uploaderFunc(func(_ context.Context, audio []byte, filename, mime string) (string, error) {
		assert.Equal(t, "recording.wav", filename)
		assert.Equal(t, "audio/wav", mime)
		assert.Len(t, audio, 3)
		return "ok", nil
	}))
	text, err := s.Recognize(context.Background(), &Recording{Audio: []byte{1, 2, 3}, Filename: "recording.wav", MIMEType: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, "server", s.Name())
}

func TestConfigValidate(t *testing.T) {
	_, err := New(mockSource(nil), NewMockRecognizer(""), nil, WithSilence(0, 5))
	assert.Error(t, err)
	_, err = New(nil, NewMockRecognizer(""), nil)
	assert.Error(t, err)
	assert.Equal(t, "transcribing", StateTranscribing.String())
}
