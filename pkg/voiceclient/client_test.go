package voiceclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maddoxdev/askmaddox/pkg/audio"
	"github.com/maddoxdev/askmaddox/pkg/chat"
)

// fakeProxy is a scripted voice proxy.
type fakeProxy struct {
	mu          sync.Mutex
	synthBodies []SynthesizeRequest
	synthesize  func(n int, req SynthesizeRequest) (int, any)
	audio       []byte
	audioHits   int
}

func (f *fakeProxy) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/voice/synthesize", func(w http.ResponseWriter, r *http.Request) {
		var req SynthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.synthBodies = append(f.synthBodies, req)
		n := len(f.synthBodies)
		f.mu.Unlock()

		status, body := f.synthesize(n, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/api/voice/audio/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.audioHits++
		data := f.audio
		f.mu.Unlock()
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(data)
	})
	return mux
}

func (f *fakeProxy) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioHits
}

func (f *fakeProxy) bodies() []SynthesizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SynthesizeRequest(nil), f.synthBodies...)
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetry(DefaultMaxRetries, 0)}, opts...)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func ok(url string) (int, any) {
	return 200, map[string]any{"success": true, "audioUrl": url}
}

func TestTextToSpeechSuccess(t *testing.T) {
	proxy := &fakeProxy{audio: audio.SilentMP3(5), synthesize: func(int, SynthesizeRequest) (int, any) {
		return ok("/api/voice/audio/abc.mp3")
	}}
	c := newTestClient(t, proxy.handler(t))

	res, err := c.TextToSpeech(context.Background(), "Hello there")
	require.NoError(t, err)
	assert.Equal(t, "/api/voice/audio/abc.mp3", res.AudioURL)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "Hello there", res.Text)

	bodies := proxy.bodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, DefaultVoiceID, bodies[0].VoiceID)
	assert.Equal(t, 0.75, bodies[0].Stability)
	assert.Equal(t, 0.75, bodies[0].SimilarityBoost)
}

func TestTextToSpeechPreloadRetry(t *testing.T) {
	proxy := &fakeProxy{audio: []byte("not audio"), synthesize: func(int, SynthesizeRequest) (int, any) {
		return ok("/api/voice/audio/abc.mp3")
	}}
	c := newTestClient(t, proxy.handler(t))

	_, err := c.TextToSpeech(context.Background(), "Hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreloadFailed)
	assert.Len(t, proxy.bodies(), 3)
	assert.Equal(t, 3, proxy.hits())
}

func TestTextToSpeechTruncatesLongText(t *testing.T) {
	long := strings.Repeat("a", 400)
	proxy := &fakeProxy{audio: audio.SilentMP3(5), synthesize: func(n int, req SynthesizeRequest) (int, any) {
		if len(req.Text) > 250 {
			return 500, map[string]any{"success": false, "message": "Error calling voice service API"}
		}
		return ok("/api/voice/audio/short.mp3")
	}}
	c := newTestClient(t, proxy.handler(t))

	res, err := c.TextToSpeech(context.Background(), long)
	require.NoError(t, err)

	bodies := proxy.bodies()
	require.Len(t, bodies, 3)
	assert.Len(t, bodies[0].Text, 400)
	assert.Len(t, bodies[1].Text, 300)
	assert.Len(t, bodies[2].Text, 225)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, res.Text, 225)
}

func TestTextToSpeechShortTextFailsFast(t *testing.T) {
	proxy := &fakeProxy{synthesize: func(int, SynthesizeRequest) (int, any) {
		return 500, map[string]any{"success": false, "message": "Error calling voice service API", "statusCode": 401}
	}}
	c := newTestClient(t, proxy.handler(t))

	_, err := c.TextToSpeech(context.Background(), "short")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesisFailed)

	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.StatusCode)
	assert.Equal(t, 401, se.Upstream)
	assert.Equal(t, "Error calling voice service API", se.Message)
	assert.Len(t, proxy.bodies(), 1)
}

func TestTextToSpeechTransportRetry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		// Drop the connection without a response.
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	})
	c := newTestClient(t, h, WithRetry(2, 10*time.Millisecond))

	start := time.Now()
	_, err := c.TextToSpeech(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesisFailed)
	assert.False(t, IsServerError(err))
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTextToSpeechContextCancelled(t *testing.T) {
	proxy := &fakeProxy{synthesize: func(int, SynthesizeRequest) (int, any) { return ok("/x.mp3") }}
	c := newTestClient(t, proxy.handler(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.TextToSpeech(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, proxy.bodies())
}

func TestPreloadTimeout(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c := newTestClient(t, h, WithTimeouts(time.Second, time.Second, 20*time.Millisecond))

	err := c.Preload(context.Background(), "/api/voice/audio/slow.mp3")
	assert.ErrorIs(t, err, ErrPreloadFailed)
	assert.Contains(t, err.Error(), "timed out")
}

func TestTranscribe(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/voice/transcribe", r.URL.Path)
		f, fh, err := r.FormFile("audio")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "recording.wav", fh.Filename)
		assert.Equal(t, "audio/wav", fh.Header.Get("Content-Type"))
		assert.Len(t, data, 2048)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transcript":"  what is the weather "}`))
	})
	c := newTestClient(t, h)

	text, err := c.Transcribe(context.Background(), make([]byte, 2048), "recording.wav", "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "what is the weather", text)
}

func TestTranscribeErrors(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(422)
		_, _ = w.Write([]byte(`{"success":false,"message":"No speech detected in the audio"}`))
	})
	c := newTestClient(t, h)

	_, err := c.Transcribe(context.Background(), make([]byte, 2048), "recording.wav", "audio/wav")
	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 422, se.StatusCode)
	assert.Equal(t, "No speech detected in the audio", se.Message)
}

func TestChat(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string         `json:"message"`
			History []chat.Message `json:"history"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "What is the weather", body.Message)
		assert.Len(t, body.History, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"response":"Sunny."}`))
	})
	c := newTestClient(t, h)

	reply, err := c.Chat(context.Background(), "What is the weather", []chat.Message{
		{Role: chat.RoleSystem, Content: chat.SystemPrompt},
		{Role: chat.RoleUser, Content: "What is the weather"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sunny.", reply)
}

func TestNonJSONErrorIsTransport(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	c := newTestClient(t, h)

	_, err := c.Chat(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.False(t, IsServerError(err))
}

func TestURL(t *testing.T) {
	c, err := New("http://localhost:5000/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/api/voice/audio/a.mp3", c.URL("/api/voice/audio/a.mp3"))
	assert.Equal(t, "http://localhost:5000/a.mp3", c.URL("a.mp3"))
	assert.Equal(t, "https://cdn.example.com/a.mp3", c.URL("https://cdn.example.com/a.mp3"))

	_, err = New("")
	assert.Error(t, err)
}
