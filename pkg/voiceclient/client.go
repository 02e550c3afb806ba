// Package voiceclient talks to the voice proxy: transcription uploads, chat
// turns, speech synthesis and fetching cached audio.
package voiceclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/maddoxdev/askmaddox/internal/httpc"
	"github.com/maddoxdev/askmaddox/pkg/chat"
)

// Defaults for the voice proxy client.
const (
	DefaultVoiceID           = "TnVT7p6RBpw3AtQyx4cd"
	DefaultStability         = 0.75
	DefaultSimilarityBoost   = 0.75
	DefaultRequestTimeout    = 60 * time.Second
	DefaultTranscribeTimeout = 30 * time.Second
	DefaultPreloadTimeout    = 10 * time.Second
	DefaultMaxRetries        = 2
	DefaultRetryDelay        = time.Second
)

// Config holds client settings.
type Config struct {
	BaseURL           string
	VoiceID           string
	Stability         float64
	SimilarityBoost   float64
	RequestTimeout    time.Duration
	TranscribeTimeout time.Duration
	PreloadTimeout    time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// DefaultConfig returns the client defaults.
func DefaultConfig() *Config {
	return &Config{
		VoiceID:           DefaultVoiceID,
		Stability:         DefaultStability,
		SimilarityBoost:   DefaultSimilarityBoost,
		RequestTimeout:    DefaultRequestTimeout,
		TranscribeTimeout: DefaultTranscribeTimeout,
		PreloadTimeout:    DefaultPreloadTimeout,
		MaxRetries:        DefaultMaxRetries,
		RetryDelay:        DefaultRetryDelay,
	}
}

// Option configures the client.
type Option func(*Config)

// WithVoice sets the voice sent with synthesis requests.
func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

// WithVoiceSettings sets stability and similarity boost.
func WithVoiceSettings(stability, similarity float64) Option {
	return func(c *Config) {
		c.Stability = stability
		c.SimilarityBoost = similarity
	}
}

// WithHTTPClient sets the HTTP client. Per-call deadlines still come from
// the configured timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithTimeouts sets the request, transcription and preload timeouts.
func WithTimeouts(request, transcribe, preload time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout = request
		c.TranscribeTimeout = transcribe
		c.PreloadTimeout = preload
	}
}

// WithRetry sets how often TextToSpeech retries and the wait after a network error.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Client is a voice proxy client.
type Client struct {
	cfg    *Config
	base   string
	http   *http.Client
	logger *slog.Logger
}

// New creates a client for the proxy at baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("voiceclient: base URL required")
	}
	if cfg.HTTPClient == nil {
		// Deadlines are per call via context.
		cfg.HTTPClient = httpc.NewClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   cfg.HTTPClient,
		logger: cfg.Logger.With("component", "voiceclient"),
	}, nil
}

// URL resolves a server-relative path such as an audioUrl.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base + path
}

// envelope is the proxy's JSON response shape.
type envelope struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Response   string `json:"response,omitempty"`
	AudioURL   string `json:"audioUrl,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

// do sends req and decodes the envelope. Responses with a JSON body and
// success=false become *ServerError; other failures are transport errors.
func (c *Client) do(req *http.Request) (*envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if jerr := sonic.Unmarshal(body, &env); jerr != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode response: %w", jerr)
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: msg, Upstream: env.StatusCode}
	}
	return &env, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*envelope, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Transcribe uploads a recording and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
	defer cancel()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL("/api/voice/transcribe"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	env, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	transcript := strings.TrimSpace(env.Transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}
	return transcript, nil
}

// Chat sends a message with prior turns and returns the reply.
func (c *Client) Chat(ctx context.Context, message string, history []chat.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	env, err := c.postJSON(ctx, "/api/voice/chat", map[string]any{
		"message": message,
		"history": history,
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return env.Response, nil
}

// SynthesizeRequest is the body of a synthesis call.
type SynthesizeRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voiceId,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// SynthesizeResponse is a successful synthesis result.
type SynthesizeResponse struct {
	AudioURL string
	Cached   bool
}

// Synthesize makes a single synthesis call without retries.
func (c *Client) Synthesize(ctx context.Context, req SynthesizeRequest) (*SynthesizeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	env, err := c.postJSON(ctx, "/api/voice/synthesize", req)
	if err != nil {
		return nil, err
	}
	if env.AudioURL == "" {
		return nil, &ServerError{StatusCode: http.StatusOK, Message: "missing audioUrl"}
	}
	return &SynthesizeResponse{AudioURL: env.AudioURL, Cached: env.Cached}, nil
}

// Audio downloads the audio at url (absolute or server-relative).
func (c *Client) Audio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(url), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
