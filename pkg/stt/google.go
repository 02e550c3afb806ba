package stt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"

	"github.com/maddoxdev/askmaddox/internal/httpc"
)

const providerGoogle = "google"

// Config holds Google Speech configuration.
type Config struct {
	// CredentialsFile is a service account JSON key file.
	CredentialsFile string

	// CredentialsJSON takes precedence over CredentialsFile when set.
	CredentialsJSON []byte

	// HTTPClient bypasses credential loading entirely. Used for tests and
	// for callers that already hold an authorized client.
	HTTPClient *http.Client

	// Endpoint overrides the API base URL.
	Endpoint string

	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Option is a functional option for configuring the Google transcriber.
type Option func(*Config)

// WithCredentialsFile sets the service account key file.
func WithCredentialsFile(path string) Option {
	return func(c *Config) {
		c.CredentialsFile = path
	}
}

// WithCredentialsJSON sets the service account key contents.
func WithCredentialsJSON(data []byte) Option {
	return func(c *Config) {
		c.CredentialsJSON = data
	}
}

// WithHTTPClient uses client as is for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) Option {
	return func(c *Config) {
		c.Endpoint = url
	}
}

// WithModel sets the recognition model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTimeout bounds each recognition request.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:   DefaultModel,
		Timeout: 30 * time.Second,
		Logger:  slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Google transcribes audio with the Cloud Speech v1 REST API.
type Google struct {
	svc    *speech.Service
	config *Config
	logger *slog.Logger
}

// NewGoogle creates a Google transcriber. Credentials are read from the
// configured JSON or key file unless an HTTP client is supplied.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	client := cfg.HTTPClient
	if client == nil {
		data := cfg.CredentialsJSON
		if len(data) == 0 {
			if cfg.CredentialsFile == "" {
				return nil, ErrNoCredentials
			}
			b, err := os.ReadFile(cfg.CredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
			}
			data = b
		}

		creds, err := google.CredentialsFromJSON(ctx, data, speech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		base := httpc.NewClient(cfg.Timeout)
		client = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), creds.TokenSource)
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := speech.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create speech service: %w", err)
	}

	return &Google{
		svc:    svc,
		config: cfg,
		logger: cfg.Logger.With("component", "stt.google"),
	}, nil
}

// Transcribe sends one synchronous recognition request.
func (g *Google) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	language := req.Language
	if language == "" {
		language = DefaultLanguage
	}

	rc := &speech.RecognitionConfig{
		Encoding:                   string(req.Encoding),
		SampleRateHertz:            int64(req.SampleRate),
		LanguageCode:               language,
		Model:                      g.config.Model,
		EnableAutomaticPunctuation: true,
	}
	if req.Enhanced {
		rc.UseEnhanced = true
		rc.AudioChannelCount = 1
	}

	start := time.Now()
	resp, err := g.svc.Speech.Recognize(&speech.RecognizeRequest{
		Audio:  &speech.RecognitionAudio{Content: base64.StdEncoding.EncodeToString(req.Audio)},
		Config: rc,
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapGoogleError(err)
	}

	var parts []string
	var confidence float64
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		parts = append(parts, r.Alternatives[0].Transcript)
		if confidence == 0 {
			confidence = r.Alternatives[0].Confidence
		}
	}

	transcript := JoinTranscripts(parts)
	g.logger.Debug("recognized audio",
		"encoding", req.Encoding,
		"sample_rate", req.SampleRate,
		"bytes", len(req.Audio),
		"results", len(resp.Results),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	if transcript == "" {
		return nil, ErrNoSpeech
	}

	return &Result{
		Transcript: transcript,
		Confidence: confidence,
		Encoding:   req.Encoding,
		SampleRate: req.SampleRate,
	}, nil
}

// APIError is an error response from the speech API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stt [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

func wrapGoogleError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		msg := gErr.Message
		if msg == "" {
			msg = http.StatusText(gErr.Code)
		}
		return &APIError{StatusCode: gErr.Code, Message: msg, Provider: providerGoogle}
	}
	return fmt.Errorf("stt [%s]: %w", providerGoogle, err)
}

// Verify Google implements Transcriber at compile time.
var _ Transcriber = (*Google)(nil)
