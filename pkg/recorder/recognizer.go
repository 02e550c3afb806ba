package recorder

import (
	"context"
	"errors"
	"sync"

	"github.com/maddoxdev/askmaddox/pkg/stt"
)

// Recognizer turns a finished recording into text. An empty transcript with
// a nil error means no speech was heard.
type Recognizer interface {
	Recognize(ctx context.Context, rec *Recording) (string, error)
	Name() string
}

// Uploader sends a recording to the voice proxy. *voiceclient.Client implements it.
type Uploader interface {
	Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error)
}

// ServerRecognizer transcribes through the voice proxy's /transcribe route.
type ServerRecognizer struct {
	up Uploader
}

// NewServerRecognizer returns a recognizer that uploads to the proxy.
func NewServerRecognizer(up Uploader) *ServerRecognizer {
	return &ServerRecognizer{up: up}
}

func (s *ServerRecognizer) Recognize(ctx context.Context, rec *Recording) (string, error) {
	return s.up.Transcribe(ctx, rec.Audio, rec.Filename, rec.MIMEType)
}

func (s *ServerRecognizer) Name() string { return "server" }

// DirectRecognizer calls a speech-to-text provider in-process, skipping the proxy.
type DirectRecognizer struct {
	t stt.Transcriber
}

// NewDirectRecognizer returns a recognizer backed by t.
func NewDirectRecognizer(t stt.Transcriber) *DirectRecognizer {
	return &DirectRecognizer{t: t}
}

func (d *DirectRecognizer) Recognize(ctx context.Context, rec *Recording) (string, error) {
	res, err := d.t.Transcribe(ctx, stt.NewRequest(rec.Audio, rec.MIMEType))
	if errors.Is(err, stt.ErrNoSpeech) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return res.Transcript, nil
}

func (d *DirectRecognizer) Name() string { return "direct" }

// MockRecognizer implements Recognizer for testing.
type MockRecognizer struct {
	// RecognizeFunc is called when Recognize is invoked.
	// If nil, returns an empty transcript.
	RecognizeFunc func(ctx context.Context, rec *Recording) (string, error)
	NameValue     string

	mu    sync.Mutex
	calls []*Recording
}

// NewMockRecognizer returns a mock that always answers with transcript.
func NewMockRecognizer(transcript string) *MockRecognizer {
	return &MockRecognizer{
		RecognizeFunc: func(context.Context, *Recording) (string, error) {
			return transcript, nil
		},
	}
}

func (m *MockRecognizer) Recognize(ctx context.Context, rec *Recording) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, rec)
	m.mu.Unlock()
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx, rec)
	}
	return "", nil
}

func (m *MockRecognizer) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Calls returns the recordings passed to Recognize.
func (m *MockRecognizer) Calls() []*Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Recording(nil), m.calls...)
}

// CallCount returns the number of Recognize calls.
func (m *MockRecognizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var (
	_ Recognizer = (*ServerRecognizer)(nil)
	_ Recognizer = (*DirectRecognizer)(nil)
	_ Recognizer = (*MockRecognizer)(nil)
)
