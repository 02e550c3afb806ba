package stt

import (
	"context"
	"sync"
)

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns ErrNoSpeech.
	TranscribeFunc func(ctx context.Context, req Request) (*Result, error)

	mu       sync.Mutex
	requests []Request
}

// NewMock returns a mock that always answers with transcript.
func NewMock(transcript string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, req Request) (*Result, error) {
			return &Result{Transcript: transcript, Encoding: req.Encoding, SampleRate: req.SampleRate}, nil
		},
	}
}

// Transcribe records the request and calls TranscribeFunc.
func (m *Mock) Transcribe(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, req)
	}
	return nil, ErrNoSpeech
}

// Requests returns the recorded requests.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// CallCount returns the number of Transcribe calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ Transcriber = (*Mock)(nil)
