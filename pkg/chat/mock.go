package chat

import (
	"context"
	"sync"
)

// Mock implements Completer for testing.
type Mock struct {
	// CompleteFunc is called when Complete is invoked.
	// If nil, returns FallbackReply.
	CompleteFunc func(ctx context.Context, messages []Message) (string, error)

	mu    sync.Mutex
	calls [][]Message
}

// NewMock returns a mock that always replies with reply.
func NewMock(reply string) *Mock {
	return &Mock{
		CompleteFunc: func(context.Context, []Message) (string, error) {
			return reply, nil
		},
	}
}

// Complete records messages and calls CompleteFunc.
func (m *Mock) Complete(ctx context.Context, messages []Message) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages)
	}
	return FallbackReply, nil
}

// Calls returns the message lists passed to Complete.
func (m *Mock) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// CallCount returns the number of Complete calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ Completer = (*Mock)(nil)
