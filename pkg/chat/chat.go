// Package chat generates assistant replies with OpenAI chat completions and
// keeps conversation history within the size sent on every request.
package chat

import (
	"context"
	"errors"
	"strings"
)

// Roles used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SystemPrompt seeds every conversation.
const SystemPrompt = "You are a helpful voice assistant. Keep your responses concise and conversational as they will be spoken aloud."

// FallbackReply is returned when the model produces no content.
const FallbackReply = "I apologize, but I could not generate a response."

// MaxHistory is the most entries sent to the model per request.
const MaxHistory = 10

var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("chat: API key required")

	// ErrEmptyMessage is returned when asked to answer blank input.
	ErrEmptyMessage = errors.New("chat: message required")
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces the next assistant message for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// TrimHistory returns at most max entries: the most recent ones, with a
// leading system message kept in front when the input started with one.
func TrimHistory(messages []Message, max int) []Message {
	if max <= 0 {
		return nil
	}
	if len(messages) <= max {
		return append([]Message(nil), messages...)
	}
	if messages[0].Role == RoleSystem {
		out := make([]Message, 0, max)
		out = append(out, messages[0])
		return append(out, messages[len(messages)-(max-1):]...)
	}
	return append([]Message(nil), messages[len(messages)-max:]...)
}

// BuildMessages assembles the request for message given optional history.
// Without history the conversation is seeded with SystemPrompt. The user
// message is appended unless history already ends with it.
func BuildMessages(message string, history []Message) []Message {
	message = strings.TrimSpace(message)
	if len(history) == 0 {
		return []Message{
			{Role: RoleSystem, Content: SystemPrompt},
			{Role: RoleUser, Content: message},
		}
	}

	msgs := append([]Message(nil), history...)
	last := msgs[len(msgs)-1]
	if last.Role != RoleUser || strings.TrimSpace(last.Content) != message {
		msgs = append(msgs, Message{Role: RoleUser, Content: message})
	}
	return TrimHistory(msgs, MaxHistory)
}

// History is an append-only conversation log owned by one session.
// It is not safe for concurrent use.
type History struct {
	turns []Message
}

// Add appends a turn.
func (h *History) Add(role, content string) {
	h.turns = append(h.turns, Message{Role: role, Content: content})
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of all turns.
func (h *History) Turns() []Message {
	return append([]Message(nil), h.turns...)
}

// Reset drops all turns.
func (h *History) Reset() {
	h.turns = nil
}

// Request returns the system prompt followed by recent turns, capped at MaxHistory.
func (h *History) Request() []Message {
	msgs := make([]Message, 0, len(h.turns)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: SystemPrompt})
	msgs = append(msgs, h.turns...)
	return TrimHistory(msgs, MaxHistory)
}
