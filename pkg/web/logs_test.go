package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatLine(t *testing.T) {
	line := FormatLine("GET", "/api/health", 200, 12*time.Millisecond, "")
	assert.Equal(t, "GET /api/health 200 in 12ms", line)

	long := FormatLine("POST", "/api/voice/chat", 200, 5*time.Millisecond, `{"success":true,"response":"`+string(make([]byte, 200))+`"}`)
	runes := []rune(long)
	assert.Len(t, runes, 80)
	assert.Equal(t, '…', runes[79])
}

func TestLogBuffer(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(LogEntry{Status: i})
	}
	entries := b.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, 2, entries[0].Status)
	assert.Equal(t, 4, entries[2].Status)
}
