package web

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
)

// maxLogLine is the display width of a request log line.
const maxLogLine = 80

// LogEntry is one API request as shown in the request log.
type LogEntry struct {
	Time       string `json:"time"`
	RequestID  string `json:"request_id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Line       string `json:"line"`
}

// LogBuffer keeps the most recent request log entries.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	max     int
}

// NewLogBuffer creates a buffer holding at most max entries.
func NewLogBuffer(max int) *LogBuffer {
	return &LogBuffer{entries: make([]LogEntry, 0, max), max: max}
}

// Add appends an entry, evicting the oldest when full.
func (b *LogBuffer) Add(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]LogEntry(nil), b.entries...)
}

// FormatLine renders "METHOD path status in Nms :: body", cut to 80 characters.
func FormatLine(method, path string, status int, d time.Duration, body string) string {
	line := fmt.Sprintf("%s %s %d in %dms", method, path, status, d.Milliseconds())
	if body != "" {
		line += " :: " + body
	}
	if len([]rune(line)) > maxLogLine {
		line = string([]rune(line)[:maxLogLine-1]) + "…"
	}
	return line
}

const localsRequestID = "request_id"

// requestID tags each request with an X-Request-ID, reusing the caller's if present.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Header values alias the request buffer, which fasthttp reuses.
		id := utils.CopyString(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, id)
		c.Locals(localsRequestID, id)
		return c.Next()
	}
}

// requestLog records metrics for every request and logs API requests with a
// summary of their JSON response.
func (s *Server) requestLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Render now so the logged status matches what the client sees.
			if herr := s.handleError(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		elapsed := time.Since(start)

		// Both outlive the request in metric labels and the log buffer.
		method := utils.CopyString(c.Method())
		path := utils.CopyString(c.Path())
		status := c.Response().StatusCode()
		s.metrics.ObserveRequest(method, routeLabel(c), status, elapsed)

		if !strings.HasPrefix(path, "/api") {
			return nil
		}

		body := ""
		if strings.HasPrefix(string(c.Response().Header.ContentType()), fiber.MIMEApplicationJSON) {
			body = string(c.Response().Body())
		}

		id, _ := c.Locals(localsRequestID).(string)
		entry := LogEntry{
			Time:       start.Format("15:04:05"),
			RequestID:  id,
			Method:     method,
			Path:       path,
			Status:     status,
			DurationMs: elapsed.Milliseconds(),
			Line:       FormatLine(method, path, status, elapsed, body),
		}
		s.logs.Add(entry)
		_ = s.logHub.BroadcastJSON(entry)
		s.logger.Info(entry.Line, "request_id", id)
		return nil
	}
}

// routeLabel returns the matched route pattern so metric labels stay bounded.
func routeLabel(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" {
		return r.Path
	}
	return "unmatched"
}
