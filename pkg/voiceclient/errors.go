package voiceclient

import (
	"errors"
	"fmt"
)

var (
	// ErrSynthesisFailed is returned when TextToSpeech gives up.
	ErrSynthesisFailed = errors.New("voiceclient: speech synthesis failed")

	// ErrPreloadFailed is returned when synthesized audio cannot be loaded.
	ErrPreloadFailed = errors.New("voiceclient: audio preload failed")

	// ErrEmptyTranscript is returned when the server reports success without text.
	ErrEmptyTranscript = errors.New("voiceclient: empty transcript")
)

// ServerError is a failure reported by the voice proxy in its JSON envelope.
type ServerError struct {
	StatusCode int
	Message    string

	// Upstream is the provider status code the proxy passed through, if any.
	Upstream int
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("voice server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("voice server error (status %d): %s", e.StatusCode, e.Message)
}

// IsServerError reports whether err carries a proxy-reported failure.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
