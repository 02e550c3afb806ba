// Package stt provides speech-to-text transcription backed by Google Cloud Speech.
//
// A Transcriber performs exactly one recognition request. TranscribeWithFallback
// layers the single alternate-configuration retry used by the voice proxy.
package stt

import (
	"context"
	"errors"
	"strings"
)

// Encoding is a Google Speech RecognitionConfig audio encoding.
type Encoding string

const (
	EncodingWebmOpus Encoding = "WEBM_OPUS"
	EncodingLinear16 Encoding = "LINEAR16"
	EncodingOggOpus  Encoding = "OGG_OPUS"
)

// Recognition defaults.
const (
	DefaultSampleRate  = 48000
	FallbackSampleRate = 16000
	DefaultLanguage    = "en-US"
	DefaultModel       = "default"
)

var (
	// ErrNoSpeech is returned when recognition succeeded but produced no text.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrNoCredentials is returned when no service account credentials are available.
	ErrNoCredentials = errors.New("stt: credentials required")

	// ErrEmptyAudio is returned when asked to transcribe zero bytes.
	ErrEmptyAudio = errors.New("stt: empty audio")
)

// Transcriber converts encoded audio to text with a single provider request.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// Request describes one recognition call.
type Request struct {
	Audio      []byte
	Encoding   Encoding
	SampleRate int
	Language   string

	// Enhanced selects the enhanced model and pins the channel count to mono.
	Enhanced bool
}

// Result is the outcome of a recognition call.
type Result struct {
	Transcript string
	Confidence float64
	Encoding   Encoding
	SampleRate int

	// Fallback is true when the transcript came from the alternate configuration.
	Fallback bool
}

// GuessEncoding maps an upload MIME type to a recognition encoding.
// MP3 uploads are sent as OGG_OPUS since the v1 API has no MP3 encoding.
func GuessEncoding(mimeType string) Encoding {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "wav"):
		return EncodingLinear16
	case strings.Contains(m, "mp3"):
		return EncodingOggOpus
	default:
		return EncodingWebmOpus
	}
}

// NewRequest returns the primary request for audio uploaded with mimeType.
// LINEAR16 uploads use the sample rate from their WAV header when it parses.
func NewRequest(audio []byte, mimeType string) Request {
	req := Request{
		Audio:      audio,
		Encoding:   GuessEncoding(mimeType),
		SampleRate: DefaultSampleRate,
		Language:   DefaultLanguage,
		Enhanced:   true,
	}
	if req.Encoding == EncodingLinear16 {
		if rate, ok := WAVSampleRate(audio); ok {
			req.SampleRate = rate
		}
	}
	return req
}

// fallbackRequest is the alternate configuration tried once after a failure.
func fallbackRequest(req Request) Request {
	return Request{
		Audio:      req.Audio,
		Encoding:   EncodingWebmOpus,
		SampleRate: FallbackSampleRate,
		Language:   req.Language,
	}
}

// TranscribeWithFallback runs req and, if the provider call fails, retries
// once with WEBM_OPUS at 16 kHz. If the fallback also fails or yields no text
// the original error is returned. ErrNoSpeech from the primary request is
// returned as is without a fallback.
func TranscribeWithFallback(ctx context.Context, t Transcriber, req Request) (*Result, error) {
	res, err := t.Transcribe(ctx, req)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrNoSpeech) || errors.Is(err, ErrEmptyAudio) || ctx.Err() != nil {
		return nil, err
	}

	fres, ferr := t.Transcribe(ctx, fallbackRequest(req))
	if ferr != nil {
		return nil, err
	}
	fres.Fallback = true
	return fres, nil
}

// JoinTranscripts joins the top alternative of each result with spaces.
func JoinTranscripts(parts []string) string {
	return strings.TrimSpace(strings.Join(parts, " "))
}
