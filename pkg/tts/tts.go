// Package tts provides a text-to-speech provider interface and an ElevenLabs client.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVEN_LABS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, tts.Request{Text: "Hello world"})
//	// result.Audio contains MP3 bytes
package tts

import "context"

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, req Request) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Request is a single synthesis request.
// Empty VoiceID and nil Settings fall back to the provider's configuration.
type Request struct {
	Text     string
	VoiceID  string
	Settings *VoiceSettings
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// VoiceID is the voice that produced the audio.
	VoiceID string

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding represents audio encoding types.
// These match ElevenLabs output format options.
type Encoding string

const (
	EncodingMP3   Encoding = "mp3_44100_128" // MP3 128kbps
	EncodingPCM16 Encoding = "pcm_16000"     // 16kHz mono PCM16
	EncodingPCM22 Encoding = "pcm_22050"     // 22.05kHz mono PCM16
	EncodingPCM24 Encoding = "pcm_24000"     // 24kHz mono PCM16
	EncodingPCM44 Encoding = "pcm_44100"     // 44.1kHz mono PCM16
)

// VoiceSettings controls voice characteristics.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	// Lower values = more expressive/variable, higher = more consistent.
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0). Zero is omitted from requests.
	Style float64

	// SpeakerBoost enhances speaker clarity.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns the settings used when a request names none.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 44100
	}
}

// MIMEType returns the Accept header value for an encoding.
func MIMEType(enc Encoding) string {
	switch enc {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}
