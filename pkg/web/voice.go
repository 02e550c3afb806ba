package web

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/maddoxdev/askmaddox/pkg/audiocache"
	"github.com/maddoxdev/askmaddox/pkg/chat"
	"github.com/maddoxdev/askmaddox/pkg/stt"
	"github.com/maddoxdev/askmaddox/pkg/tts"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history,omitempty"`
}

// SynthesizeRequest is the body of POST /synthesize.
type SynthesizeRequest struct {
	Text            string   `json:"text"`
	VoiceID         string   `json:"voiceId,omitempty"`
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// handleTranscribe accepts a multipart "audio" upload and returns its transcript.
func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "No audio file uploaded")
	}
	mime := fh.Header.Get("Content-Type")
	log := s.logger.With("file", fh.Filename, "bytes", fh.Size, "mime", mime)

	if fh.Size > MaxAudioBytes {
		return fail(c, fiber.StatusRequestEntityTooLarge, "Audio file too large")
	}
	if fh.Size < MinAudioBytes {
		log.Info("audio too small")
		return fail(c, fiber.StatusBadRequest, "Audio file too small, likely contains no speech")
	}
	if s.deps.Transcriber == nil {
		return fail(c, fiber.StatusInternalServerError, "Google Speech credentials are not configured")
	}

	f, err := fh.Open()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to read audio file")
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to read audio file")
	}

	req := stt.NewRequest(data, mime)
	res, err := stt.TranscribeWithFallback(c.UserContext(), s.deps.Transcriber, req)
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) {
			log.Info("no speech detected")
			return fail(c, fiber.StatusUnprocessableEntity, "No speech detected in the audio")
		}
		s.metrics.ProviderError("google")
		log.Error("transcription failed", "encoding", req.Encoding, "error", err)
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	if res.Fallback {
		s.metrics.TranscribeFallback()
		log.Warn("transcribed with fallback configuration")
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"transcript": res.Transcript,
	})
}

// handleChat returns the assistant reply for a message and optional history.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Message is required for chat")
	}
	if strings.TrimSpace(req.Message) == "" {
		return fail(c, fiber.StatusBadRequest, "Message is required for chat")
	}
	if s.deps.Completer == nil {
		return fail(c, fiber.StatusInternalServerError, "OpenAI API Key is not configured")
	}

	messages := chat.BuildMessages(req.Message, req.History)
	reply, err := s.deps.Completer.Complete(c.UserContext(), messages)
	if err != nil {
		s.metrics.ProviderError("openai")
		s.logger.Error("chat failed", "error", err)
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	if strings.TrimSpace(reply) == "" {
		reply = chat.FallbackReply
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"response": reply,
	})
}

// handleSynthesize returns the URL of cached speech for text, calling the
// provider only on a cache miss.
func (s *Server) handleSynthesize(c *fiber.Ctx) error {
	var req SynthesizeRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Text is required for speech synthesis")
	}
	if req.Text == "" {
		return fail(c, fiber.StatusBadRequest, "Text is required for speech synthesis")
	}
	if s.deps.Synthesizer == nil {
		return fail(c, fiber.StatusInternalServerError, "ElevenLabs API Key is not configured")
	}

	if name, ok := s.deps.Cache.Lookup(req.Text); ok {
		s.metrics.CacheLookup(true)
		s.logger.Debug("audio cache hit", "file", name)
		return c.JSON(fiber.Map{
			"success":  true,
			"audioUrl": AudioRoute + name,
			"cached":   true,
		})
	}
	s.metrics.CacheLookup(false)

	settings := tts.DefaultVoiceSettings()
	if req.Stability != nil && *req.Stability != 0 {
		settings.Stability = *req.Stability
	}
	if req.SimilarityBoost != nil && *req.SimilarityBoost != 0 {
		settings.SimilarityBoost = *req.SimilarityBoost
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = s.cfg.DefaultVoiceID
	}

	result, err := s.deps.Synthesizer.Synthesize(c.UserContext(), tts.Request{
		Text:     req.Text,
		VoiceID:  voiceID,
		Settings: &settings,
	})
	if errors.Is(err, tts.ErrEmptyAudio) || (err == nil && len(result.Audio) == 0) {
		s.metrics.ProviderError("elevenlabs")
		return fail(c, fiber.StatusInternalServerError, "Received empty audio data from voice service")
	}
	if err != nil {
		s.metrics.ProviderError("elevenlabs")
		s.logger.Error("synthesis failed", "voice", voiceID, "error", err)
		body := fiber.Map{
			"success": false,
			"message": "Error calling voice service API",
			"error":   err.Error(),
		}
		if code := tts.StatusCode(err); code != 0 {
			body["statusCode"] = code
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}

	name, err := s.deps.Cache.Store(req.Text, result.Audio)
	if err != nil {
		s.logger.Error("store audio failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Error saving audio file",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"audioUrl": AudioRoute + name,
		"cached":   false,
	})
}

// handleAudio streams a cached file, honouring single byte ranges.
func (s *Server) handleAudio(c *fiber.Ctx) error {
	f, info, err := s.deps.Cache.Open(c.Params("filename"))
	if err != nil {
		if errors.Is(err, audiocache.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Audio file not found")
		}
		s.logger.Error("open audio failed", "error", err)
		return fail(c, fiber.StatusInternalServerError, "Error streaming audio file")
	}
	size := info.Size()

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set(fiber.HeaderContentDisposition, "inline")
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, "GET")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, Range")
	c.Set(fiber.HeaderAccessControlExposeHeaders, "Content-Type, Content-Length, Content-Range")
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")

	rangeHeader := c.Get(fiber.HeaderRange)
	if rangeHeader == "" {
		return c.SendStream(f, int(size))
	}

	br, err := ParseRange(rangeHeader, size)
	switch {
	case errors.Is(err, ErrUnsatisfiableRange):
		f.Close()
		c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(size, 10))
		return fail(c, fiber.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable")
	case err != nil:
		// Malformed ranges are ignored and the whole file is sent.
		return c.SendStream(f, int(size))
	}

	if _, err := f.Seek(br.Start, io.SeekStart); err != nil {
		f.Close()
		return fail(c, fiber.StatusInternalServerError, "Error streaming audio file")
	}
	c.Set(fiber.HeaderContentRange, br.ContentRange(size))
	c.Status(fiber.StatusPartialContent)
	return c.SendStream(&limitedFile{Reader: io.LimitReader(f, br.Length()), Closer: f}, int(br.Length()))
}

// limitedFile lets fasthttp close the file once the range has been sent.
type limitedFile struct {
	io.Reader
	io.Closer
}
