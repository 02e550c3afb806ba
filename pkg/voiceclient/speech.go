package voiceclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/maddoxdev/askmaddox/pkg/audio"
	"github.com/maddoxdev/askmaddox/pkg/retry"
)

// longText is the length above which a failed synthesis is retried with
// shorter text.
const longText = 200

// SpeechResult is the outcome of TextToSpeech.
type SpeechResult struct {
	AudioURL string

	// Text is what was synthesized; shorter than the input if it was truncated.
	Text     string
	Attempts int
}

// TextToSpeech synthesizes text with the configured voice and confirms the
// audio loads. Up to MaxRetries more attempts are made, sharing one counter:
//   - audio that fails to preload is synthesized again;
//   - a server-reported failure is retried with the first 75% of the text
//     when the text is longer than 200 characters, and returned otherwise;
//   - a transport error is retried after RetryDelay.
func (c *Client) TextToSpeech(ctx context.Context, text string) (*SpeechResult, error) {
	current := text
	result := &SpeechResult{}
	var lastKind failureKind

	policy := retry.Policy{
		MaxRetries: c.cfg.MaxRetries,
		OnRetry: func(n int, err error) {
			c.logger.Warn("retrying speech synthesis", "retry", n, "chars", len([]rune(current)), "error", err)
		},
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if lastKind == failureTransport {
			if err := retry.Sleep(ctx, c.cfg.RetryDelay); err != nil {
				return retry.Permanent(err)
			}
		}
		result.Attempts = attempt + 1

		resp, err := c.Synthesize(ctx, SynthesizeRequest{
			Text:            current,
			VoiceID:         c.cfg.VoiceID,
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.SimilarityBoost,
		})
		switch {
		case err == nil:
		case IsServerError(err):
			lastKind = failureServer
			if n := len([]rune(current)); n > longText {
				current = string([]rune(current)[:n*3/4])
				return err
			}
			return retry.Permanent(err)
		case ctx.Err() != nil:
			return retry.Permanent(err)
		default:
			lastKind = failureTransport
			return err
		}

		if err := c.Preload(ctx, resp.AudioURL); err != nil {
			lastKind = failurePreload
			return err
		}
		result.AudioURL = resp.AudioURL
		result.Text = current
		return nil
	})
	if err != nil {
		if lastKind == failurePreload {
			return nil, fmt.Errorf("after %d attempts: %w", result.Attempts, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	return result, nil
}

type failureKind int

const (
	failureServer failureKind = iota + 1
	failureTransport
	failurePreload
)

// Preload downloads the audio at url and checks it decodes as MP3 within
// the preload timeout.
func (c *Client) Preload(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PreloadTimeout)
	defer cancel()

	data, err := c.Audio(ctx, url)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: timed out", ErrPreloadFailed)
		}
		return fmt.Errorf("%w: %w", ErrPreloadFailed, err)
	}
	if err := audio.Validate(data); err != nil {
		return fmt.Errorf("%w: %w", ErrPreloadFailed, err)
	}
	return nil
}
