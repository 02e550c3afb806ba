// Command server runs the Ask Maddox voice proxy: speech-to-text, chat and
// cached text-to-speech behind one JSON API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/maddoxdev/askmaddox/internal/config"
	"github.com/maddoxdev/askmaddox/internal/log"
	"github.com/maddoxdev/askmaddox/pkg/audiocache"
	"github.com/maddoxdev/askmaddox/pkg/chat"
	"github.com/maddoxdev/askmaddox/pkg/stt"
	"github.com/maddoxdev/askmaddox/pkg/tts"
	"github.com/maddoxdev/askmaddox/pkg/web"
)

func main() {
	envFile := pflag.StringP("env", "e", ".env", "env file path")
	port := pflag.StringP("port", "p", "", "listen port (overrides PORT)")
	logLevel := pflag.StringP("log", "l", "", "log level (overrides LOG_LEVEL)")
	static := pflag.String("static", "", "built client directory to serve (overrides STATIC_DIR)")
	pflag.Parse()

	config.LoadDotEnv(*envFile)
	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *static != "" {
		cfg.StaticDir = *static
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	for _, name := range cfg.MissingCredentials() {
		logger.Warn("credential not configured, its route will fail", "env", name)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cache, err := audiocache.New(cfg.CacheDir, logger)
	if err != nil {
		logger.Error("audio cache unavailable", "dir", cfg.CacheDir, "error", err)
		os.Exit(1)
	}

	srv, err := web.NewServer(web.Config{
		Port:           cfg.Port,
		CORSOrigins:    cfg.CORSOrigins,
		StaticDir:      cfg.StaticDir,
		DefaultVoiceID: cfg.VoiceID,
		Logger:         logger,
	}, providers(ctx, cfg, cache, logger))
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("shutdown failed", "error", err)
		}
	}
}

// providers builds the configured provider clients. A provider that cannot
// be built is left nil and its route answers "not configured".
func providers(ctx context.Context, cfg config.Config, cache *audiocache.Cache, logger *slog.Logger) web.Deps {
	deps := web.Deps{Cache: cache}

	if _, err := os.Stat(cfg.CredentialsFile); err == nil {
		g, err := stt.NewGoogle(ctx,
			stt.WithCredentialsFile(cfg.CredentialsFile),
			stt.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("speech-to-text disabled", "error", err)
		} else {
			deps.Transcriber = g
		}
	}

	if cfg.OpenAIKey != "" {
		o, err := chat.NewOpenAI(
			chat.WithAPIKey(cfg.OpenAIKey),
			chat.WithModel(cfg.OpenAIModel),
			chat.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("chat disabled", "error", err)
		} else {
			deps.Completer = o
		}
	}

	if cfg.ElevenLabsKey != "" {
		e, err := tts.NewElevenLabs(
			tts.WithAPIKey(cfg.ElevenLabsKey),
			tts.WithVoice(cfg.VoiceID),
			tts.WithRetry(0, 0),
			tts.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("text-to-speech disabled", "error", err)
		} else {
			logger.Info("text-to-speech ready", "voice", e.VoiceID(), "model", e.ModelID())
			deps.Synthesizer = e
		}
	}
	return deps
}
