// Command ask is a terminal client for the voice proxy. It listens on the
// microphone, sends each utterance through the proxy and speaks the reply.
//
// Type "m" and Enter to toggle mute, "q" to quit.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/maddoxdev/askmaddox/internal/config"
	"github.com/maddoxdev/askmaddox/internal/log"
	"github.com/maddoxdev/askmaddox/pkg/audio"
	"github.com/maddoxdev/askmaddox/pkg/audioio"
	"github.com/maddoxdev/askmaddox/pkg/recorder"
	"github.com/maddoxdev/askmaddox/pkg/session"
	"github.com/maddoxdev/askmaddox/pkg/stt"
	"github.com/maddoxdev/askmaddox/pkg/voiceclient"
)

func main() {
	envFile := pflag.StringP("env", "e", ".env", "env file path")
	server := pflag.StringP("server", "s", "http://localhost:5000", "voice proxy base URL")
	voice := pflag.String("voice", "", "voice ID (default: the proxy's voice)")
	backend := pflag.String("backend", string(audioio.BackendAuto), "audio backend: auto, exec, mock")
	device := pflag.String("device", "", "capture/playback device passed to arecord/aplay")
	outRate := pflag.Int("out-rate", 22050, "playback sample rate")
	muted := pflag.BoolP("muted", "m", false, "start muted (replies are printed, not spoken)")
	direct := pflag.Bool("direct-stt", true, "fall back to Google speech-to-text when the proxy fails, if credentials exist")
	logLevel := pflag.StringP("log", "l", "warn", "log level")
	listBackends := pflag.Bool("list-backends", false, "print the audio backends usable on this machine and exit")
	pflag.Parse()

	if *listBackends {
		for _, b := range audioio.AvailableBackends() {
			fmt.Println(b)
		}
		return
	}

	config.LoadDotEnv(*envFile)
	log.Init(*logLevel)
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []voiceclient.Option{voiceclient.WithLogger(logger)}
	if *voice != "" {
		opts = append(opts, voiceclient.WithVoice(*voice))
	}
	client, err := voiceclient.New(*server, opts...)
	if err != nil {
		fatal("client setup failed", err)
	}

	inCfg := audioio.DefaultConfig()
	inCfg.Backend = audioio.Backend(*backend)
	inCfg.Device = *device
	mic, err := audioio.NewSource(inCfg, logger)
	if err != nil {
		fatal("microphone unavailable", err)
	}

	outCfg := inCfg
	outCfg.SampleRate = *outRate
	speaker, err := audioio.NewSink(outCfg, logger)
	if err != nil {
		fatal("speaker unavailable", err)
	}
	player := audio.NewPlayer(speaker, client, logger)
	defer player.Close()

	var fallback recorder.Recognizer
	if *direct {
		fallback = directRecognizer(ctx, logger)
	}
	rec, err := recorder.New(mic, recorder.NewServerRecognizer(client), fallback,
		recorder.WithContinuous(true),
		recorder.WithLogger(logger),
	)
	if err != nil {
		fatal("recorder setup failed", err)
	}
	defer rec.Close()

	sess, err := session.New(client, player, rec, session.WithLogger(logger))
	if err != nil {
		fatal("session setup failed", err)
	}
	sess.OnStatus = func(status string) {
		if status != "" {
			fmt.Println("»", status)
		}
	}
	sess.OnError = func(msg string) {
		if msg != "" {
			fmt.Println("!", msg)
		}
	}
	sess.OnReply = func(text string) {
		fmt.Println("Maddox:", text)
	}
	sess.Metrics().OnUpdate(func(m session.Metrics) {
		logger.Info("turn latency", "latency", m.FormatLatency(), "retries", m.PlaybackRetries)
	})

	rec.OnTranscript = func(text string) {
		fmt.Println("You:", text)
		go func() {
			if err := sess.HandleTranscript(ctx, text); err != nil && !errors.Is(err, session.ErrBusy) {
				logger.Debug("turn ended with error", "error", err)
			}
		}()
	}
	rec.OnError = func(err error) {
		if errors.Is(err, recorder.ErrNoSpeech) {
			logger.Debug("no speech")
			return
		}
		fmt.Println("!", recorder.Message(err))
	}

	if err := sess.Open(ctx); err != nil {
		fatal("session open failed", err)
	}
	defer sess.Close()
	if *muted {
		sess.ToggleMute()
	}

	go readCommands(cancel, sess)
	<-ctx.Done()
	fmt.Println()
}

// directRecognizer returns an in-process Google recognizer when credentials
// are available, nil otherwise.
func directRecognizer(ctx context.Context, logger *slog.Logger) recorder.Recognizer {
	cfg := config.Load()
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		logger.Debug("no Google credentials, direct fallback disabled")
		return nil
	}
	g, err := stt.NewGoogle(ctx, stt.WithCredentialsFile(cfg.CredentialsFile), stt.WithLogger(logger))
	if err != nil {
		logger.Debug("direct fallback disabled", "error", err)
		return nil
	}
	return recorder.NewDirectRecognizer(g)
}

func readCommands(quit context.CancelFunc, sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "m", "mute":
			if sess.ToggleMute() {
				fmt.Println("» muted")
			} else {
				fmt.Println("» unmuted")
			}
		case "q", "quit", "exit":
			quit()
			return
		}
	}
}

func fatal(msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
