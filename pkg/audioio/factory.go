package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
)

// NewSource creates a microphone source with the given configuration.
// If cfg.Backend is BackendAuto, exec is used when a capture program is installed.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBackend(captureCommand(cfg))
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendExec:
		return NewExecSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink creates a speaker sink with the given configuration.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBackend(playbackCommand(cfg))
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendExec:
		return NewExecSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func detectBackend(name string, _ []string) Backend {
	if _, err := exec.LookPath(name); err == nil {
		return BackendExec
	}
	return BackendMock
}

// captureCommand returns the program and arguments that write raw PCM16 to stdout.
func captureCommand(cfg Config) (string, []string) {
	rate := strconv.Itoa(cfg.SampleRate)
	ch := strconv.Itoa(cfg.Channels)
	if runtime.GOOS == "darwin" {
		return "rec", []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-"}
	}
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return "arecord", args
}

// playbackCommand returns the program and arguments that play raw PCM16 from stdin.
func playbackCommand(cfg Config) (string, []string) {
	rate := strconv.Itoa(cfg.SampleRate)
	ch := strconv.Itoa(cfg.Channels)
	if runtime.GOOS == "darwin" {
		return "play", []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", ch, "-"}
	}
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return "aplay", args
}

// AvailableBackends returns the backends usable on this machine.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if detectBackend(captureCommand(DefaultConfig())) == BackendExec {
		backends = append(backends, BackendExec)
	}
	return backends
}
