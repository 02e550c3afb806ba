// Package config provides configuration for askmaddox commands.
// Flag parsing is done in cmd/*; this package only reads the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults used when the environment does not override them.
const (
	DefaultPort            = "5000"
	DefaultVoiceID         = "TnVT7p6RBpw3AtQyx4cd"
	DefaultOpenAIModel     = "gpt-3.5-turbo"
	DefaultCredentialsFile = "google-credentials.json"
	DefaultCacheDir        = "cache/audio"
	DefaultLogLevel        = "info"
)

// DefaultCORSOrigins are the development client origins allowed by default.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// Config holds all configuration for the voice proxy server.
type Config struct {
	Port     string
	LogLevel string

	// Provider credentials.
	OpenAIKey       string
	OpenAIModel     string
	ElevenLabsKey   string
	VoiceID         string
	CredentialsFile string

	// Storage and serving.
	CacheDir    string
	StaticDir   string
	CORSOrigins []string
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Port:            DefaultPort,
		LogLevel:        DefaultLogLevel,
		OpenAIModel:     DefaultOpenAIModel,
		VoiceID:         DefaultVoiceID,
		CredentialsFile: DefaultCredentialsFile,
		CacheDir:        DefaultCacheDir,
		CORSOrigins:     append([]string(nil), DefaultCORSOrigins...),
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Load returns Default overridden by environment variables.
func Load() Config {
	c := Default()
	c.LoadEnv()
	return c
}

// LoadEnv applies environment overrides to c.
func (c *Config) LoadEnv() {
	c.Port = env("PORT", c.Port)
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)
	c.OpenAIKey = env("OPENAI_API_KEY", c.OpenAIKey)
	c.OpenAIModel = env("OPENAI_MODEL", c.OpenAIModel)
	c.ElevenLabsKey = env("ELEVEN_LABS_API_KEY", env("ELEVENLABS_API_KEY", c.ElevenLabsKey))
	c.VoiceID = env("ELEVEN_LABS_VOICE_ID", env("ELEVENLABS_VOICE_ID", c.VoiceID))
	c.CredentialsFile = env("GOOGLE_APPLICATION_CREDENTIALS", c.CredentialsFile)
	c.CacheDir = env("AUDIO_CACHE_DIR", c.CacheDir)
	c.StaticDir = env("STATIC_DIR", c.StaticDir)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORSOrigins = SplitList(origins)
	}
}

// Validate checks that the configuration can start a server.
// Missing provider keys are not errors: the affected routes report them per request.
func (c *Config) Validate() error {
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		return &ConfigError{Field: "Port", Message: "PORT must be a number between 1 and 65535"}
	}
	if c.CacheDir == "" {
		return &ConfigError{Field: "CacheDir", Message: "AUDIO_CACHE_DIR must not be empty"}
	}
	if c.VoiceID == "" {
		return &ConfigError{Field: "VoiceID", Message: "ELEVEN_LABS_VOICE_ID must not be empty"}
	}
	return nil
}

// MissingCredentials lists the provider credentials that are not configured.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.ElevenLabsKey == "" {
		missing = append(missing, "ELEVEN_LABS_API_KEY")
	}
	if _, err := os.Stat(c.CredentialsFile); err != nil {
		missing = append(missing, "GOOGLE_APPLICATION_CREDENTIALS")
	}
	return missing
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
