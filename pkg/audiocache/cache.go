// Package audiocache stores synthesized speech on disk keyed by the MD5 of its text.
//
// Entries are never evicted. Writes go through a temp file and a rename so that
// two concurrent stores of the same text both leave a complete file behind.
package audiocache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Extension is appended to every cache key.
const Extension = ".mp3"

// ErrNotFound is returned when a requested file is not in the cache.
var ErrNotFound = errors.New("audiocache: not found")

// ErrEmpty is returned when asked to store zero bytes.
var ErrEmpty = errors.New("audiocache: empty audio")

// Cache is a flat directory of <md5>.mp3 files.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// New creates the cache directory if needed.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:    dir,
		logger: logger.With("component", "audiocache"),
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Key returns the hex MD5 digest of text.
func Key(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FileName returns the cache file name for text.
func FileName(text string) string {
	return Key(text) + Extension
}

// Lookup reports whether audio for text is already cached and returns its file name.
func (c *Cache) Lookup(text string) (string, bool) {
	name := FileName(text)
	info, err := os.Stat(filepath.Join(c.dir, name))
	if err != nil || info.IsDir() || info.Size() == 0 {
		return name, false
	}
	return name, true
}

// Store writes audio for text and returns its file name.
func (c *Cache) Store(text string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmpty
	}
	name := FileName(text)
	dst := filepath.Join(c.dir, name)

	tmp, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close audio: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("chmod audio: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename audio: %w", err)
	}

	c.logger.Debug("stored audio", "file", name, "bytes", len(audio))
	return name, nil
}

// Sanitize reduces a requested name to its base name so that it can only
// address files directly inside the cache directory.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(path.Clean("/" + name))
	if base == "/" || base == "." || base == ".." {
		return ""
	}
	return base
}

// Open opens a cached file by (untrusted) name.
// The name is sanitized first; anything that does not resolve to a regular
// file in the cache directory yields ErrNotFound.
func (c *Cache) Open(name string) (*os.File, os.FileInfo, error) {
	base := Sanitize(name)
	if base == "" {
		return nil, nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(c.dir, base))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open audio: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat audio: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}
