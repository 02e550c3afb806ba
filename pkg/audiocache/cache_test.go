package audiocache

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return c
}

func TestKey(t *testing.T) {
	// md5("hello")
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", Key("hello"))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592.mp3", FileName("hello"))
	assert.NotEqual(t, Key("hello"), Key("hello "))
}

func TestStoreAndLookup(t *testing.T) {
	c := newCache(t)

	name, ok := c.Lookup("hi there")
	assert.False(t, ok)
	assert.Equal(t, FileName("hi there"), name)

	stored, err := c.Store("hi there", []byte("ID3fake"))
	require.NoError(t, err)
	assert.Equal(t, name, stored)

	name, ok = c.Lookup("hi there")
	assert.True(t, ok)
	assert.Equal(t, stored, name)

	data, err := os.ReadFile(filepath.Join(c.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, "ID3fake", string(data))
}

func TestStoreEmpty(t *testing.T) {
	c := newCache(t)
	_, err := c.Store("x", nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestStoreConcurrentIdenticalText(t *testing.T) {
	c := newCache(t)
	audio := []byte("same bytes every time")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Store("same", audio)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(c.Dir(), FileName("same")))
	require.NoError(t, err)
	assert.Equal(t, audio, data)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"abc.mp3":              "abc.mp3",
		"../../etc/passwd":     "passwd",
		"..\\..\\windows\\x":   "x",
		"/absolute/path/a.mp3": "a.mp3",
		"..":                   "",
		".":                    "",
		"":                     "",
		"a/../b.mp3":           "b.mp3",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestOpen(t *testing.T) {
	c := newCache(t)
	name, err := c.Store("open me", []byte("audio"))
	require.NoError(t, err)

	f, info, err := c.Open(name)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), info.Size())

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
}

func TestOpenTraversal(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("nope"), 0o600))

	c, err := New(filepath.Join(root, "cache"), nil)
	require.NoError(t, err)

	_, _, err = c.Open("../secret.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = c.Open("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenDirectory(t *testing.T) {
	c := newCache(t)
	require.NoError(t, os.Mkdir(filepath.Join(c.Dir(), "sub"), 0o755))

	_, _, err := c.Open("sub")
	assert.ErrorIs(t, err, ErrNotFound)
}
