package audioio

import (
	"context"
	"io"
)

// Sink plays PCM16 audio to a speaker.
type Sink interface {
	// Start prepares the output.
	Start(ctx context.Context) error

	// Stop halts playback. It is safe to call Stop multiple times.
	Stop() error

	// Write queues a chunk for playback. It may block while the
	// device drains.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush waits until everything written so far has played.
	Flush(ctx context.Context) error

	// Clear drops queued audio immediately.
	Clear() error

	Config() Config
	Name() string
	io.Closer
}

// SinkStats contains playback counters.
type SinkStats struct {
	ChunksWritten  int64  `json:"chunks_written"`
	SamplesWritten int64  `json:"samples_written"`
	Clears         int64  `json:"clears"`
	Running        bool   `json:"running"`
	Backend        string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
