package audioio

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV encodes interleaved PCM16 samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format: %d Hz, %d channels", sampleRate, channels)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	var buf memFile
	enc := wav.NewEncoder(&buf, sampleRate, 16, channels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish wav: %w", err)
	}
	return buf.data, nil
}

// EncodeChunks concatenates chunks and encodes them as WAV using the
// format of the first chunk.
func EncodeChunks(chunks []AudioChunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, errors.New("no audio chunks")
	}
	var samples []int16
	for _, c := range chunks {
		samples = append(samples, c.Samples...)
	}
	return EncodeWAV(samples, chunks[0].SampleRate, chunks[0].Channels)
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes when it closes.
type memFile struct {
	data []byte
	pos  int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = m.pos + offset
	case io.SeekEnd:
		pos = int64(len(m.data)) + offset
	default:
		return 0, errors.New("memfile: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("memfile: negative position")
	}
	m.pos = pos
	return pos, nil
}
