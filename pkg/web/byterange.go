package web

import (
	"errors"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
)

var (
	// ErrInvalidRange is returned for Range headers that cannot be parsed.
	ErrInvalidRange = errors.New("web: invalid range")

	// ErrUnsatisfiableRange is returned when the range lies outside the file.
	ErrUnsatisfiableRange = errors.New("web: range not satisfiable")
)

// ByteRange is an inclusive byte range.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value.
func (r ByteRange) ContentRange(size int64) string {
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End, 10) + "/" + strconv.FormatInt(size, 10)
}

// ParseRange parses a single-range "bytes=" header against a file of size bytes.
// Supported forms are "a-b", "a-" and "-n" (the last n bytes). An end past the
// file is clamped. Multiple ranges are rejected as invalid.
func ParseRange(header string, size int64) (ByteRange, error) {
	spec := strings.TrimSpace(header)
	if strings.Contains(spec, ",") {
		return ByteRange{}, ErrInvalidRange
	}
	start, end, err := fasthttp.ParseByteRange([]byte(spec), int(size))
	if err != nil {
		if startsPastEnd(spec, size) {
			return ByteRange{}, ErrUnsatisfiableRange
		}
		return ByteRange{}, ErrInvalidRange
	}
	// "-0", or any suffix against an empty file.
	if start > end {
		return ByteRange{}, ErrUnsatisfiableRange
	}
	return ByteRange{Start: int64(start), End: int64(end)}, nil
}

// startsPastEnd reports whether spec is a "bytes=a-" form with a >= size.
func startsPastEnd(spec string, size int64) bool {
	rng, ok := strings.CutPrefix(spec, "bytes=")
	if !ok {
		return false
	}
	first, _, ok := strings.Cut(rng, "-")
	if !ok || first == "" {
		return false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	return err == nil && start >= size
}
