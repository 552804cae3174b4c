package rangereader

import (
	"errors"
	"fmt"
	"io"
)

var ErrInvalidRange = errors.New("invalid range")

// Length returns how many bytes a request for [start, end] may carry when a
// single chunk is capped at maxChunk bytes.
func Length(start, end int64, maxChunk int) int {
	if end < start || maxChunk <= 0 {
		return 0
	}
	// end-start+1 overflows for end near MaxInt64
	return int(min(end-start, int64(maxChunk)-1) + 1)
}

// Read seeks f to start and returns up to length bytes. The result is
// shorter than length at end of file and empty when start is at or past it.
func Read(f io.ReadSeeker, start int64, length int) ([]byte, error) {
	if start < 0 || length < 0 {
		return nil, fmt.Errorf("%w: start %d length %d", ErrInvalidRange, start, length)
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to %d: %w", start, err)
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("error reading %d bytes at %d: %w", length, start, err)
	}
	return buf[:n], nil
}
