package rangereader

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestLength(t *testing.T) {
	tests := []struct {
		start, end int64
		max        int
		want       int
	}{
		{0, 0, 1000, 1},
		{0, 999, 1000, 1000},
		{0, 5000, 1000, 1000},
		{10, 19, 1000, 10},
		{20, 10, 1000, 0},
		{0, 10, 0, 0},
		{0, math.MaxInt64, 1000, 1000},
		{math.MaxInt64 - 1, math.MaxInt64, 1000, 2},
		{math.MaxInt64, math.MaxInt64, 1000, 1},
	}
	for _, tt := range tests {
		if got := Length(tt.start, tt.end, tt.max); got != tt.want {
			t.Errorf("Length(%d, %d, %d) = %d, want %d", tt.start, tt.end, tt.max, got, tt.want)
		}
	}
}

func TestRead(t *testing.T) {
	content := []byte("0123456789abcdefghij")
	path := filepath.Join(t.TempDir(), "sample.txt")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tests := []struct {
		name   string
		start  int64
		length int
		want   []byte
	}{
		{name: "head", start: 0, length: 5, want: content[:5]},
		{name: "middle", start: 7, length: 3, want: content[7:10]},
		{name: "crosses eof", start: 15, length: 10, want: content[15:]},
		{name: "at eof", start: int64(len(content)), length: 4, want: []byte{}},
		{name: "past eof", start: 100, length: 4, want: []byte{}},
		{name: "zero length", start: 3, length: 0, want: []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(f, tt.start, tt.length)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRead_RepeatedReadsAreIdentical(t *testing.T) {
	r := bytes.NewReader(bytes.Repeat([]byte("xyz"), 1000))
	first, err := Read(r, 500, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Read(r, 0, 10); err != nil {
		t.Fatal(err)
	}
	second, err := Read(r, 500, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("repeated read returned different bytes")
	}
}

func TestRead_InvalidRange(t *testing.T) {
	r := bytes.NewReader([]byte("abc"))
	if _, err := Read(r, -1, 2); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := Read(r, 0, -2); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

type failingReader struct{ io.Seeker }

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestRead_PropagatesReadErrors(t *testing.T) {
	f := failingReader{Seeker: bytes.NewReader(nil)}
	if _, err := Read(f, 0, 4); err == nil {
		t.Fatal("expected read error")
	}
}
