package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("file not found")

// File is an open, readable file of known length.
type File interface {
	io.ReadSeeker
	io.Closer
	Size() int64
}

type Store interface {
	Open(ctx context.Context, name string) (File, error)
}

// LocalStore serves files from disk. Names are resolved against Root, or
// the working directory when Root is empty. Names are not sandboxed.
type LocalStore struct {
	Root string
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 {
	return f.size
}

func (s LocalStore) Open(_ context.Context, name string) (File, error) {
	path := name
	if s.Root != "" {
		path = filepath.Join(s.Root, name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return &localFile{File: f, size: info.Size()}, nil
}
