package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// Source provides seekable access to encoded audio bytes. Decoders own the
// source they are opened with and close it on Close.
type Source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer

	// Name identifies the source for format detection and logging,
	// typically a file path.
	Name() string

	// Size returns the encoded byte length, or 0 when unknown.
	Size() int64
}

// FileSource reads encoded audio from a filesystem path.
type FileSource struct {
	file afero.File
	path string
	size int64
}

// OpenFileSource opens path on the given filesystem for decoding.
func OpenFileSource(fsys afero.Fs, path string) (*FileSource, error) {
	slog.Debug("opening audio file source", "path", path)

	file, err := fsys.Open(path)
	if err != nil {
		slog.Error("failed to open audio file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}

	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	} else {
		slog.Warn("could not stat audio file, size unknown", "path", path, "error", err)
	}

	slog.Debug("audio file source opened", "path", path, "size_bytes", size)

	return &FileSource{
		file: file,
		path: path,
		size: size,
	}, nil
}

func (s *FileSource) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *FileSource) Seek(offset int64, whence int) (int64, error) {
	return s.file.Seek(offset, whence)
}

func (s *FileSource) Close() error {
	slog.Debug("closing audio file source", "path", s.path)
	return s.file.Close()
}

func (s *FileSource) Name() string {
	return s.path
}

func (s *FileSource) Size() int64 {
	return s.size
}

// MemorySource serves encoded audio from an in-memory buffer. Used by tests
// and anywhere the encoded bytes are already resident.
type MemorySource struct {
	reader *bytes.Reader
	name   string
}

// NewMemorySource wraps data as a Source. The name stands in for a file path
// during format detection.
func NewMemorySource(name string, data []byte) *MemorySource {
	return &MemorySource{
		reader: bytes.NewReader(data),
		name:   name,
	}
}

func (s *MemorySource) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *MemorySource) ReadAt(p []byte, off int64) (int, error) {
	return s.reader.ReadAt(p, off)
}

func (s *MemorySource) Seek(offset int64, whence int) (int64, error) {
	return s.reader.Seek(offset, whence)
}

func (s *MemorySource) Close() error {
	return nil
}

func (s *MemorySource) Name() string {
	return s.name
}

func (s *MemorySource) Size() int64 {
	return s.reader.Size()
}
