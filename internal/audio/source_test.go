package audio

import (
	"io"
	"testing"

	"github.com/spf13/afero"
)

func TestOpenFileSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	content := []byte("encoded audio bytes")
	if err := afero.WriteFile(fsys, "/music/track.wav", content, 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	src, err := OpenFileSource(fsys, "/music/track.wav")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer src.Close()

	if src.Name() != "/music/track.wav" {
		t.Errorf("name = %q, want path", src.Name())
	}
	if src.Size() != int64(len(content)) {
		t.Errorf("size = %d, want %d", src.Size(), len(content))
	}

	got, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("read %q, want %q", got, content)
	}

	// Seek back and reread.
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	var head [7]byte
	if _, err := io.ReadFull(src, head[:]); err != nil {
		t.Fatalf("read after seek failed: %v", err)
	}
	if string(head[:]) != "encoded" {
		t.Errorf("read after seek = %q, want %q", head[:], "encoded")
	}
}

func TestOpenFileSourceMissing(t *testing.T) {
	fsys := afero.NewMemMapFs()

	if _, err := OpenFileSource(fsys, "/nope.wav"); err == nil {
		t.Error("expected error opening missing file")
	}
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource("inline.wav", []byte{1, 2, 3, 4})

	if src.Name() != "inline.wav" {
		t.Errorf("name = %q", src.Name())
	}
	if src.Size() != 4 {
		t.Errorf("size = %d, want 4", src.Size())
	}
	if err := src.Close(); err != nil {
		t.Errorf("close returned %v", err)
	}
}
