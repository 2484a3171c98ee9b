package config

import (
	"testing"

	"github.com/spf13/afero"
)

func TestSaveAndLoadState(t *testing.T) {
	mgr := newTestManager()

	state := &PlayerState{
		Path:       "/music/album/03 - song.flac",
		PositionMs: 83500,
		QueueIndex: 2,
		Queue: []string{
			"/music/album/01 - intro.flac",
			"/music/album/02 - verse.flac",
			"/music/album/03 - song.flac",
		},
	}

	err := mgr.SaveState(state)
	if err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}

	loaded, err := mgr.LoadState()
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected saved state, got nil")
	}

	if loaded.Path != state.Path {
		t.Errorf("Expected path %s, got %s", state.Path, loaded.Path)
	}
	if loaded.PositionMs != state.PositionMs {
		t.Errorf("Expected position %dms, got %dms", state.PositionMs, loaded.PositionMs)
	}
	if loaded.QueueIndex != state.QueueIndex {
		t.Errorf("Expected queue index %d, got %d", state.QueueIndex, loaded.QueueIndex)
	}
	if len(loaded.Queue) != len(state.Queue) {
		t.Fatalf("Expected %d queue entries, got %d", len(state.Queue), len(loaded.Queue))
	}
	for i, path := range state.Queue {
		if loaded.Queue[i] != path {
			t.Errorf("Expected queue[%d] = %s, got %s", i, path, loaded.Queue[i])
		}
	}

	t.Logf("State roundtrip: %+v", loaded)
}

func TestLoadStateMissing(t *testing.T) {
	mgr := newTestManager()

	state, err := mgr.LoadState()
	if err != nil {
		t.Fatalf("LoadState() on missing file failed: %v", err)
	}
	if state != nil {
		t.Errorf("Expected nil state when no file exists, got %+v", state)
	}
}

func TestLoadStateCorrupt(t *testing.T) {
	mgr := newTestManager()

	statePath := mgr.xdg.GetStatePath("state.json")
	err := afero.WriteFile(mgr.fsys, statePath, []byte("{broken"), 0644)
	if err != nil {
		t.Fatalf("Failed to write corrupt state: %v", err)
	}

	_, err = mgr.LoadState()
	if err == nil {
		t.Error("Expected error for corrupt state file")
	}
}

func TestClearState(t *testing.T) {
	mgr := newTestManager()

	// Clearing absent state is fine
	if err := mgr.ClearState(); err != nil {
		t.Errorf("ClearState() on missing file failed: %v", err)
	}

	err := mgr.SaveState(&PlayerState{Path: "/music/a.mp3", PositionMs: 1000})
	if err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}

	if err := mgr.ClearState(); err != nil {
		t.Fatalf("ClearState() failed: %v", err)
	}

	state, err := mgr.LoadState()
	if err != nil {
		t.Fatalf("LoadState() after clear failed: %v", err)
	}
	if state != nil {
		t.Errorf("Expected nil state after clear, got %+v", state)
	}
}
