package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// PlayerState is the persisted resume snapshot: the track that was playing,
// how far into it, and where it sat in the queue. It is written on shutdown
// and handed back to the engine on the next start.
type PlayerState struct {
	Path       string   `json:"path"`        // Track that was playing
	PositionMs int64    `json:"position_ms"` // Playback position in ms
	QueueIndex int      `json:"queue_index"` // Index of the track in the queue
	Queue      []string `json:"queue"`       // Queue contents at shutdown
}

const stateFilename = "state.json"

// LoadState reads the persisted player state from the XDG state directory.
// A missing file is not an error; it returns (nil, nil).
func (m *Manager) LoadState() (*PlayerState, error) {
	statePath := m.xdg.GetStatePath(stateFilename)

	slog.Debug("loading player state", "file_path", statePath)

	exists, err := afero.Exists(m.fsys, statePath)
	if err != nil {
		slog.Error("failed to check state file", "file_path", statePath, "error", err)
		return nil, fmt.Errorf("failed to check state file: %w", err)
	}
	if !exists {
		slog.Debug("no player state file found", "file_path", statePath)
		return nil, nil
	}

	data, err := afero.ReadFile(m.fsys, statePath)
	if err != nil {
		slog.Error("failed to read state file", "file_path", statePath, "error", err)
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state PlayerState
	err = json.Unmarshal(data, &state)
	if err != nil {
		slog.Error("failed to parse state JSON", "file_path", statePath, "error", err)
		return nil, fmt.Errorf("failed to parse state JSON: %w", err)
	}

	slog.Debug("player state loaded",
		"path", state.Path,
		"position_ms", state.PositionMs,
		"queue_index", state.QueueIndex,
		"queue_len", len(state.Queue))

	return &state, nil
}

// SaveState persists the player state to the XDG state directory
func (m *Manager) SaveState(state *PlayerState) error {
	statePath := m.xdg.GetStatePath(stateFilename)

	slog.Debug("saving player state",
		"file_path", statePath,
		"path", state.Path,
		"position_ms", state.PositionMs,
		"queue_index", state.QueueIndex)

	dir := filepath.Dir(statePath)
	err := m.fsys.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create state directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		slog.Error("failed to marshal player state", "error", err)
		return fmt.Errorf("failed to marshal player state: %w", err)
	}

	err = afero.WriteFile(m.fsys, statePath, data, 0644)
	if err != nil {
		slog.Error("failed to write state file", "file_path", statePath, "error", err)
		return fmt.Errorf("failed to write state file: %w", err)
	}

	slog.Debug("player state saved", "file_path", statePath)
	return nil
}

// ClearState removes the persisted player state. Clearing absent state is
// not an error.
func (m *Manager) ClearState() error {
	statePath := m.xdg.GetStatePath(stateFilename)

	slog.Debug("clearing player state", "file_path", statePath)

	exists, err := afero.Exists(m.fsys, statePath)
	if err != nil {
		return fmt.Errorf("failed to check state file: %w", err)
	}
	if !exists {
		return nil
	}

	err = m.fsys.Remove(statePath)
	if err != nil {
		slog.Error("failed to remove state file", "file_path", statePath, "error", err)
		return fmt.Errorf("failed to remove state file: %w", err)
	}

	slog.Debug("player state cleared", "file_path", statePath)
	return nil
}
