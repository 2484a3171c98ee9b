// Package config loads, validates, and persists the player configuration
// document. Files are discovered through XDG base directories and read
// through an afero filesystem so tests run against memory.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/analyze"
	"cadenza.audio/internal/dsp"
	"cadenza.audio/internal/session"
)

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// EffectsConfig is the persisted slice of the effect parameters. The
// normalization gain itself is engine-computed and never stored.
type EffectsConfig struct {
	EQEnabled            bool      `json:"eq_enabled"`            // Whether the equalizer runs
	EQGainsDB            []float64 `json:"eq_gains_db"`           // Per-band gain in dB, low to high band
	BassBoost            int       `json:"bass_boost"`            // Bass boost strength (0 to 1000)
	Virtualizer          int       `json:"virtualizer"`           // Virtualizer strength (0 to 1000)
	ReverbPreset         string    `json:"reverb_preset"`         // Reverb room name (off, hall, plate, ...)
	NormalizationEnabled bool      `json:"normalization_enabled"` // Whether loudness normalization runs
}

// AnalysisConfig configures the spectral analyzer
type AnalysisConfig struct {
	Enabled    bool    `json:"enabled"`     // Whether analysis starts enabled
	Bands      int     `json:"bands"`       // Spectrum band count (0 = default)
	IntervalMs int     `json:"interval_ms"` // Emit cadence in ms (0 = default)
	Smoothing  float64 `json:"smoothing"`   // Exponential smoothing coefficient (0 = default)
}

// LoudnessConfig configures loudness analysis and normalization
type LoudnessConfig struct {
	TargetLUFS         float64 `json:"target_lufs"`          // Normalization target
	CacheEnabled       bool    `json:"cache_enabled"`        // Whether reports are cached on disk
	CachePath          string  `json:"cache_path"`           // Report cache path (empty = XDG cache path)
	SilenceThresholdDB float64 `json:"silence_threshold_db"` // Trailing-silence RMS threshold
	SilenceWindowMs    int     `json:"silence_window_ms"`    // Tail window inspected for silence
}

// Config represents the whole Cadenza configuration document
type Config struct {
	Volume         float64            `json:"volume"`                 // Master volume (0.0 to 1.0)
	AudioBackend   string             `json:"audio_backend"`          // Output backend (auto, malgo, oto, null)
	CrossfadeMs    int                `json:"crossfade_ms"`           // Crossfade length in ms (0 = gapless)
	SmartCrossfade bool               `json:"smart_crossfade"`        // Start fades at detected trailing silence
	CrossfadeCurve string             `json:"crossfade_curve"`        // Fade shape (smoothstep, linear, equal_power)
	LogLevel       string             `json:"log_level"`              // Log level (debug, info, warn, error)
	Effects        *EffectsConfig     `json:"effects,omitempty"`      // Effect chain settings
	Analysis       *AnalysisConfig    `json:"analysis,omitempty"`     // Spectral analyzer settings
	Loudness       *LoudnessConfig    `json:"loudness,omitempty"`     // Loudness analysis settings
	FileLogging    *FileLoggingConfig `json:"file_logging,omitempty"` // File logging configuration
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	GetStatePath(filename string) string
	CreateCacheDir(purpose string) error
	CreateStateDir() error
}

// Manager handles loading, saving, and validating configuration
type Manager struct {
	fsys afero.Fs
	xdg  XDGInterface
}

// NewManager creates a configuration manager over the OS filesystem
func NewManager() *Manager {
	slog.Debug("creating new config manager")
	return &Manager{
		fsys: afero.NewOsFs(),
		xdg:  NewXDGDirs(),
	}
}

// NewManagerWithFilesystem creates a configuration manager over the given
// filesystem, for tests
func NewManagerWithFilesystem(fsys afero.Fs) *Manager {
	slog.Debug("creating config manager with injected filesystem")
	return &Manager{
		fsys: fsys,
		xdg:  NewXDGDirs(),
	}
}

// GetDefaultConfig returns the default configuration
func (m *Manager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		Volume:         1.0,
		AudioBackend:   "auto",
		CrossfadeMs:    0,
		SmartCrossfade: false,
		CrossfadeCurve: "smoothstep",
		LogLevel:       "warn",
		Effects: &EffectsConfig{
			EQGainsDB:    make([]float64, dsp.EQBands),
			ReverbPreset: "off",
		},
		Analysis: &AnalysisConfig{
			Enabled:    false,
			Bands:      analyze.DefaultBands,
			IntervalMs: int(analyze.DefaultInterval.Milliseconds()),
			Smoothing:  analyze.DefaultSmoothing,
		},
		Loudness: &LoudnessConfig{
			TargetLUFS:         -14.0,
			CacheEnabled:       true,
			CachePath:          "",
			SilenceThresholdDB: -60.0,
			SilenceWindowMs:    10000,
		},
		FileLogging: &FileLoggingConfig{
			Enabled:    true,
			Filename:   "",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}

	slog.Debug("generated default config",
		"volume", defaultConfig.Volume,
		"audio_backend", defaultConfig.AudioBackend,
		"crossfade_ms", defaultConfig.CrossfadeMs,
		"log_level", defaultConfig.LogLevel,
		"file_logging_enabled", defaultConfig.FileLogging.Enabled)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file
func (m *Manager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := afero.ReadFile(m.fsys, filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = json.Unmarshal(data, &config)
	if err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	err = m.ValidateConfig(&config)
	if err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"volume", config.Volume,
		"audio_backend", config.AudioBackend,
		"crossfade_ms", config.CrossfadeMs)

	return &config, nil
}

// SaveToFile saves configuration to a specific file
func (m *Manager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	err := m.ValidateConfig(config)
	if err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	err = m.fsys.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal with indentation for readability
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = afero.WriteFile(m.fsys, filePath, data, 0644)
	if err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// ConfigSearchPaths returns every location LoadConfig considers, in
// precedence order. The first entry is the user-writable one.
func (m *Manager) ConfigSearchPaths() []string {
	return m.xdg.GetConfigPaths("config.json")
}

// LoadConfig loads configuration using XDG path discovery
func (m *Manager) LoadConfig() (*Config, error) {
	slog.Debug("loading config using XDG path discovery")

	configPaths := m.xdg.GetConfigPaths("config.json")

	slog.Debug("searching for config file", "paths", configPaths)

	for i, configPath := range configPaths {
		exists, err := afero.Exists(m.fsys, configPath)
		if err != nil {
			slog.Debug("config path check failed", "path_index", i, "path", configPath, "error", err)
			continue
		}
		if exists {
			slog.Debug("found config file", "path", configPath)
			return m.LoadFromFile(configPath)
		}
		slog.Debug("config file not found", "path_index", i, "path", configPath)
	}

	slog.Debug("no config file found, using defaults")
	return m.GetDefaultConfig(), nil
}

// ValidateConfig validates configuration values
func (m *Manager) ValidateConfig(config *Config) error {
	var errors []string

	if config.Volume < 0.0 || config.Volume > 1.0 {
		errors = append(errors, fmt.Sprintf("volume must be between 0.0 and 1.0, got %f", config.Volume))
	}

	if !m.IsValidAudioBackend(config.AudioBackend) {
		supportedBackends := m.GetSupportedAudioBackends()
		errors = append(errors, fmt.Sprintf("invalid audio backend '%s', must be one of: %s",
			config.AudioBackend, strings.Join(supportedBackends, ", ")))
	}

	if config.CrossfadeMs < 0 {
		errors = append(errors, fmt.Sprintf("crossfade_ms must be >= 0, got %d", config.CrossfadeMs))
	}

	if _, ok := session.ParseCurve(config.CrossfadeCurve); !ok {
		errors = append(errors, fmt.Sprintf("unknown crossfade curve '%s', must be one of: smoothstep, linear, equal_power",
			config.CrossfadeCurve))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if config.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
				config.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	// Structural checks only; out-of-range effect values are clamped at
	// apply time with surfaced notes, the same as runtime changes.
	if config.Effects != nil {
		if len(config.Effects.EQGainsDB) > dsp.EQBands {
			errors = append(errors, fmt.Sprintf("eq_gains_db has %d entries, at most %d supported",
				len(config.Effects.EQGainsDB), dsp.EQBands))
		}
		if _, ok := dsp.ParseReverbPreset(config.Effects.ReverbPreset); !ok {
			errors = append(errors, fmt.Sprintf("unknown reverb preset '%s'", config.Effects.ReverbPreset))
		}
	}

	if config.Analysis != nil {
		if config.Analysis.Bands < 0 {
			errors = append(errors, fmt.Sprintf("analysis bands must be >= 0, got %d", config.Analysis.Bands))
		}
		if config.Analysis.IntervalMs < 0 {
			errors = append(errors, fmt.Sprintf("analysis interval_ms must be >= 0, got %d", config.Analysis.IntervalMs))
		}
		if config.Analysis.Smoothing < 0 || config.Analysis.Smoothing >= 1.0 {
			errors = append(errors, fmt.Sprintf("analysis smoothing must be in [0, 1), got %f", config.Analysis.Smoothing))
		}
	}

	if config.Loudness != nil {
		if config.Loudness.TargetLUFS > 0 || config.Loudness.TargetLUFS < -70 {
			errors = append(errors, fmt.Sprintf("loudness target_lufs must be between -70 and 0, got %f", config.Loudness.TargetLUFS))
		}
		if config.Loudness.SilenceWindowMs < 0 {
			errors = append(errors, fmt.Sprintf("loudness silence_window_ms must be >= 0, got %d", config.Loudness.SilenceWindowMs))
		}
	}

	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}

		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}

		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence
func (m *Manager) MergeConfigs(base, override *Config) *Config {
	slog.Debug("merging configurations")

	// Start with a copy of base
	merged := *base

	// Apply overrides (only non-zero values; a volume of exactly 0 reads
	// as unset, mute is expressed at runtime)
	if override.Volume != 0.0 {
		merged.Volume = override.Volume
		slog.Debug("merged volume override", "value", override.Volume)
	}

	if override.AudioBackend != "" {
		merged.AudioBackend = override.AudioBackend
		slog.Debug("merged audio backend override", "value", override.AudioBackend)
	}

	if override.CrossfadeMs != 0 {
		merged.CrossfadeMs = override.CrossfadeMs
		slog.Debug("merged crossfade override", "value_ms", override.CrossfadeMs)
	}

	if override.CrossfadeCurve != "" {
		merged.CrossfadeCurve = override.CrossfadeCurve
		slog.Debug("merged crossfade curve override", "value", override.CrossfadeCurve)
	}

	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
		slog.Debug("merged log level override", "value", override.LogLevel)
	}

	// Note: SmartCrossfade is a bool, so we need special handling
	// In JSON, explicit false would override true from base
	// This is handled naturally by the struct unmarshaling

	// Section pointers replace the whole section when present
	if override.Effects != nil {
		merged.Effects = override.Effects
	}
	if override.Analysis != nil {
		merged.Analysis = override.Analysis
	}
	if override.Loudness != nil {
		merged.Loudness = override.Loudness
	}
	if override.FileLogging != nil {
		merged.FileLogging = override.FileLogging
	}

	slog.Debug("configurations merged successfully")
	return &merged
}

// ApplyEnvironmentOverrides applies environment variable overrides to config
func (m *Manager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	// Create a copy to modify
	result := *config

	// CADENZA_VOLUME
	if volStr := os.Getenv("CADENZA_VOLUME"); volStr != "" {
		if vol, err := strconv.ParseFloat(volStr, 64); err == nil {
			result.Volume = vol
			slog.Debug("applied volume override from environment", "value", vol)
		} else {
			slog.Warn("invalid CADENZA_VOLUME environment variable", "value", volStr, "error", err)
		}
	}

	// CADENZA_BACKEND
	if backend := os.Getenv("CADENZA_BACKEND"); backend != "" {
		if m.IsValidAudioBackend(backend) {
			result.AudioBackend = backend
			slog.Debug("applied audio backend override from environment", "value", backend)
		} else {
			slog.Warn("invalid CADENZA_BACKEND environment variable", "value", backend)
		}
	}

	// CADENZA_CROSSFADE_MS
	if cfStr := os.Getenv("CADENZA_CROSSFADE_MS"); cfStr != "" {
		if ms, err := strconv.Atoi(cfStr); err == nil && ms >= 0 {
			result.CrossfadeMs = ms
			slog.Debug("applied crossfade override from environment", "value_ms", ms)
		} else {
			slog.Warn("invalid CADENZA_CROSSFADE_MS environment variable", "value", cfStr, "error", err)
		}
	}

	// CADENZA_SMART_CROSSFADE
	if smartStr := os.Getenv("CADENZA_SMART_CROSSFADE"); smartStr != "" {
		if smart, err := strconv.ParseBool(smartStr); err == nil {
			result.SmartCrossfade = smart
			slog.Debug("applied smart crossfade override from environment", "value", smart)
		} else {
			slog.Warn("invalid CADENZA_SMART_CROSSFADE environment variable", "value", smartStr, "error", err)
		}
	}

	// CADENZA_LOG_LEVEL
	if logLevel := os.Getenv("CADENZA_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	// CADENZA_TARGET_LUFS
	if lufsStr := os.Getenv("CADENZA_TARGET_LUFS"); lufsStr != "" {
		if lufs, err := strconv.ParseFloat(lufsStr, 64); err == nil {
			if result.Loudness == nil {
				result.Loudness = m.GetDefaultConfig().Loudness
			}
			loudness := *result.Loudness
			loudness.TargetLUFS = lufs
			result.Loudness = &loudness
			slog.Debug("applied loudness target override from environment", "value", lufs)
		} else {
			slog.Warn("invalid CADENZA_TARGET_LUFS environment variable", "value", lufsStr, "error", err)
		}
	}

	slog.Debug("environment overrides applied")
	return &result
}

// ApplyLogLevel configures slog with the specified log level
func (m *Manager) ApplyLogLevel(logLevel string) error {
	return m.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with the specified log level and
// custom writer
func (m *Manager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	slog.Debug("applying log level configuration", "log_level", logLevel)

	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		err := fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", logLevel)
		slog.Error("invalid log level for slog configuration", "log_level", logLevel, "error", err)
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured successfully", "log_level", logLevel, "slog_level", level)
	return nil
}

// ResolveLogFilePath resolves the log file path using the XDG cache
// directory when filename is empty
func (m *Manager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}

	return filepath.Join(m.xdg.GetCachePath("logs"), "cadenza.log")
}

// ResolveLoudnessCachePath resolves the loudness report cache path using
// the XDG cache directory when the configured path is empty. An empty
// return means caching is disabled.
func (m *Manager) ResolveLoudnessCachePath(config *Config) string {
	if config.Loudness == nil || !config.Loudness.CacheEnabled {
		return ""
	}
	if config.Loudness.CachePath != "" {
		return config.Loudness.CachePath
	}
	return filepath.Join(m.xdg.GetCachePath(""), "loudness.db")
}

// GetSupportedAudioBackends returns a list of all supported audio backend types
func (m *Manager) GetSupportedAudioBackends() []string {
	return []string{"auto", "malgo", "oto", "null"}
}

// IsValidAudioBackend checks if an audio backend type is supported
func (m *Manager) IsValidAudioBackend(backend string) bool {
	// Empty string is valid (defaults to auto)
	if backend == "" {
		return true
	}

	supported := m.GetSupportedAudioBackends()
	for _, supportedBackend := range supported {
		if backend == supportedBackend {
			return true
		}
	}
	return false
}

// CrossfadeDuration returns the configured crossfade length
func (c *Config) CrossfadeDuration() time.Duration {
	return time.Duration(c.CrossfadeMs) * time.Millisecond
}

// Curve resolves the configured crossfade curve name
func (c *Config) Curve() session.FadeCurve {
	curve, _ := session.ParseCurve(c.CrossfadeCurve)
	return curve
}

// EffectParams converts the effects section to a runtime parameter set.
// Values outside the documented ranges are clamped when the set is
// applied, not here.
func (c *Config) EffectParams() dsp.Params {
	var p dsp.Params
	if c.Effects == nil {
		return p
	}
	p.EQEnabled = c.Effects.EQEnabled
	for i, g := range c.Effects.EQGainsDB {
		if i >= dsp.EQBands {
			break
		}
		p.EQGains[i] = g
	}
	p.BassBoost = c.Effects.BassBoost
	p.Virtualizer = c.Effects.Virtualizer
	p.ReverbPreset, _ = dsp.ParseReverbPreset(c.Effects.ReverbPreset)
	p.NormalizationEnabled = c.Effects.NormalizationEnabled
	return p
}

// AnalyzerConfig converts the analysis section to the analyzer's config.
// The sample rate is left zero for the engine to fill from the sink.
func (c *Config) AnalyzerConfig() analyze.Config {
	var cfg analyze.Config
	if c.Analysis == nil {
		return cfg
	}
	cfg.Bands = c.Analysis.Bands
	cfg.Interval = time.Duration(c.Analysis.IntervalMs) * time.Millisecond
	cfg.Smoothing = c.Analysis.Smoothing
	return cfg
}

// SilenceWindow returns the configured trailing-silence window
func (c *Config) SilenceWindow() time.Duration {
	if c.Loudness == nil {
		return 0
	}
	return time.Duration(c.Loudness.SilenceWindowMs) * time.Millisecond
}
