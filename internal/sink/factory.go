package sink

import (
	"errors"
	"fmt"
	"log/slog"

	"cadenza.audio/internal/audio"
)

// Factory creates Sink instances based on configuration.
type Factory interface {
	CreateSink(sinkType string, format audio.Format) (Sink, error)
	GetSupportedSinks() []string
	IsValidSinkType(sinkType string) bool
}

// Factory errors.
var (
	ErrSinkCreationFailed = errors.New("sink creation failed")
)

// DefaultFactory implements Factory with platform detection. Constructors
// are injectable so tests can run without audio hardware.
type DefaultFactory struct {
	isWSLFunc func() bool
	newMalgo  func(audio.Format) (Sink, error)
	newOto    func(audio.Format) (Sink, error)
	newNull   func(audio.Format) (Sink, error)
}

// NewFactory creates a DefaultFactory with real platform detection and
// device constructors.
func NewFactory() *DefaultFactory {
	return &DefaultFactory{
		isWSLFunc: IsWSL,
		newMalgo:  func(f audio.Format) (Sink, error) { return NewMalgoSink(f) },
		newOto:    func(f audio.Format) (Sink, error) { return NewOtoSink(f) },
		newNull:   func(f audio.Format) (Sink, error) { return NewNullSink(f) },
	}
}

// NewFactoryWithDependencies creates a factory with injected dependencies
// for testing.
func NewFactoryWithDependencies(
	isWSLFunc func() bool,
	newMalgo, newOto, newNull func(audio.Format) (Sink, error),
) *DefaultFactory {
	return &DefaultFactory{
		isWSLFunc: isWSLFunc,
		newMalgo:  newMalgo,
		newOto:    newOto,
		newNull:   newNull,
	}
}

// CreateSink creates a Sink of the specified type at the given format.
func (f *DefaultFactory) CreateSink(sinkType string, format audio.Format) (Sink, error) {
	// Default empty string to "auto".
	if sinkType == "" {
		sinkType = "auto"
	}

	slog.Debug("creating audio sink", "type", sinkType, "format", format.String())

	switch sinkType {
	case "auto":
		return f.createAutoSink(format)
	case "malgo":
		return f.newMalgo(format)
	case "oto":
		return f.newOto(format)
	case "null":
		return f.newNull(format)
	default:
		slog.Error("invalid sink type requested", "type", sinkType)
		return nil, fmt.Errorf("%w: %s", ErrInvalidSinkType, sinkType)
	}
}

// GetSupportedSinks returns a list of all supported sink types.
func (f *DefaultFactory) GetSupportedSinks() []string {
	return []string{"auto", "malgo", "oto", "null"}
}

// IsValidSinkType checks if a sink type is supported.
func (f *DefaultFactory) IsValidSinkType(sinkType string) bool {
	// Empty string is valid (defaults to auto).
	if sinkType == "" {
		return true
	}

	for _, supported := range f.GetSupportedSinks() {
		if sinkType == supported {
			return true
		}
	}
	return false
}

// createAutoSink walks the preference order for the platform, falling back
// to the null sink so playback logic keeps running without a device.
func (f *DefaultFactory) createAutoSink(format audio.Format) (Sink, error) {
	order := f.preferenceOrder()
	slog.Debug("auto-detecting audio sink", "preference_order", order)

	var lastErr error
	for _, name := range order {
		var s Sink
		var err error
		switch name {
		case "malgo":
			s, err = f.newMalgo(format)
		case "oto":
			s, err = f.newOto(format)
		}
		if err == nil {
			slog.Info("audio sink auto-selected", "type", name, "format", format.String())
			return s, nil
		}
		slog.Warn("audio sink unavailable, trying next", "type", name, "error", err)
		lastErr = err
	}

	slog.Warn("no audio device available, using null sink", "last_error", lastErr)
	return f.newNull(format)
}

// preferenceOrder ranks device sinks for the current platform. WSL's ALSA
// translation makes miniaudio crackle, so oto goes first there.
func (f *DefaultFactory) preferenceOrder() []string {
	if f.isWSLFunc() {
		return []string{"oto", "malgo"}
	}
	return []string{"malgo", "oto"}
}
