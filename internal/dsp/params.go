package dsp

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// EQBands is the number of equalizer bands.
const EQBands = 10

// eqCenterFreqs follows the ISO 266 preferred frequency series, one band
// per octave from 31.5 Hz to 16 kHz.
var eqCenterFreqs = [EQBands]float64{31.5, 63, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

const (
	// EQMaxGainDB bounds every equalizer band gain in both directions.
	EQMaxGainDB = 12.0

	// StrengthMax is the upper bound for bass boost and virtualizer
	// strength values.
	StrengthMax = 1000

	// NormalizationMaxDB bounds the loudness normalization gain in both
	// directions.
	NormalizationMaxDB = 24.0
)

// Reverb custom parameter bounds.
const (
	MinDecayTime   = 100 * time.Millisecond
	MaxDecayTime   = 20 * time.Second
	MaxReverbDelay = 100 * time.Millisecond
)

// ReverbPreset selects one of the built-in room models, or ReverbCustom to
// use the ReverbParams fields directly. The zero value disables reverb.
type ReverbPreset int

const (
	ReverbOff ReverbPreset = iota
	ReverbSmallRoom
	ReverbMediumRoom
	ReverbLargeRoom
	ReverbHall
	ReverbPlate
	ReverbCustom
)

func (p ReverbPreset) String() string {
	switch p {
	case ReverbOff:
		return "off"
	case ReverbSmallRoom:
		return "small-room"
	case ReverbMediumRoom:
		return "medium-room"
	case ReverbLargeRoom:
		return "large-room"
	case ReverbHall:
		return "hall"
	case ReverbPlate:
		return "plate"
	case ReverbCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseReverbPreset resolves a configuration name to a preset. Unknown
// names report false and ReverbOff.
func ParseReverbPreset(name string) (ReverbPreset, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "off", "none", "":
		return ReverbOff, true
	case "small-room", "small_room", "smallroom":
		return ReverbSmallRoom, true
	case "medium-room", "medium_room", "mediumroom":
		return ReverbMediumRoom, true
	case "large-room", "large_room", "largeroom":
		return ReverbLargeRoom, true
	case "hall":
		return ReverbHall, true
	case "plate":
		return ReverbPlate, true
	case "custom":
		return ReverbCustom, true
	default:
		return ReverbOff, false
	}
}

// ReverbParams describes a custom room. RoomLevel sets how much of the wet
// tail reaches the output, ReverbLevel how hard the input drives the room,
// DecayTime the RT60 of the tail, and ReverbDelay the onset delay before
// the tail starts.
type ReverbParams struct {
	RoomLevel   float64
	ReverbLevel float64
	DecayTime   time.Duration
	ReverbDelay time.Duration
}

// Params is one consistent set of effect settings. The zero value has
// every effect off. Chains read immutable snapshots published through a
// ParamStore, never a Params that is still being mutated.
type Params struct {
	EQEnabled bool
	EQGains   [EQBands]float64

	BassBoost   int
	Virtualizer int

	ReverbPreset ReverbPreset
	Reverb       ReverbParams

	NormalizationEnabled bool
	NormalizationGainDB  float64
}

// DefaultParams returns a parameter set with every effect off.
func DefaultParams() Params {
	return Params{}
}

// ClampNote records one out-of-range field that Clamp corrected, carrying
// both the value as given and the value actually applied.
type ClampNote struct {
	Field   string
	Given   float64
	Clamped float64
}

func (n ClampNote) String() string {
	return fmt.Sprintf("%s: %g clamped to %g", n.Field, n.Given, n.Clamped)
}

// Clamp forces every field into its documented range in place and reports
// what changed, so callers can surface bad values instead of absorbing
// them silently. NaN gains are treated as zero. Custom reverb fields are
// only checked when the preset is ReverbCustom; built-in presets ignore
// them entirely.
func (p *Params) Clamp() []ClampNote {
	var notes []ClampNote

	clampFloat := func(field string, v *float64, lo, hi float64) {
		given := *v
		switch {
		case math.IsNaN(given):
			*v = 0
		case given < lo:
			*v = lo
		case given > hi:
			*v = hi
		default:
			return
		}
		notes = append(notes, ClampNote{Field: field, Given: given, Clamped: *v})
	}
	clampInt := func(field string, v *int, lo, hi int) {
		given := *v
		switch {
		case given < lo:
			*v = lo
		case given > hi:
			*v = hi
		default:
			return
		}
		notes = append(notes, ClampNote{Field: field, Given: float64(given), Clamped: float64(*v)})
	}
	clampDuration := func(field string, v *time.Duration, lo, hi time.Duration) {
		given := *v
		switch {
		case given < lo:
			*v = lo
		case given > hi:
			*v = hi
		default:
			return
		}
		notes = append(notes, ClampNote{Field: field, Given: float64(given.Milliseconds()), Clamped: float64(v.Milliseconds())})
	}

	for i := range p.EQGains {
		clampFloat(fmt.Sprintf("eq_band_%d", i), &p.EQGains[i], -EQMaxGainDB, EQMaxGainDB)
	}
	clampInt("bass_boost", &p.BassBoost, 0, StrengthMax)
	clampInt("virtualizer", &p.Virtualizer, 0, StrengthMax)

	if p.ReverbPreset < ReverbOff || p.ReverbPreset > ReverbCustom {
		notes = append(notes, ClampNote{Field: "reverb_preset", Given: float64(p.ReverbPreset), Clamped: float64(ReverbOff)})
		p.ReverbPreset = ReverbOff
	}
	if p.ReverbPreset == ReverbCustom {
		clampFloat("reverb_room_level", &p.Reverb.RoomLevel, 0, 1)
		clampFloat("reverb_level", &p.Reverb.ReverbLevel, 0, 1)
		clampDuration("reverb_decay_ms", &p.Reverb.DecayTime, MinDecayTime, MaxDecayTime)
		clampDuration("reverb_delay_ms", &p.Reverb.ReverbDelay, 0, MaxReverbDelay)
	}

	clampFloat("normalization_gain_db", &p.NormalizationGainDB, -NormalizationMaxDB, NormalizationMaxDB)
	return notes
}

// ParamStore shares one Params snapshot between a single writer (the
// engine) and every live chain. Readers see either the old snapshot or the
// new one, never a torn mix, and a snapshot is never mutated after it is
// published.
type ParamStore struct {
	cur atomic.Pointer[Params]
}

// NewParamStore returns a store holding DefaultParams.
func NewParamStore() *ParamStore {
	s := &ParamStore{}
	p := DefaultParams()
	s.cur.Store(&p)
	return s
}

// Load returns the current snapshot. Callers must not mutate it.
func (s *ParamStore) Load() *Params {
	return s.cur.Load()
}

// Store clamps p and publishes it, returning a note for every field that
// was out of range.
func (s *ParamStore) Store(p Params) []ClampNote {
	notes := p.Clamp()
	for _, n := range notes {
		slog.Warn("effect parameter out of range",
			"field", n.Field,
			"given", n.Given,
			"clamped", n.Clamped)
	}
	s.cur.Store(&p)
	slog.Debug("effect parameters updated",
		"eq_enabled", p.EQEnabled,
		"bass_boost", p.BassBoost,
		"virtualizer", p.Virtualizer,
		"reverb_preset", p.ReverbPreset.String(),
		"normalization_enabled", p.NormalizationEnabled,
		"clamp_notes", len(notes))
	return notes
}
