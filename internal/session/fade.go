package session

import (
	"math"
	"strings"
)

// FadeCurve selects the gain envelope shape used during crossfades.
type FadeCurve int

const (
	// CurveSmoothstep eases gain with t*t*(3-2t). The incoming and
	// outgoing gains always sum to one, so equal-loudness material moves
	// through a crossfade without a level dip or spike. This is the
	// default.
	CurveSmoothstep FadeCurve = iota

	// CurveLinear ramps gain proportionally to elapsed fade time.
	CurveLinear

	// CurveEqualPower holds combined signal power constant rather than
	// combined amplitude, which suits uncorrelated material.
	CurveEqualPower
)

func (c FadeCurve) String() string {
	switch c {
	case CurveSmoothstep:
		return "smoothstep"
	case CurveLinear:
		return "linear"
	case CurveEqualPower:
		return "equal_power"
	default:
		return "unknown"
	}
}

// ParseCurve resolves a configuration name to a curve. Unknown names
// report false and the default curve.
func ParseCurve(name string) (FadeCurve, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "smoothstep", "":
		return CurveSmoothstep, true
	case "linear":
		return CurveLinear, true
	case "equal_power", "equal-power", "equalpower":
		return CurveEqualPower, true
	default:
		return CurveSmoothstep, false
	}
}

// gains returns the incoming and outgoing gains at fade progress t,
// where t runs 0 to 1 over the fade window.
func (c FadeCurve) gains(t float64) (in, out float64) {
	if t <= 0 {
		return 0, 1
	}
	if t >= 1 {
		return 1, 0
	}
	switch c {
	case CurveLinear:
		return t, 1 - t
	case CurveEqualPower:
		return math.Sin(t * math.Pi / 2), math.Cos(t * math.Pi / 2)
	default:
		g := t * t * (3 - 2*t)
		return g, 1 - g
	}
}
