package dsp

import "fmt"

// BackendKind tags how equalization is realized for a chain.
type BackendKind int

const (
	// BackendSoftware runs the equalizer in-process on the PCM stream.
	BackendSoftware BackendKind = iota
	// BackendHardware delegates equalization to an equalizer stage on the
	// output device itself; the chain then skips its software bands.
	BackendHardware
)

// Backend reports which equalizer implementation a chain resolved when it
// was built. Hardware backends carry the device's band count so callers
// can display the active mode instead of guessing.
type Backend struct {
	Kind  BackendKind
	Bands int
}

func (b Backend) String() string {
	if b.Kind == BackendHardware {
		return fmt.Sprintf("hardware/%d-band", b.Bands)
	}
	return "software"
}

// HardwareEqualizer is implemented by sinks whose device exposes its own
// equalizer stage. Sinks without one resolve to the software fallback.
type HardwareEqualizer interface {
	EQBandCount() int
}

// ResolveBackend probes sink for a device-side equalizer. The resolution
// happens once, at chain construction; a device reporting zero bands is
// treated the same as no device equalizer at all.
func ResolveBackend(sink any) Backend {
	if hw, ok := sink.(HardwareEqualizer); ok {
		if n := hw.EQBandCount(); n > 0 {
			return Backend{Kind: BackendHardware, Bands: n}
		}
	}
	return Backend{Kind: BackendSoftware}
}
