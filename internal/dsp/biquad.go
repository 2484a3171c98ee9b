package dsp

import "math"

// biquad is a second-order IIR section in direct form I with independent
// filter state per stereo channel. Coefficient formulas follow the Audio
// EQ Cookbook; callers recompute coefficients only when a setting changes,
// never per sample.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     [2]float64
}

// setPeaking configures the section as a peaking filter centered on freq.
// gainDB is the boost or cut at the center; q controls the bandwidth.
func (f *biquad) setPeaking(sampleRate, freq, q, gainDB float64) {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := 1 + alpha*a
	b1 := -2 * cosw0
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosw0
	a2 := 1 - alpha/a
	f.setCoeffs(b0, b1, b2, a0, a1, a2)
}

// setLowShelf configures the section as a low shelf with corner frequency
// freq, boosting or cutting everything below it by gainDB.
func (f *biquad) setLowShelf(sampleRate, freq, q, gainDB float64) {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	k := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) - (a-1)*cosw0 + k)
	b1 := 2 * a * ((a - 1) - (a+1)*cosw0)
	b2 := a * ((a + 1) - (a-1)*cosw0 - k)
	a0 := (a + 1) + (a-1)*cosw0 + k
	a1 := -2 * ((a - 1) + (a+1)*cosw0)
	a2 := (a + 1) + (a-1)*cosw0 - k
	f.setCoeffs(b0, b1, b2, a0, a1, a2)
}

func (f *biquad) setCoeffs(b0, b1, b2, a0, a1, a2 float64) {
	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0
}

// reset clears filter state without touching coefficients.
func (f *biquad) reset() {
	f.x1 = [2]float64{}
	f.x2 = [2]float64{}
	f.y1 = [2]float64{}
	f.y2 = [2]float64{}
}

// process filters stereo interleaved samples in place.
func (f *biquad) process(samples []float32) {
	for i := 0; i+1 < len(samples); i += 2 {
		samples[i] = float32(f.tick(float64(samples[i]), 0))
		samples[i+1] = float32(f.tick(float64(samples[i+1]), 1))
	}
}

func (f *biquad) tick(x float64, ch int) float64 {
	y := f.b0*x + f.b1*f.x1[ch] + f.b2*f.x2[ch] - f.a1*f.y1[ch] - f.a2*f.y2[ch]
	f.x2[ch] = f.x1[ch]
	f.x1[ch] = x
	f.y2[ch] = f.y1[ch]
	f.y1[ch] = y
	return y
}
