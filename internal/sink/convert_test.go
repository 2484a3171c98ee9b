package sink

import "testing"

func TestClampS16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1.0, 32767},
		{"full negative", -1.0, -32767},
		{"half", 0.5, 16383},
		{"over range clamps high", 1.5, 32767},
		{"over range clamps low", -1.5, -32768},
		{"way over", 100, 32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampS16(tt.in); got != tt.want {
				t.Errorf("clampS16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestConvertS16LE(t *testing.T) {
	samples := []float32{0, 0.5, -1.0, 1.0}
	out := make([]byte, len(samples)*2)
	convertS16LE(samples, out)

	read := func(i int) int16 {
		return int16(uint16(out[i*2]) | uint16(out[i*2+1])<<8)
	}

	if v := read(0); v != 0 {
		t.Errorf("sample 0 = %d, want 0", v)
	}
	if v := read(1); v != 16383 {
		t.Errorf("sample 1 = %d, want 16383", v)
	}
	if v := read(2); v != -32767 {
		t.Errorf("sample 2 = %d, want -32767", v)
	}
	if v := read(3); v != 32767 {
		t.Errorf("sample 3 = %d, want 32767", v)
	}
}
