package loudness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
)

func TestScanProducesReport(t *testing.T) {
	const rate = 44100
	fsys := silenceFixture(t, rate, rate*3, rate)
	registry := audio.NewDefaultRegistry()

	report, err := Scan(context.Background(), registry, fsys, nil, "/music/track.wav")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if report.Path != "/music/track.wav" {
		t.Errorf("path = %q", report.Path)
	}
	if report.SampleRate != rate {
		t.Errorf("sample rate = %d, want %d", report.SampleRate, rate)
	}
	if report.Duration != 4*time.Second {
		t.Errorf("duration = %v, want 4s", report.Duration)
	}

	// Mono 440 Hz at half scale is upmixed to identical channels, a sum
	// energy of 0.25, putting integrated loudness near -6.7 LUFS.
	if report.Integrated < -8 || report.Integrated > -4.5 {
		t.Errorf("integrated = %.2f LUFS, want about -6", report.Integrated)
	}
	if report.TruePeak < 0.49 || report.TruePeak > 0.52 {
		t.Errorf("true peak = %.4f, want about 0.5", report.TruePeak)
	}
	if report.SilenceStart < 2940*time.Millisecond || report.SilenceStart > 3060*time.Millisecond {
		t.Errorf("silence start = %v, want about 3s", report.SilenceStart)
	}
	if report.Range < 0 || report.Range > 3 {
		t.Errorf("range = %.2f LU for a steady tone with a silent tail", report.Range)
	}
	if report.AnalyzedAt.IsZero() {
		t.Error("analyzed-at timestamp not set")
	}
}

func TestScanCancelledReleasesDecoder(t *testing.T) {
	codec := newStallCodec()
	registry := audio.NewCodecRegistry()
	registry.Register(codec)

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/a.stall", []byte("xx"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	pool := audio.NewInstancePool(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := Scan(ctx, registry, fsys, pool, "/a.stall")
		errCh <- err
	}()

	<-codec.started
	cancel()
	close(codec.unblock)

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if pool.Available() != 1 {
		t.Errorf("pool has %d free instances after cancel, want 1", pool.Available())
	}
	if s := codec.lastStream(); s == nil || !s.Closed() {
		t.Error("stream not closed by the cancelled scan")
	}
}

func TestScanUnsupportedFileLeavesPoolFree(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/notes.txt", []byte("not audio at all"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	pool := audio.NewInstancePool(1)
	registry := audio.NewDefaultRegistry()

	_, err := Scan(context.Background(), registry, fsys, pool, "/notes.txt")
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if pool.Available() != 1 {
		t.Errorf("pool has %d free instances after a failed configure, want 1", pool.Available())
	}
}
