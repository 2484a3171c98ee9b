package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/cobra"

	"cadenza.audio/internal/loudness"
)

// newScanCommand creates the scan subcommand: batch loudness analysis
// over files and directories without opening an audio device.
func newScanCommand() *cobra.Command {
	var jsonOutput bool
	var workers int
	var noCache bool

	cmd := &cobra.Command{
		Use:   "scan [files or directories...]",
		Short: "Measure loudness of audio files",
		Long: `Scan decodes each file end to end and reports its integrated
loudness, loudness range, true peak, and where trailing silence begins.
Reports are cached keyed on file size and modification time, so scanning
unchanged files again is instant.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args, jsonOutput, workers, noCache)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit results as a JSON array")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel analysis workers (0 = default)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Reanalyze every file, bypassing the report cache")

	return cmd
}

// runScan implements the scan command logic
func runScan(cmd *cobra.Command, args []string, jsonOutput bool, workers int, noCache bool) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return fmt.Errorf("CLI instance not found in context")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	cli.setupLogging(cfg, cmd.ErrOrStderr())

	tracks, err := cli.collectTracks(args)
	if err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		return err
	}
	if len(tracks) == 0 {
		cmd.PrintErrln("No supported audio files found.")
		return nil
	}

	var store *loudness.Store
	if !noCache {
		store = cli.openLoudnessStore(cfg)
	}
	runner := loudness.NewRunner(newCodecRegistry(), cli.fsys, store, workers)

	slog.Info("starting loudness scan", "files", len(tracks), "workers", workers)
	start := time.Now()
	results := runner.AnalyzeBatch(cmd.Context(), tracks)
	elapsed := time.Since(start)

	if jsonOutput {
		if err := writeScanJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		writeScanText(cmd.OutOrStdout(), results, elapsed)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to analyze", failed, len(results))
	}
	return nil
}

// scanResult is the JSON shape for one analyzed file. Durations are
// surfaced in milliseconds and the true peak in dBTP, matching what the
// text output shows. Measurements stay present even at zero; a failed
// file is recognized by its non-empty error field.
type scanResult struct {
	Path           string  `json:"path"`
	Error          string  `json:"error,omitempty"`
	IntegratedLUFS float64 `json:"integrated_lufs"`
	RangeLU        float64 `json:"range_lu"`
	TruePeakDBTP   float64 `json:"true_peak_dbtp"`
	SilenceStartMs int64   `json:"silence_start_ms"`
	DurationMs     int64   `json:"duration_ms"`
	SampleRate     int     `json:"sample_rate"`
}

// writeScanJSON emits the batch as an indented JSON array
func writeScanJSON(w io.Writer, results []loudness.BatchResult) error {
	out := make([]scanResult, 0, len(results))
	for _, r := range results {
		item := scanResult{Path: r.Path}
		if r.Err != nil {
			item.Error = r.Err.Error()
		} else if r.Report != nil {
			item.IntegratedLUFS = round1(r.Report.Integrated)
			item.RangeLU = round1(r.Report.Range)
			item.TruePeakDBTP = round1(peakDB(r.Report.TruePeak))
			item.DurationMs = r.Report.Duration.Milliseconds()
			item.SampleRate = r.Report.SampleRate
			if r.Report.SilenceStart >= 0 {
				item.SilenceStartMs = r.Report.SilenceStart.Milliseconds()
			} else {
				item.SilenceStartMs = -1
			}
		}
		out = append(out, item)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// writeScanText prints one aligned summary line per file
func writeScanText(w io.Writer, results []loudness.BatchResult, elapsed time.Duration) {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "  error   %s: %v\n", r.Path, r.Err)
			continue
		}
		rep := r.Report
		silence := "none"
		if rep.SilenceStart >= 0 {
			silence = formatClock(rep.SilenceStart)
		}
		fmt.Fprintf(w, "  %6.1f LUFS  range %4.1f LU  peak %6.1f dBTP  silence %s  %s  %s\n",
			rep.Integrated, rep.Range, peakDB(rep.TruePeak),
			silence, formatClock(rep.Duration), rep.Path)
	}

	fmt.Fprintf(w, "Analyzed %d file(s) in %s", len(results), elapsed.Round(time.Millisecond))
	if failed > 0 {
		fmt.Fprintf(w, ", %d failed", failed)
	}
	fmt.Fprintln(w)
}

// peakDB converts a linear absolute peak to dBTP. Digital silence has
// no meaningful peak level, so it reports a floor value instead of -Inf.
func peakDB(linear float64) float64 {
	if linear <= 0 {
		return -150
	}
	return 20 * math.Log10(linear)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
