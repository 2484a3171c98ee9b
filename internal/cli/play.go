package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cadenza.audio/internal/audio"
	"cadenza.audio/internal/config"
	"cadenza.audio/internal/engine"
)

// playbackScanWorkers sizes the loudness runner used during playback.
// Background scans stay light so they never compete with the render loop.
const playbackScanWorkers = 2

// defaultOutputFormat is what the CLI asks the output device for. Decoded
// streams are carried at their native rate; the sink reconfigures when a
// track's format differs.
func defaultOutputFormat() audio.Format {
	return audio.Format{SampleRate: 44100, Channels: 2}
}

// newCodecRegistry builds the registry with every built-in codec.
func newCodecRegistry() *audio.CodecRegistry {
	return audio.NewDefaultRegistry()
}

// runPlayE is the root command: queue up the argv tracks and play them.
func runPlayE(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return fmt.Errorf("CLI instance not found in context")
	}

	// Handle version flag first
	handled, err := handleVersionFlag(cmd)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}

	cli.setupLogging(cfg, cmd.ErrOrStderr())

	resume, _ := cmd.Flags().GetBool("resume")
	var restored *config.PlayerState
	if resume {
		restored, err = cli.configManager.LoadState()
		if err != nil {
			slog.Warn("saved state unreadable, starting fresh", "error", err)
		}
	}

	tracks, err := cli.collectTracks(args)
	if err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		return err
	}

	// With no argv tracks, --resume replays the saved queue
	if len(tracks) == 0 && restored != nil {
		tracks = restored.Queue
	}
	if len(tracks) == 0 {
		if resume {
			cmd.PrintErrln("Nothing to resume.")
			return nil
		}
		return cmd.Help()
	}

	// Argv tracks supersede whatever queue the state was saved against
	if len(args) > 0 {
		restored = nil
	}

	eng, err := cli.buildEngine(cfg)
	if err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		slog.Error("engine construction failed", "error", err)
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Error("error closing engine", "error", err)
		}
	}()

	cli.applyInitialSettings(cmd, eng, cfg)

	p := &playSession{
		cli:    cli,
		eng:    eng,
		cfg:    cfg,
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}
	return p.run(cmd, tracks, restored)
}

// applyInitialSettings pushes the resolved configuration and transport
// flags into a freshly built engine.
func (c *CLI) applyInitialSettings(cmd *cobra.Command, eng *engine.Engine, cfg *config.Config) {
	notes, err := eng.SetEffectParameters(cfg.EffectParams())
	if err != nil {
		slog.Warn("failed to apply effect parameters", "error", err)
	}
	for _, n := range notes {
		slog.Warn("configured effect parameter out of range",
			"field", n.Field, "given", n.Given, "clamped", n.Clamped)
	}

	if err := eng.SetVolume(cfg.Volume); err != nil {
		slog.Warn("failed to apply volume", "error", err)
	}
	if cfg.CrossfadeMs > 0 {
		if err := eng.SetCrossfadeDuration(cfg.CrossfadeDuration()); err != nil {
			slog.Warn("failed to apply crossfade", "error", err)
		}
	}
	if cfg.SmartCrossfade {
		if err := eng.SetSmartCrossfade(true); err != nil {
			slog.Warn("failed to apply smart crossfade", "error", err)
		}
	}

	if shuffle, _ := cmd.Flags().GetBool("shuffle"); shuffle {
		eng.SetShuffle(true)
	}
	if loopFlag, _ := cmd.Flags().GetString("loop"); loopFlag != "" {
		if mode, ok := engine.ParseLoopMode(loopFlag); ok {
			eng.SetLoopMode(mode)
		} else {
			cmd.PrintErrf("Ignoring unknown loop mode '%s'\n", loopFlag)
		}
	}

	if cfg.Analysis != nil && cfg.Analysis.Enabled {
		eng.SetAnalysisEnabled(true)
	}
}

// collectTracks expands the argv entries into a playable track list.
// Directories contribute their decodable files in name order; explicit
// file arguments are taken as given so a bad path surfaces as a playback
// error rather than being silently dropped.
func (c *CLI) collectTracks(args []string) ([]string, error) {
	registry := newCodecRegistry()

	var tracks []string
	for _, arg := range args {
		info, err := c.fsys.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read '%s': %w", arg, err)
		}

		if !info.IsDir() {
			tracks = append(tracks, arg)
			continue
		}

		var found []string
		err = afero.Walk(c.fsys, arg, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			if registry.DetectByName(path) != nil {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("cannot scan directory '%s': %w", arg, err)
		}

		sort.Strings(found)
		slog.Debug("directory expanded", "dir", arg, "tracks", len(found))
		tracks = append(tracks, found...)
	}

	return tracks, nil
}

// playSession is one foreground playback run: it owns the event
// subscription, the optional raw-mode key reader, and the saved-state
// lifecycle around the engine.
type playSession struct {
	cli    *CLI
	eng    *engine.Engine
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer

	interactive bool
	started     bool
	queueLen    int
}

func (p *playSession) run(cmd *cobra.Command, tracks []string, restored *config.PlayerState) error {
	sub := p.eng.Subscribe(0)
	defer sub.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	keys, restoreTerm := p.startKeyReader(cmd)
	if restoreTerm != nil {
		defer restoreTerm()
	}

	p.queueLen = len(tracks)

	if restored != nil {
		if err := p.eng.SetQueue(tracks, restored.QueueIndex, false); err != nil {
			return err
		}
		err := p.eng.Restore(engine.RestoreState{
			Path:       restored.Path,
			Position:   time.Duration(restored.PositionMs) * time.Millisecond,
			QueueIndex: restored.QueueIndex,
		})
		if err != nil {
			slog.Warn("saved track no longer playable, starting queue from the top",
				"path", restored.Path, "error", err)
			if err := p.eng.PlayAtIndex(0); err != nil {
				return err
			}
		}
	} else {
		// A broken leading track should not take the whole queue down
		// with it; walk forward until something plays.
		startErr := p.eng.SetQueue(tracks, 0, true)
		for i := 0; startErr != nil && i < len(tracks); i++ {
			startErr = p.eng.SkipNext()
		}
		if startErr != nil {
			return startErr
		}
		if !p.eng.Playing() {
			return fmt.Errorf("no playable tracks in queue")
		}
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if done := p.handleEvent(ev); done {
				// Queue ran out on its own; a fresh start should not
				// resume into a finished session.
				p.clearLine()
				if err := p.cli.configManager.ClearState(); err != nil {
					slog.Warn("failed to clear saved state", "error", err)
				}
				fmt.Fprintln(p.stdout)
				return nil
			}

		case <-sigCh:
			p.clearLine()
			fmt.Fprintln(p.stdout)
			p.saveState()
			return nil

		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if quit := p.handleKey(k); quit {
				p.clearLine()
				fmt.Fprintln(p.stdout)
				p.saveState()
				return nil
			}
		}
	}
}

// startKeyReader puts the terminal into raw mode and streams key bytes
// when stdin is an interactive terminal. It returns a nil channel (which
// blocks forever in select) otherwise.
func (p *playSession) startKeyReader(cmd *cobra.Command) (<-chan byte, func()) {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !p.cli.isInteractiveTerminal(int(f.Fd())) {
		slog.Debug("stdin is not a terminal, transport keys disabled")
		return nil, nil
	}

	fd := int(f.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		slog.Warn("cannot enter raw mode, transport keys disabled", "error", err)
		return nil, nil
	}
	p.interactive = true

	ch := make(chan byte)
	go func() {
		defer close(ch)
		buf := make([]byte, 1)
		for {
			n, err := f.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			ch <- buf[0]
		}
	}()

	return ch, func() {
		if err := term.Restore(fd, oldState); err != nil {
			slog.Warn("failed to restore terminal", "error", err)
		}
	}
}

// handleEvent renders one engine event. It reports true when playback has
// finished and the session should end.
func (p *playSession) handleEvent(ev engine.Event) bool {
	switch ev.Kind {
	case engine.EventTrackChanged:
		p.clearLine()
		if ev.Index >= 0 {
			fmt.Fprintf(p.stdout, "Playing: %s [%d/%d]%s", ev.Path, ev.Index+1, p.queueLen, p.lineEnd())
		} else {
			fmt.Fprintf(p.stdout, "Playing: %s%s", ev.Path, p.lineEnd())
		}

	case engine.EventPlayState:
		if ev.Playing {
			p.started = true
		}
		if p.started && !ev.Playing && !ev.Paused {
			return true
		}

	case engine.EventPosition:
		p.drawProgress(ev.Position, ev.Duration)

	case engine.EventQueueChanged:
		p.queueLen = len(ev.Queue)

	case engine.EventModeChanged:
		if p.interactive {
			p.clearLine()
			fmt.Fprintf(p.stdout, "mode: vol %d%%  shuffle %s  loop %s  crossfade %s%s",
				int(ev.Volume*100+0.5), onOff(ev.Shuffle), ev.Loop, crossfadeLabel(ev.Crossfade, ev.Smart), p.lineEnd())
		}

	case engine.EventPlaybackError:
		p.clearLine()
		fmt.Fprintf(p.stderr, "Skipping %s: %v%s", ev.Path, ev.Err, p.lineEnd())

	case engine.EventParamsClamped:
		for _, n := range ev.Notes {
			slog.Warn("effect parameter clamped", "field", n.Field, "given", n.Given, "clamped", n.Clamped)
		}

	case engine.EventEffectFallback:
		slog.Info("effect chain running on fallback backend", "backend", ev.Backend)

	case engine.EventLoudnessDone:
		if ev.Report != nil {
			slog.Debug("loudness analysis finished",
				"path", ev.Report.Path,
				"integrated_lufs", ev.Report.Integrated)
		}
	}
	return false
}

// handleKey dispatches one transport key. It reports true on quit.
func (p *playSession) handleKey(k byte) bool {
	switch k {
	case 'q', 3, 4: // q, ctrl-c, ctrl-d
		return true

	case ' ':
		if p.eng.Paused() {
			p.eng.Resume()
		} else {
			p.eng.Pause()
		}

	case 'n':
		if err := p.eng.SkipNext(); err != nil {
			slog.Debug("skip next refused", "error", err)
		}

	case 'p', 'b':
		if err := p.eng.SkipPrevious(); err != nil {
			slog.Debug("skip previous refused", "error", err)
		}

	case '+', '=':
		p.nudgeVolume(0.05)

	case '-', '_':
		p.nudgeVolume(-0.05)

	case 's':
		if st, err := p.eng.Status(); err == nil {
			p.eng.SetShuffle(!st.Shuffle)
		}

	case 'l':
		if st, err := p.eng.Status(); err == nil {
			p.eng.SetLoopMode((st.Loop + 1) % 3)
		}

	case 'c':
		p.toggleCrossfade()
	}
	return false
}

func (p *playSession) nudgeVolume(delta float64) {
	v := p.eng.Volume() + delta
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.eng.SetVolume(v)
}

// toggleCrossfade flips between gapless and the configured crossfade
// length, defaulting to 4s when the config keeps gapless.
func (p *playSession) toggleCrossfade() {
	st, err := p.eng.Status()
	if err != nil {
		return
	}
	if st.Crossfade > 0 {
		p.eng.SetCrossfadeDuration(0)
		return
	}
	next := p.cfg.CrossfadeDuration()
	if next <= 0 {
		next = 4 * time.Second
	}
	p.eng.SetCrossfadeDuration(next)
}

func (p *playSession) drawProgress(pos, dur time.Duration) {
	if !p.interactive {
		return
	}
	fmt.Fprintf(p.stdout, "\r\x1b[K  %s / %s", formatClock(pos), formatClock(dur))
}

// clearLine erases the in-place progress line before a full line is
// printed. Raw mode needs explicit carriage returns.
func (p *playSession) clearLine() {
	if p.interactive {
		fmt.Fprint(p.stdout, "\r\x1b[K")
	}
}

func (p *playSession) lineEnd() string {
	if p.interactive {
		return "\r\n"
	}
	return "\n"
}

// saveState persists the transport position so --resume can pick the
// session back up. An idle engine clears the state instead.
func (p *playSession) saveState() {
	st, err := p.eng.Status()
	if err != nil || st.Path == "" {
		if err := p.cli.configManager.ClearState(); err != nil {
			slog.Warn("failed to clear saved state", "error", err)
		}
		return
	}

	state := &config.PlayerState{
		Path:       st.Path,
		PositionMs: st.Position.Milliseconds(),
		QueueIndex: st.Index,
		Queue:      st.Queue,
	}
	if err := p.cli.configManager.SaveState(state); err != nil {
		slog.Warn("failed to save player state", "error", err)
		return
	}
	slog.Info("player state saved",
		"path", state.Path,
		"position_ms", state.PositionMs,
		"queue_index", state.QueueIndex)
}

func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func crossfadeLabel(d time.Duration, smart bool) string {
	if d <= 0 {
		return "gapless"
	}
	if smart {
		return fmt.Sprintf("%s (smart)", d)
	}
	return d.String()
}
