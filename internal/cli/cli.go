// Package cli implements the cadenza command line interface: the root
// command plays files from argv with interactive transport keys, `scan`
// batch-analyzes loudness, and `config` inspects or edits the persisted
// configuration.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"cadenza.audio/internal/config"
	"cadenza.audio/internal/dsp"
	"cadenza.audio/internal/engine"
	"cadenza.audio/internal/fs"
	"cadenza.audio/internal/loudness"
	"cadenza.audio/internal/sink"
)

const Version = "0.3.0"

// CLI represents the command-line interface
type CLI struct {
	rootCmd       *cobra.Command
	configManager *config.Manager
	fsys          afero.Fs
	sinkFactory   *sink.DefaultFactory
	isTTY         ttyProbe
	loudnessStore *loudness.Store // Optional report cache, closed on exit
}

// NewCLI creates a new CLI instance
func NewCLI() *CLI {
	slog.Debug("creating new CLI instance")

	rootCmd := &cobra.Command{
		Use:   "cadenza [files...]",
		Short: "Terminal music player",
		Long: `Cadenza plays audio files with gapless and crossfade transitions,
a 10-band equalizer, loudness normalization, and spectral analysis.

Run it with one or more files or directories to start playback. On an
interactive terminal the transport responds to keys:

  space  pause / resume       n  next track
  q      quit (saves state)   p  previous track / restart
  + / -  volume up / down     s  toggle shuffle
  l      cycle loop mode      c  toggle crossfade`,
		Args: cobra.ArbitraryArgs,
		RunE: runPlayE,
	}

	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newConfigCommand())

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.Flags().String("volume", "", "Playback volume (0.0 to 1.0)")
	rootCmd.Flags().String("backend", "", "Audio backend (auto, malgo, oto, null)")
	rootCmd.Flags().Int("crossfade", 0, "Crossfade length in ms (0 = gapless)")
	rootCmd.Flags().Bool("smart", false, "Start crossfades at detected trailing silence")
	rootCmd.Flags().String("curve", "", "Crossfade curve (smoothstep, linear, equal_power)")
	rootCmd.Flags().Bool("shuffle", false, "Shuffle the queue")
	rootCmd.Flags().String("loop", "", "Loop mode (off, one, all)")
	rootCmd.Flags().Bool("resume", false, "Resume from the last saved position")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return &CLI{
		rootCmd:       rootCmd,
		configManager: nil, // Lazy initialization - only create when needed
		fsys:          nil,
		sinkFactory:   nil,
		isTTY:         nil,
	}
}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(cli *CLI) context.Context {
	return context.WithValue(context.Background(), "cli", cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) *CLI {
	if cli, ok := ctx.Value("cli").(*CLI); ok {
		return cli
	}
	return nil
}

// handleVersionFlag checks and handles the version flag
// Returns true if version was handled and processing should stop
func handleVersionFlag(cmd *cobra.Command) (bool, error) {
	version, _ := cmd.Flags().GetBool("version")
	if version {
		cmd.Printf("cadenza version %s\nTerminal music player\n", Version)
		return true, nil
	}
	return false, nil
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	// Check for version flag before any system initialization so a simple
	// version request never touches the audio device.
	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		fmt.Fprintf(stdout, "cadenza version %s\nTerminal music player\n", Version)
		return 0
	}

	c.initializeSystems()

	// Ensure resources are cleaned up on exit
	defer func() {
		if c.loudnessStore != nil {
			if err := c.loudnessStore.Close(); err != nil {
				slog.Error("error closing loudness cache", "error", err)
			}
		}
	}()

	// Configure cobra to use the provided I/O streams
	c.rootCmd.SetArgs(args[1:]) // Skip program name
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)

	// Store CLI instance for access in command handlers
	c.rootCmd.SetContext(contextWithCLI(c))

	// Execute cobra command
	if err := c.rootCmd.Execute(); err != nil {
		slog.Error("cobra execution failed", "error", err)
		return 1
	}

	return 0
}

// initializeSystems lazily initializes CLI components when actually needed
func (c *CLI) initializeSystems() {
	if c.fsys == nil {
		c.fsys = fs.Disk()
	}
	if c.configManager == nil {
		c.configManager = config.NewManagerWithFilesystem(c.fsys)
	}
	if c.sinkFactory == nil {
		c.sinkFactory = sink.NewFactory()
	}
	if c.isTTY == nil {
		c.isTTY = termTTY
	}
}

// loadAndValidateConfig loads configuration from flags and files, applies
// overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	volumeStr, _ := cmd.Flags().GetString("volume")
	backendFlag, _ := cmd.Flags().GetString("backend")
	crossfadeMs, _ := cmd.Flags().GetInt("crossfade")
	curveFlag, _ := cmd.Flags().GetString("curve")
	logLevel, _ := cmd.Flags().GetString("log-level")

	// Validate volume flag early so a typo fails before the device opens
	if volumeStr != "" {
		vol, err := strconv.ParseFloat(volumeStr, 64)
		if err != nil {
			cmd.PrintErrf("Error: invalid volume value '%s': %v\n", volumeStr, err)
			slog.Error("invalid volume value", "value", volumeStr, "error", err)
			return nil, fmt.Errorf("invalid volume value '%s': %w", volumeStr, err)
		}
		if vol < 0.0 || vol > 1.0 {
			cmd.PrintErrf("Error: volume must be between 0.0 and 1.0, got %f\n", vol)
			slog.Error("volume out of range", "value", vol)
			return nil, fmt.Errorf("volume must be between 0.0 and 1.0, got %f", vol)
		}
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			// If config file doesn't exist, use defaults
			slog.Warn("config file not found, using defaults", "file", configFile, "error", err)
			cfg = cli.configManager.GetDefaultConfig()
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			cmd.PrintErrf("Error loading config: %v\n", err)
			slog.Error("config load failed", "error", err)
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	// Apply environment overrides
	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	// Apply command line overrides
	if volumeStr != "" {
		// Volume already validated above, just parse and apply
		vol, _ := strconv.ParseFloat(volumeStr, 64)
		cfg.Volume = vol
		slog.Debug("volume override applied", "value", vol)
	}

	if backendFlag != "" {
		cfg.AudioBackend = backendFlag
		slog.Debug("backend override applied", "value", backendFlag)
	}

	if cmd.Flags().Changed("crossfade") {
		if crossfadeMs < 0 {
			cmd.PrintErrf("Error: crossfade must be zero or more milliseconds, got %d\n", crossfadeMs)
			slog.Error("crossfade out of range", "value_ms", crossfadeMs)
			return nil, fmt.Errorf("crossfade must be zero or more milliseconds, got %d", crossfadeMs)
		}
		cfg.CrossfadeMs = crossfadeMs
		slog.Debug("crossfade override applied", "value_ms", crossfadeMs)
	}

	if curveFlag != "" {
		cfg.CrossfadeCurve = curveFlag
		slog.Debug("curve override applied", "value", curveFlag)
	}

	if smart, _ := cmd.Flags().GetBool("smart"); smart {
		cfg.SmartCrossfade = true
		slog.Debug("smart crossfade override applied")
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
		slog.Debug("log level override applied", "value", logLevel)
	}

	// Validate final configuration
	err = cli.configManager.ValidateConfig(cfg)
	if err != nil {
		cmd.PrintErrf("Error: invalid configuration: %v\n", err)
		slog.Error("config validation failed", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupLogging configures slog for playback: stderr at the configured
// level, plus everything at debug into a rotated file when file logging is
// enabled. The two destinations filter independently through the fan-out
// handler.
func (c *CLI) setupLogging(cfg *config.Config, stderrWriter io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelWarn // Default level if parsing fails
	}

	// Check if current logger is already more verbose than config specifies
	// This preserves test logger setup
	currentHandler := slog.Default().Handler()
	if textHandler, ok := currentHandler.(*slog.TextHandler); ok {
		if textHandler.Enabled(context.Background(), slog.LevelDebug) && level > slog.LevelDebug {
			slog.Debug("preserving existing verbose logger setup", "config_level", level.String())
			return
		}
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderrWriter, &slog.HandlerOptions{Level: level}),
	}

	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		logFilePath := c.configManager.ResolveLogFilePath(cfg.FileLogging.Filename)

		// lumberjack writes through the real filesystem, so the directory
		// is created with os regardless of the injected afero.Fs.
		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			slog.Error("failed to create log directory", "path", logDir, "error", err)
			// Continue without file logging rather than failing
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    cfg.FileLogging.MaxSizeMB,
				MaxBackups: cfg.FileLogging.MaxBackups,
				MaxAge:     cfg.FileLogging.MaxAgeDays,
				Compress:   cfg.FileLogging.Compress,
			}
			handlers = append(handlers, slog.NewTextHandler(fileWriter, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}))
			slog.Debug("file logging enabled", "path", logFilePath)
		}
	}

	slog.SetDefault(slog.New(newFanoutHandler(handlers...)))

	slog.Debug("logging setup completed",
		"stderr_level", level.String(),
		"handlers", len(handlers))
}

// buildEngine assembles the playback engine from the resolved
// configuration: output sink, codec registry, loudness runner with its
// report cache, and the DSP parameter store.
func (c *CLI) buildEngine(cfg *config.Config) (*engine.Engine, error) {
	format := defaultOutputFormat()

	snk, err := c.sinkFactory.CreateSink(cfg.AudioBackend, format)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio sink '%s': %w", cfg.AudioBackend, err)
	}

	registry := newCodecRegistry()

	store := c.openLoudnessStore(cfg)
	runner := loudness.NewRunner(registry, c.fsys, store, playbackScanWorkers)

	engineCfg := engine.Config{
		Registry: registry,
		FS:       c.fsys,
		Sink:     snk,
		Params:   dsp.NewParamStore(),
		Loudness: runner,
		Analysis: cfg.AnalyzerConfig(),
		Curve:    cfg.Curve(),
	}
	if cfg.Loudness != nil {
		engineCfg.TargetLUFS = cfg.Loudness.TargetLUFS
		engineCfg.SilenceThresholdDB = cfg.Loudness.SilenceThresholdDB
		engineCfg.SilenceWindow = cfg.SilenceWindow()
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		snk.Close()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	return eng, nil
}

// openLoudnessStore opens the report cache when configured, remembering it
// for cleanup. A cache failure degrades to uncached scanning.
func (c *CLI) openLoudnessStore(cfg *config.Config) *loudness.Store {
	cachePath := c.configManager.ResolveLoudnessCachePath(cfg)
	if cachePath == "" {
		return nil
	}

	store, err := loudness.NewStore(cachePath)
	if err != nil {
		slog.Warn("loudness cache unavailable, scanning without it",
			"path", cachePath, "error", err)
		return nil
	}

	c.loudnessStore = store
	return store
}
