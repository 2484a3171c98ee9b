package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"cadenza.audio/internal/config"
)

// newConfigCommand groups the configuration subcommands
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the player configuration",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Long: `Show prints the configuration after file discovery, environment
overrides, and flag overrides have all been applied, so it reflects
exactly what playback would use.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "List the config file search paths",
		Long: `Path lists every location the player looks for config.json, in
precedence order. An existing file is marked with an asterisk.`,
		Args: cobra.NoArgs,
		RunE: runConfigPath,
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value and save the file",
		Long: `Set updates a single key in the user config file, creating the file
from defaults first when it does not exist. With --config the named
file is edited instead.

Supported keys:
  volume            playback volume, 0.0 to 1.0
  backend           audio backend: auto, malgo, oto, null
  crossfade_ms      crossfade length in milliseconds, 0 for gapless
  smart_crossfade   true or false
  crossfade_curve   smoothstep, linear, or equal_power
  log_level         debug, info, warn, or error
  target_lufs       normalization target in LUFS, -70 to 0
  normalization     true or false
  eq_enabled        true or false
  bass_boost        strength, 0 to 1000
  virtualizer       strength, 0 to 1000
  reverb            off, small-room, medium-room, large-room, hall, plate
  analysis          true or false`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
}

// runConfigShow implements the config show command logic
func runConfigShow(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return fmt.Errorf("CLI instance not found in context")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// runConfigPath implements the config path command logic
func runConfigPath(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return fmt.Errorf("CLI instance not found in context")
	}

	for _, p := range cli.configManager.ConfigSearchPaths() {
		marker := " "
		if exists, err := afero.Exists(cli.fsys, p); err == nil && exists {
			marker = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, p)
	}
	return nil
}

// runConfigSet implements the config set command logic
func runConfigSet(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		slog.Error("CLI instance not found in context")
		return fmt.Errorf("CLI instance not found in context")
	}

	key, value := args[0], args[1]

	// Edit the file that will actually be written, not the merged view,
	// so system-wide settings never get copied into the user file.
	target, _ := cmd.Flags().GetString("config")
	if target == "" {
		paths := cli.configManager.ConfigSearchPaths()
		if len(paths) == 0 {
			return fmt.Errorf("no writable config path available")
		}
		target = paths[0]
	}

	var cfg *config.Config
	if exists, err := afero.Exists(cli.fsys, target); err == nil && exists {
		cfg, err = cli.configManager.LoadFromFile(target)
		if err != nil {
			cmd.PrintErrf("Error: %v\n", err)
			return err
		}
	} else {
		cfg = cli.configManager.GetDefaultConfig()
	}

	if err := applyConfigKey(cli, cfg, key, value); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		return err
	}

	if err := cli.configManager.SaveToFile(cfg, target); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		return err
	}

	cmd.Printf("Set %s = %s in %s\n", key, value, target)
	return nil
}

// applyConfigKey mutates one config field from its string form. Range
// checking is left to SaveToFile's validation so the rules live in one
// place.
func applyConfigKey(cli *CLI, cfg *config.Config, key, value string) error {
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "volume":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for volume: %w", err)
		}
		cfg.Volume = v

	case "backend", "audio_backend":
		cfg.AudioBackend = value

	case "crossfade_ms", "crossfade":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for crossfade_ms: %w", err)
		}
		cfg.CrossfadeMs = ms

	case "smart_crossfade", "smart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for smart_crossfade: %w", err)
		}
		cfg.SmartCrossfade = b

	case "crossfade_curve", "curve":
		cfg.CrossfadeCurve = value

	case "log_level":
		cfg.LogLevel = value

	case "target_lufs":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for target_lufs: %w", err)
		}
		ensureLoudness(cli, cfg).TargetLUFS = v

	case "normalization":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for normalization: %w", err)
		}
		ensureEffects(cli, cfg).NormalizationEnabled = b

	case "eq_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for eq_enabled: %w", err)
		}
		ensureEffects(cli, cfg).EQEnabled = b

	case "bass_boost":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for bass_boost: %w", err)
		}
		ensureEffects(cli, cfg).BassBoost = n

	case "virtualizer":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for virtualizer: %w", err)
		}
		ensureEffects(cli, cfg).Virtualizer = n

	case "reverb", "reverb_preset":
		ensureEffects(cli, cfg).ReverbPreset = value

	case "analysis":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for analysis: %w", err)
		}
		ensureAnalysis(cli, cfg).Enabled = b

	default:
		return fmt.Errorf("unknown config key '%s'", key)
	}
	return nil
}

// A file written by hand can omit whole sections; editing a key inside a
// missing section starts that section from its defaults.

func ensureEffects(cli *CLI, cfg *config.Config) *config.EffectsConfig {
	if cfg.Effects == nil {
		cfg.Effects = cli.configManager.GetDefaultConfig().Effects
	}
	return cfg.Effects
}

func ensureAnalysis(cli *CLI, cfg *config.Config) *config.AnalysisConfig {
	if cfg.Analysis == nil {
		cfg.Analysis = cli.configManager.GetDefaultConfig().Analysis
	}
	return cfg.Analysis
}

func ensureLoudness(cli *CLI, cfg *config.Config) *config.LoudnessConfig {
	if cfg.Loudness == nil {
		cfg.Loudness = cli.configManager.GetDefaultConfig().Loudness
	}
	return cfg.Loudness
}
