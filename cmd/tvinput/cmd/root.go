// Package cmd implements the CLI commands for tvinput.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/tvinput/internal/config"
	"github.com/jmylchreest/tvinput/internal/observability"
	"github.com/jmylchreest/tvinput/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string

	// cfg is loaded before any command that needs it runs.
	cfg *config.Config

	// flagBindings maps config keys to command flags that override them.
	flagBindings = map[string]*pflag.Flag{}
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "tvinput",
	Short:   "IPTV TV input service",
	Version: version.Version,
	Long: `tvinput imports IPTV channel catalogs (M3U or XMLTV) and program
guides into a channel directory, and plays them through TV input sessions
that follow program boundaries and enforce parental rating blocks.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Set here to avoid an initialization cycle through rootCmd.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initialize()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/tvinput/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// bindFlag lets flag override the config key when the user sets it.
func bindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("no flag for config key %q", key))
	}
	flagBindings[key] = flag
}

// initialize loads the configuration and sets up logging.
func initialize() error {
	loaded, err := config.LoadWithFlags(cfgFile, flagBindings)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded
	initLogging(cfg.Logging)
	return nil
}

// initLogging configures the default logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only if explicitly provided
//  2. Environment variables (TVINPUT_LOGGING_LEVEL, TVINPUT_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging(logCfg config.LoggingConfig) {
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		logCfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		logCfg.Format, _ = flags.GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName, version.Version)
	observability.SetDefault(logger)
}

// skipConfig replaces the root pre-run for commands that must work without
// a valid configuration.
func skipConfig(_ *cobra.Command, _ []string) {
	initLogging(config.LoggingConfig{Level: "info", Format: "text"})
}
