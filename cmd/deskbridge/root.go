// Package main provides the CLI entrypoint for deskbridge.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/deskbridge/internal/bus"
	"github.com/jmylchreest/deskbridge/internal/config"
	"github.com/jmylchreest/deskbridge/internal/daemon"
	"github.com/jmylchreest/deskbridge/internal/output"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		configPath string
		output     string
	}
	logger *slog.Logger

	// svc is shared by every subcommand
	svc *daemon.Service
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "deskbridge",
	Short: "Desktop appearance and notification bridge for Linux desktops",
	Long: `deskbridge connects to the session bus to read the desktop's
colour-scheme preference, follow changes to it, and post interactive
notifications through the freedesktop notification server.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		setupLogger(cfg)

		if _, err := output.ParseFormat(globalOpts.output); err != nil {
			return err
		}

		client := bus.NewSessionClient(logger.With("component", "bus"),
			bus.WithTimeout(cfg.Bus.QueryTimeout.Duration()))

		svc, err = daemon.New(client, cfg, logger)
		if err != nil {
			_ = client.Disconnect()
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if svc != nil {
			svc.Shutdown()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/deskbridge/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.output, "output", "o", string(output.FormatPlain),
		fmt.Sprintf("Output format %v", output.ValidFormats()))
}

// setupLogger configures the global slog logger.
func setupLogger(c *config.Config) {
	level := c.SlogLevel()
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// formatter returns the formatter selected by --output.
func formatter() output.Formatter {
	format, err := output.ParseFormat(globalOpts.output)
	if err != nil {
		format = output.FormatPlain
	}
	return output.NewFormatter(format, output.DefaultFormatterOptions())
}
