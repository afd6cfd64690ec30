package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/deskbridge/internal/config"
)

var serveOpts struct {
	announce bool
	noReload bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the theme watcher and notification event loop",
	Long: `Run deskbridge in the foreground until interrupted.

The service follows colour-scheme changes, runs the notification event
loop, and reloads its configuration file when it changes. With
announcements enabled (--announce or [announce] enabled = true) theme
switches and configuration reloads are reported as notifications.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveOpts.announce, "announce", false,
		"Announce theme changes and config reloads as notifications")
	serveCmd.Flags().BoolVar(&serveOpts.noReload, "no-reload", false,
		"Do not watch the config file for changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveOpts.announce {
		c := *cfg
		c.Announce.Enabled = true
		svc.ApplyConfig(&c)
	}

	logger.Info("starting deskbridge", "version", version)

	g, gctx := errgroup.WithContext(ctx)

	// The event loop owns every callback, announcements included
	g.Go(func() error {
		err := svc.RunEventLoop(gctx)
		if err != nil {
			logger.Error("notification event loop failed", "error", err)
		}
		return err
	})

	announcer := svc.Announcer()
	svc.Post(func() {
		announcer.Startup(gctx, version)
	})

	initial := svc.ReadPreference(gctx)
	logger.Info("current colour scheme", "preference", initial)

	svc.StartWatching(func(isDark bool) {
		logger.Info("colour scheme changed", "dark", isDark)
		svc.Post(func() {
			announcer.ThemeChanged(gctx, isDark)
		})
	})
	defer svc.StopWatching()

	if !serveOpts.noReload {
		watcher := config.NewWatcher(configPath(), logger.With("component", "config-watcher"))
		watcher.SetReloadCallback(func(c *config.Config) {
			if serveOpts.announce {
				c.Announce.Enabled = true
			}
			svc.ApplyConfig(c)
			svc.Post(func() {
				announcer.ConfigReloaded(gctx)
			})
		})
		watcher.SetErrorCallback(func(err error) {
			logger.Warn("config reload failed", "error", err)
			svc.Post(func() {
				announcer.ConfigError(gctx, err)
			})
		})

		if err := watcher.Start(gctx, cfg); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		} else {
			g.Go(func() error {
				<-gctx.Done()
				watcher.Stop()
				return nil
			})
		}
	}

	logger.Info("deskbridge ready")

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("deskbridge stopped")
	return nil
}

// configPath returns the file the config watcher follows.
func configPath() string {
	if globalOpts.configPath != "" {
		return globalOpts.configPath
	}
	return config.ConfigPath()
}
