package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/deskbridge/internal/config"
	"github.com/jmylchreest/deskbridge/internal/output"
	"github.com/jmylchreest/deskbridge/internal/theme"
)

var themeOpts struct {
	template string
	debounce time.Duration
}

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Read or follow the desktop colour-scheme preference",
}

var themeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current colour-scheme preference",
	Long: `Print the current colour-scheme preference as reported by the
desktop portal: dark, light, or none.

If the portal is not available the preference is reported as none.`,
	Args: cobra.NoArgs,
	RunE: runThemeGet,
}

var themeWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the colour-scheme preference every time it changes",
	Long: `Follow the desktop portal and print a line for every colour-scheme
change until interrupted. Plain output includes how long the previous
preference was in effect.

A custom template can be used for plain output, for example:

  deskbridge theme watch --template '{{if .IsDark}}🌙{{else}}☀{{end}}'`,
	Args: cobra.NoArgs,
	RunE: runThemeWatch,
}

func init() {
	rootCmd.AddCommand(themeCmd)
	themeCmd.AddCommand(themeGetCmd)
	themeCmd.AddCommand(themeWatchCmd)

	themeCmd.PersistentFlags().StringVar(&themeOpts.template, "template", "",
		"Go template for plain output (fields: .Preference .IsDark .Time .Previous, funcs: reltime upper)")
	themeWatchCmd.Flags().DurationVar(&themeOpts.debounce, "debounce", 0,
		"Drop repeated values inside this window (default from config)")
}

// themeFormatter honours --template for plain output.
func themeFormatter() output.Formatter {
	format, err := output.ParseFormat(globalOpts.output)
	if err != nil {
		format = output.FormatPlain
	}
	opts := output.DefaultFormatterOptions()
	opts.Template = themeOpts.template
	return output.NewFormatter(format, opts)
}

func runThemeGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Bus.QueryTimeout.Duration())
	defer cancel()

	pref := svc.ReadPreference(ctx)
	return themeFormatter().FormatTheme(os.Stdout, output.ThemeStatus{
		Preference: pref.String(),
		IsDark:     pref.IsDark(),
		Time:       time.Now(),
	})
}

func runThemeWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("debounce") {
		c := *cfg
		c.Theme.Debounce = config.Duration(themeOpts.debounce)
		svc.ApplyConfig(&c)
	}

	f := themeFormatter()

	// Print the starting value so consumers see a state before the first change
	initial := svc.ReadPreference(ctx)
	var (
		mu       sync.Mutex
		previous = time.Now()
	)
	if err := f.FormatTheme(os.Stdout, output.ThemeStatus{
		Preference: initial.String(),
		IsDark:     initial.IsDark(),
		Time:       previous,
	}); err != nil {
		return err
	}

	svc.StartWatching(func(isDark bool) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		prev := previous
		previous = now

		readCtx, cancel := context.WithTimeout(ctx, cfg.Bus.QueryTimeout.Duration())
		pref := observedPreference(isDark, svc.ReadPreference(readCtx))
		cancel()

		if err := f.FormatTheme(os.Stdout, output.ThemeStatus{
			Preference: pref.String(),
			IsDark:     isDark,
			Time:       now,
			Previous:   &prev,
		}); err != nil {
			logger.Warn("failed to write theme change", "error", err)
		}
	})
	defer svc.StopWatching()

	<-ctx.Done()
	return nil
}

// observedPreference names the preference behind a change. The observer only
// learns whether the scheme is dark, so current (read from the portal) tells
// light apart from no preference. When current no longer agrees with isDark
// a newer change is on its way and isDark wins.
func observedPreference(isDark bool, current theme.Preference) theme.Preference {
	if current.IsDark() == isDark {
		return current
	}
	if isDark {
		return theme.Dark
	}
	return theme.Light
}
