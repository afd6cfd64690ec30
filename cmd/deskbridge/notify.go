package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/deskbridge/internal/daemon"
	"github.com/jmylchreest/deskbridge/internal/notify"
	"github.com/jmylchreest/deskbridge/internal/output"
)

var notifyOpts struct {
	icon    string
	image   string
	buttons []string
	urgency string
	expire  int32
	wait    bool
	timeout time.Duration
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send notifications and query the notification server",
}

var notifySendCmd = &cobra.Command{
	Use:   "send SUMMARY [BODY]",
	Short: "Send a notification",
	Long: `Send a notification through the session's notification server.

Buttons are given as id:label pairs. With --wait the command stays
running until the notification is clicked, a button is pressed, or the
notification is closed, and prints what happened:

  deskbridge notify send "Build finished" "All tests passed" \
      --button open:Open --button dismiss:Dismiss --wait

Output on exit is one of: clicked, button <id>, closed <reason>.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runNotifySend,
}

var notifyInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show notification server information and capabilities",
	Args:  cobra.NoArgs,
	RunE:  runNotifyInfo,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifySendCmd)
	notifyCmd.AddCommand(notifyInfoCmd)

	notifySendCmd.Flags().StringVar(&notifyOpts.icon, "icon", "",
		"Icon name or path")
	notifySendCmd.Flags().StringVar(&notifyOpts.image, "image", "",
		"Image file to attach (png, jpeg, gif, bmp, webp)")
	notifySendCmd.Flags().StringArrayVar(&notifyOpts.buttons, "button", nil,
		"Button as id:label (repeatable)")
	notifySendCmd.Flags().StringVarP(&notifyOpts.urgency, "urgency", "u", "",
		"Urgency level (low, normal, critical; default from config)")
	notifySendCmd.Flags().Int32VarP(&notifyOpts.expire, "expire-time", "t", notify.ExpireDefault,
		"Expiry in milliseconds (-1 server default, 0 never)")
	notifySendCmd.Flags().BoolVarP(&notifyOpts.wait, "wait", "w", false,
		"Wait for the notification to be clicked or closed")
	notifySendCmd.Flags().DurationVar(&notifyOpts.timeout, "timeout", 0,
		"Give up waiting after this long (0 waits forever)")
}

func runNotifySend(cmd *cobra.Command, args []string) error {
	summary := args[0]
	var body string
	if len(args) > 1 {
		body = args[1]
	}

	id, err := svc.CreateNotification(summary, body, notifyOpts.icon)
	if err != nil {
		return err
	}

	var opts []daemon.NotificationOption
	for _, b := range notifyOpts.buttons {
		action, err := notify.ParseAction(b)
		if err != nil {
			return err
		}
		opts = append(opts, daemon.WithButton(action.Key, action.Label))
	}
	if notifyOpts.image != "" {
		opts = append(opts, daemon.WithImage(notifyOpts.image))
	}
	if notifyOpts.urgency != "" {
		u, err := notify.ParseUrgency(notifyOpts.urgency)
		if err != nil {
			return err
		}
		opts = append(opts, daemon.WithUrgency(u))
	}
	if cmd.Flags().Changed("expire-time") {
		opts = append(opts, daemon.WithExpireTimeout(notifyOpts.expire))
	}

	if !notifyOpts.wait {
		if err := svc.ConfigureNotification(id, opts...); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Bus.QueryTimeout.Duration())
		defer cancel()
		if err := svc.Show(ctx, id); err != nil {
			return err
		}
		return printNotification(id)
	}

	return waitNotification(cmd.Context(), id, opts)
}

// waitNotification shows the notification from inside the event loop, so
// the signal subscription exists before the server can report anything.
func waitNotification(parent context.Context, id notify.ID, opts []daemon.NotificationOption) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if notifyOpts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, notifyOpts.timeout)
		defer cancel()
	}

	var (
		result  string
		showErr error
	)
	opts = append(opts,
		daemon.OnClicked(func(notify.ID) {
			result = "clicked"
			svc.StopEventLoop()
		}),
		daemon.OnButton(func(_ notify.ID, action string) {
			result = "button " + action
			svc.StopEventLoop()
		}),
		daemon.OnClosed(func(_ notify.ID, reason notify.CloseReason) {
			result = "closed " + reason.String()
			svc.StopEventLoop()
		}),
	)
	if err := svc.ConfigureNotification(id, opts...); err != nil {
		return err
	}

	svc.Post(func() {
		showCtx, cancel := context.WithTimeout(ctx, 2*cfg.Bus.QueryTimeout.Duration())
		defer cancel()
		if err := svc.Show(showCtx, id); err != nil {
			showErr = err
			svc.StopEventLoop()
			return
		}
		if err := printNotification(id); err != nil {
			logger.Warn("failed to write notification", "error", err)
		}
	})

	if err := svc.RunEventLoop(ctx); err != nil {
		return err
	}
	if showErr != nil {
		return showErr
	}

	if result == "" {
		// Interrupted or timed out while the notification is still up
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Bus.QueryTimeout.Duration())
		defer cancel()
		if err := svc.Close(closeCtx, id); err != nil && !errors.Is(err, notify.ErrNotFound) {
			logger.Debug("failed to close notification", "id", id, "error", err)
		}
		return nil
	}

	_, err := fmt.Fprintln(os.Stdout, result)
	return err
}

func printNotification(id notify.ID) error {
	snap, err := svc.Notification(id)
	if err != nil {
		return err
	}
	return formatter().FormatNotification(os.Stdout, snap)
}

func runNotifyInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Bus.QueryTimeout.Duration())
	defer cancel()

	info, err := svc.ServerInformation(ctx)
	if err != nil {
		return fmt.Errorf("failed to query notification server: %w", err)
	}
	caps, err := svc.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to query notification server: %w", err)
	}

	return formatter().FormatServer(os.Stdout, output.ServerReport{
		Server:       info,
		Capabilities: caps,
	})
}
