package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/deskbridge/internal/notify"
)

// AnnounceLevel indicates the severity of an announcement.
type AnnounceLevel int

const (
	// AnnounceInfo is for informational messages (low urgency).
	AnnounceInfo AnnounceLevel = iota
	// AnnounceWarning is for warning messages (normal urgency).
	AnnounceWarning
	// AnnounceError is for error messages (critical urgency).
	AnnounceError
)

// DefaultAnnounceInterval is the minimum time between two announcements
// with the same key.
const DefaultAnnounceInterval = 5 * time.Second

// Announcer sends short-lived notifications about deskbridge's own events,
// such as theme switches and configuration reloads. Repeats of the same key
// within the minimum interval are dropped.
type Announcer struct {
	mu     sync.Mutex
	logger *slog.Logger

	service      notify.Service
	appName      string
	desktopEntry string

	// Rate limiting
	lastSent    map[string]time.Time
	minInterval time.Duration
	now         func() time.Time

	enabled bool
}

// NewAnnouncer creates a new Announcer sending through service.
func NewAnnouncer(service notify.Service, appName string, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		logger:      logger,
		service:     service,
		appName:     appName,
		lastSent:    make(map[string]time.Time),
		minInterval: DefaultAnnounceInterval,
		now:         time.Now,
		enabled:     true,
	}
}

// SetEnabled enables or disables announcements.
func (a *Announcer) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// Enabled reports whether announcements are sent.
func (a *Announcer) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// SetMinInterval sets the minimum interval between announcements with the same key.
func (a *Announcer) SetMinInterval(interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.minInterval = interval
}

// SetDesktopEntry sets the desktop-entry hint sent with announcements.
func (a *Announcer) SetDesktopEntry(entry string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.desktopEntry = entry
}

// Announce sends a notification unless disabled or rate-limited. It
// reports whether the notification was sent.
func (a *Announcer) Announce(ctx context.Context, key, summary, body string, level AnnounceLevel) bool {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return false
	}

	now := a.now()
	if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.minInterval {
		a.mu.Unlock()
		a.logger.Debug("announcement rate-limited", "key", key, "summary", summary)
		return false
	}
	a.lastSent[key] = now

	req := &notify.Request{
		AppName:       a.appName,
		Summary:       summary,
		Body:          body,
		ExpireTimeout: 5000,
	}
	desktopEntry := a.desktopEntry
	a.mu.Unlock()

	urgency := notify.UrgencyNormal
	switch level {
	case AnnounceInfo:
		urgency = notify.UrgencyLow
		req.AppIcon = "dialog-information"
	case AnnounceWarning:
		urgency = notify.UrgencyNormal
		req.AppIcon = "dialog-warning"
	case AnnounceError:
		urgency = notify.UrgencyCritical
		req.AppIcon = "dialog-error"
	}
	req.SetHint("urgency", byte(urgency))
	req.SetHint("transient", true)
	if desktopEntry != "" {
		req.SetHint("desktop-entry", desktopEntry)
	}

	a.logger.Debug("sending announcement", "key", key, "summary", summary, "level", level)

	if _, err := a.service.Notify(ctx, req); err != nil {
		a.logger.Warn("failed to send announcement", "key", key, "error", err)
		return false
	}
	return true
}

// ThemeChanged announces a colour-scheme switch.
func (a *Announcer) ThemeChanged(ctx context.Context, isDark bool) bool {
	body := "The desktop switched to a light appearance."
	if isDark {
		body = "The desktop switched to a dark appearance."
	}
	return a.Announce(ctx, "theme-change", "Appearance Changed", body, AnnounceInfo)
}

// ConfigReloaded announces a successful configuration reload.
func (a *Announcer) ConfigReloaded(ctx context.Context) bool {
	return a.Announce(ctx, "config-reload", "Configuration Reloaded",
		a.appName+" configuration has been successfully reloaded.", AnnounceInfo)
}

// ConfigError announces a configuration reload failure.
func (a *Announcer) ConfigError(ctx context.Context, err error) bool {
	return a.Announce(ctx, "config-error", "Configuration Error",
		"Failed to reload configuration: "+err.Error(), AnnounceWarning)
}

// Startup announces that the service is running.
func (a *Announcer) Startup(ctx context.Context, version string) bool {
	return a.Announce(ctx, "startup", a.appName+" Started",
		"Desktop integration service v"+version+" is now running.", AnnounceInfo)
}
