package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/deskbridge/internal/bus"
	"github.com/jmylchreest/deskbridge/internal/config"
	"github.com/jmylchreest/deskbridge/internal/notify"
	"github.com/jmylchreest/deskbridge/internal/theme"
)

// Service is the host-facing API. The host builds one Service and passes it
// to whatever needs theme or notification access. It holds a single theme
// watcher, so StartWatching while watching and StopWatching while idle are
// no-ops.
type Service struct {
	mu     sync.Mutex
	logger *slog.Logger

	client    bus.Client
	notifier  notify.Service
	reader    *theme.Reader
	watcher   *theme.Watcher
	registry  *notify.Registry
	loop      *notify.Dispatcher
	announcer *Announcer

	cfg *config.Config
}

// Option configures a Service.
type Option func(*Service)

// WithNotificationService replaces the notification service, which
// otherwise talks to org.freedesktop.Notifications through the bus client.
func WithNotificationService(svc notify.Service) Option {
	return func(s *Service) {
		s.notifier = svc
	}
}

// WithAttacher sets the Attacher used around each theme observer call.
func WithAttacher(a theme.Attacher) Option {
	return func(s *Service) {
		s.watcher.SetAttacher(a)
	}
}

// New wires the theme and notification components over client. A nil cfg
// uses config.DefaultConfig.
func New(client bus.Client, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Service{
		logger:  logger,
		client:  client,
		reader:  theme.NewReader(client, logger.With("component", "theme")),
		watcher: theme.NewWatcher(client, logger.With("component", "theme-watcher")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NewDBusService(client, logger.With("component", "notifications"))
	}

	s.registry = notify.NewRegistry(s.notifier, logger.With("component", "registry"))
	s.loop = notify.NewDispatcher(client, s.registry, logger.With("component", "event-loop"))
	s.announcer = NewAnnouncer(s.notifier, cfg.Notifications.AppName, logger.With("component", "announcer"))

	if err := s.registry.Init(cfg.Notifications.AppName); err != nil {
		return nil, fmt.Errorf("failed to initialize notifications: %w", err)
	}
	s.ApplyConfig(cfg)

	return s, nil
}

// ApplyConfig updates component settings. Watcher and event loop timings
// take effect the next time they start.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.watcher.SetPollInterval(cfg.Theme.PollInterval.Duration())
	s.watcher.SetDebounce(cfg.Theme.Debounce.Duration())
	s.loop.SetPollInterval(cfg.Notifications.PollInterval.Duration())

	s.registry.SetDefaults(notify.Defaults{
		DesktopEntry:  cfg.Notifications.DesktopEntry,
		Urgency:       notify.Urgency(config.Urgency(cfg.Notifications.Urgency).Level()),
		ExpireTimeout: int32(cfg.Notifications.ExpireTimeout), //nolint:gosec // validated range
		MaxImageSize:  cfg.Notifications.MaxImageSize,
	})

	s.announcer.SetEnabled(cfg.Announce.Enabled)
	s.announcer.SetMinInterval(cfg.Announce.MinInterval.Duration())
	s.announcer.SetDesktopEntry(cfg.Notifications.DesktopEntry)

	s.logger.Debug("configuration applied",
		"theme_poll", cfg.Theme.PollInterval.Duration(),
		"debounce", cfg.Theme.Debounce.Duration(),
		"announce", cfg.Announce.Enabled,
	)
}

// Config returns the configuration last applied.
func (s *Service) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Announcer returns the service's announcer.
func (s *Service) Announcer() *Announcer {
	return s.announcer
}

// ReadPreference returns the current colour-scheme preference, or
// theme.NoPreference if it cannot be determined.
func (s *Service) ReadPreference(ctx context.Context) theme.Preference {
	return s.reader.ReadPreference(ctx)
}

// StartWatching starts following colour-scheme changes. It returns at once;
// observer is called from the watcher goroutine.
func (s *Service) StartWatching(observer theme.Observer) {
	s.watcher.Start(observer)
}

// StopWatching stops the watcher and waits for it to exit.
func (s *Service) StopWatching() {
	s.watcher.Stop()
}

// WatcherState returns the theme watcher's state.
func (s *Service) WatcherState() theme.WatcherState {
	return s.watcher.State()
}

// CreateNotification registers a new notification.
func (s *Service) CreateNotification(summary, body, icon string) (notify.ID, error) {
	return s.registry.Create(summary, body, icon)
}

// NotificationOption configures a notification.
type NotificationOption func(*notificationSettings)

type notificationSettings struct {
	buttons []notify.Action
	image   *string
	urgency *notify.Urgency
	expire  *int32
	clicked *notify.ClickedFunc
	closed  *notify.ClosedFunc
	button  *notify.ButtonFunc
}

// WithButton adds a button.
func WithButton(action, label string) NotificationOption {
	return func(n *notificationSettings) {
		n.buttons = append(n.buttons, notify.Action{Key: action, Label: label})
	}
}

// WithImage sets the image file. An empty path removes the image.
func WithImage(path string) NotificationOption {
	return func(n *notificationSettings) { n.image = &path }
}

// WithUrgency sets the urgency.
func WithUrgency(u notify.Urgency) NotificationOption {
	return func(n *notificationSettings) { n.urgency = &u }
}

// WithExpireTimeout sets the expiry in milliseconds.
func WithExpireTimeout(ms int32) NotificationOption {
	return func(n *notificationSettings) { n.expire = &ms }
}

// OnClicked sets the click callback. nil clears it.
func OnClicked(cb notify.ClickedFunc) NotificationOption {
	return func(n *notificationSettings) { n.clicked = &cb }
}

// OnClosed sets the close callback. nil clears it.
func OnClosed(cb notify.ClosedFunc) NotificationOption {
	return func(n *notificationSettings) { n.closed = &cb }
}

// OnButton sets the button callback. nil clears it.
func OnButton(cb notify.ButtonFunc) NotificationOption {
	return func(n *notificationSettings) { n.button = &cb }
}

// ConfigureNotification applies opts to a notification. Options are checked
// before anything is changed, so an invalid option leaves it untouched.
func (s *Service) ConfigureNotification(id notify.ID, opts ...NotificationOption) error {
	var n notificationSettings
	for _, opt := range opts {
		opt(&n)
	}

	if _, err := s.registry.Get(id); err != nil {
		return err
	}
	for _, b := range n.buttons {
		if b.Key == "" {
			return fmt.Errorf("button %q has an empty action id", b.Label)
		}
		if b.Key == notify.DefaultAction {
			return fmt.Errorf("button %q uses the reserved action id %q", b.Label, notify.DefaultAction)
		}
	}
	if n.expire != nil && *n.expire < notify.ExpireDefault {
		return fmt.Errorf("invalid expire timeout %d", *n.expire)
	}

	for _, b := range n.buttons {
		if err := s.registry.AddButton(id, b.Key, b.Label); err != nil {
			return err
		}
	}
	if n.image != nil {
		if err := s.registry.SetImage(id, *n.image); err != nil {
			return err
		}
	}
	if n.urgency != nil {
		if err := s.registry.SetUrgency(id, *n.urgency); err != nil {
			return err
		}
	}
	if n.expire != nil {
		if err := s.registry.SetExpireTimeout(id, *n.expire); err != nil {
			return err
		}
	}
	if n.clicked != nil {
		if err := s.registry.SetClickedCallback(id, *n.clicked); err != nil {
			return err
		}
	}
	if n.closed != nil {
		if err := s.registry.SetClosedCallback(id, *n.closed); err != nil {
			return err
		}
	}
	if n.button != nil {
		if err := s.registry.SetButtonCallback(id, *n.button); err != nil {
			return err
		}
	}
	return nil
}

// Notification returns a snapshot of a notification.
func (s *Service) Notification(id notify.ID) (notify.Snapshot, error) {
	return s.registry.Get(id)
}

// Show displays or updates a notification.
func (s *Service) Show(ctx context.Context, id notify.ID) error {
	return s.registry.Show(ctx, id)
}

// Close closes a notification and forgets it.
func (s *Service) Close(ctx context.Context, id notify.ID) error {
	return s.registry.Close(ctx, id)
}

// Dispose forgets a notification without closing it on screen.
func (s *Service) Dispose(id notify.ID) {
	s.registry.Dispose(id)
}

// RunEventLoop runs the notification event loop on the calling goroutine
// until StopEventLoop is called or ctx is done.
func (s *Service) RunEventLoop(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// StopEventLoop makes RunEventLoop return. Safe to call at any time.
func (s *Service) StopEventLoop() {
	s.loop.Stop()
}

// EventLoopRunning reports whether RunEventLoop is executing.
func (s *Service) EventLoopRunning() bool {
	return s.loop.Running()
}

// Post runs fn on the event loop goroutine.
func (s *Service) Post(fn func()) {
	s.loop.Post(fn)
}

// Capabilities returns the notification server's capabilities.
func (s *Service) Capabilities(ctx context.Context) (notify.Capabilities, error) {
	return s.notifier.Capabilities(ctx)
}

// ServerInformation identifies the notification server.
func (s *Service) ServerInformation(ctx context.Context) (notify.ServerInfo, error) {
	return s.notifier.ServerInformation(ctx)
}

// disconnecter is implemented by bus clients holding a shared connection.
type disconnecter interface {
	Disconnect() error
}

// Shutdown stops the watcher and event loop, disposes every notification
// and releases the bus connection.
func (s *Service) Shutdown() {
	s.watcher.Stop()
	s.loop.Stop()
	n := s.registry.Shutdown()

	if d, ok := s.client.(disconnecter); ok {
		if err := d.Disconnect(); err != nil {
			s.logger.Debug("failed to disconnect from session bus", "error", err)
		}
	}

	s.logger.Debug("service shut down", "disposed", n)
}
