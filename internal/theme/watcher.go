package theme

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

// DefaultPollInterval bounds how long the worker blocks waiting for signals,
// and so how quickly it notices Stop when the bus is quiet.
const DefaultPollInterval = 500 * time.Millisecond

// settingChangedRule selects the portal's SettingChanged signal.
var settingChangedRule = bus.MatchRule{
	Interface: bus.PortalSettingsInterface,
	Member:    SettingChangedMember,
	Path:      bus.PortalPath,
}

// Observer receives colour-scheme changes. It is called from the watcher's
// goroutine, never from the goroutine that called Start. An observer may
// call Stop; see Stop for how that differs.
type Observer func(isDark bool)

// Attacher acquires whatever execution context an observer needs for the
// duration of one call. detach is called once the observer returns, even if
// it panics.
type Attacher interface {
	Attach() (detach func(), err error)
}

// AttacherFunc adapts a function to the Attacher interface.
type AttacherFunc func() (func(), error)

// Attach calls f.
func (f AttacherFunc) Attach() (func(), error) {
	return f()
}

type noopAttacher struct{}

func (noopAttacher) Attach() (func(), error) { return func() {}, nil }

// WatcherState is the lifecycle state of a Watcher.
type WatcherState int32

const (
	// Idle means no worker exists.
	Idle WatcherState = iota
	// Running means a worker has been started and not yet stopped.
	Running
	// Stopping means Stop is waiting for the worker to exit.
	Stopping
)

// String returns the state name.
func (s WatcherState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Watcher follows colour-scheme changes on a dedicated subscription. A
// Watcher runs at most one worker at a time: Start while running and Stop
// while idle are no-ops.
type Watcher struct {
	mu     sync.Mutex
	logger *slog.Logger
	client bus.Client

	pollInterval time.Duration
	debounce     time.Duration
	attacher     Attacher

	state      WatcherState
	running    atomic.Bool
	delivering atomic.Bool
	detached   bool // Stop returned without joining; the worker resets state
	doneCh     chan struct{}
}

// NewWatcher creates a new theme watcher.
func NewWatcher(client bus.Client, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		logger:       logger,
		client:       client,
		pollInterval: DefaultPollInterval,
		attacher:     noopAttacher{},
	}
}

// SetPollInterval sets the bounded wait used by the worker. It takes effect
// on the next Start.
func (w *Watcher) SetPollInterval(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetDebounce sets the window within which a repeat of the last delivered
// value is dropped. Zero delivers every change. It takes effect on the next Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d >= 0 {
		w.debounce = d
	}
}

// SetAttacher sets the Attacher used around each observer call. nil restores
// the no-op attacher.
func (w *Watcher) SetAttacher(a Attacher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a == nil {
		a = noopAttacher{}
	}
	w.attacher = a
}

// Start launches the worker and returns immediately. Subscription failures
// are logged by the worker and never reported here.
func (w *Watcher) Start(observer Observer) {
	if observer == nil {
		w.logger.Warn("theme watcher started without an observer, ignoring")
		return
	}

	w.mu.Lock()
	if w.state != Idle {
		w.mu.Unlock()
		w.logger.Debug("theme watcher already started", "state", w.state.String())
		return
	}

	w.state = Running
	w.running.Store(true)
	w.doneCh = make(chan struct{})

	cfg := workerConfig{
		observer:     observer,
		attacher:     w.attacher,
		pollInterval: w.pollInterval,
		debounce:     w.debounce,
	}
	doneCh := w.doneCh
	w.mu.Unlock()

	go w.run(cfg, doneCh)

	w.logger.Debug("theme watcher started", "interval", cfg.pollInterval, "debounce", cfg.debounce)
}

// Stop clears the running flag and blocks until the worker has exited. No
// observer call happens after Stop returns.
//
// Stop called while an observer is executing, typically by the observer
// itself, cannot wait for the worker. It returns once the flag is cleared;
// the worker exits when the observer returns and moves the state to Idle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	switch w.state {
	case Idle:
		w.mu.Unlock()
		return
	case Stopping:
		// Another caller is already stopping; wait for the same worker
		doneCh := w.doneCh
		w.mu.Unlock()
		if !w.delivering.Load() {
			<-doneCh
		}
		return
	}

	w.state = Stopping
	w.running.Store(false)
	doneCh := w.doneCh
	if w.delivering.Load() {
		w.detached = true
		w.mu.Unlock()
		w.logger.Debug("theme watcher stopping from observer")
		return
	}
	w.mu.Unlock()

	<-doneCh

	w.mu.Lock()
	w.state = Idle
	w.mu.Unlock()

	w.logger.Debug("theme watcher stopped")
}

// State returns the current lifecycle state.
func (w *Watcher) State() WatcherState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsRunning returns whether the watcher has been started and not stopped.
// The worker itself may already have exited after a subscription failure.
func (w *Watcher) IsRunning() bool {
	return w.State() == Running
}

type workerConfig struct {
	observer     Observer
	attacher     Attacher
	pollInterval time.Duration
	debounce     time.Duration
}

// run is the worker loop.
func (w *Watcher) run(cfg workerConfig, doneCh chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.detached && w.doneCh == doneCh {
			w.detached = false
			w.state = Idle
			w.logger.Debug("theme watcher stopped")
		}
		w.mu.Unlock()
		close(doneCh)
	}()

	sub, err := w.client.Subscribe(settingChangedRule)
	if err != nil {
		w.logger.Warn("theme watcher failed to subscribe", "rule", settingChangedRule.String(), "error", err)
		return
	}
	defer func() {
		if err := w.client.Close(sub); err != nil {
			w.logger.Debug("failed to close theme subscription", "error", err)
		}
	}()

	var (
		lastDark  bool
		lastAt    time.Time
		delivered bool
	)

	for w.running.Load() {
		events, err := w.client.Poll(sub, cfg.pollInterval)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				w.logger.Info("theme subscription closed, watcher exiting")
			} else {
				w.logger.Warn("theme watcher poll failed", "error", err)
			}
			return
		}

		for _, e := range events {
			if !w.running.Load() {
				return
			}

			pref, ok, err := DecodeSettingChanged(e.Body)
			if err != nil {
				w.logger.Debug("ignoring malformed setting change", "sender", e.Sender, "error", err)
				continue
			}
			if !ok {
				continue
			}

			isDark := pref.IsDark()
			now := time.Now()
			if cfg.debounce > 0 && delivered && isDark == lastDark && now.Sub(lastAt) < cfg.debounce {
				w.logger.Debug("dropping repeated color scheme change", "preference", pref.String())
				continue
			}
			lastDark, lastAt, delivered = isDark, now, true

			w.logger.Debug("color scheme changed", "preference", pref.String())
			w.deliver(cfg, isDark)
		}
	}
}

// deliver invokes the observer inside an attached context.
func (w *Watcher) deliver(cfg workerConfig, isDark bool) {
	detach, err := cfg.attacher.Attach()
	if err != nil {
		w.logger.Warn("failed to attach observer context", "error", err)
		return
	}
	if detach != nil {
		defer detach()
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("theme observer panicked", "panic", r)
		}
	}()

	w.delivering.Store(true)
	defer w.delivering.Store(false)

	cfg.observer(isDark)
}
