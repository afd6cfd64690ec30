package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

// DefaultPollInterval bounds each wait for notification signals.
const DefaultPollInterval = 100 * time.Millisecond

// Dispatcher runs the event loop that turns notification signals into
// callback invocations. Callbacks and posted functions run one at a time on
// the goroutine that called Run.
type Dispatcher struct {
	mu     sync.Mutex
	logger *slog.Logger

	client   bus.Client
	registry *Registry

	pollInterval time.Duration

	running bool
	stopCh  chan struct{}
	stopped bool

	queue []func()
	wake  chan struct{}
}

// NewDispatcher creates a Dispatcher routing events into registry.
func NewDispatcher(client bus.Client, registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:       logger,
		client:       client,
		registry:     registry,
		pollInterval: DefaultPollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// SetPollInterval sets the bounded wait used when polling for signals.
func (d *Dispatcher) SetPollInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if interval > 0 {
		d.pollInterval = interval
	}
}

// Running reports whether Run is executing.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Post queues fn to run on the loop goroutine. Functions posted while the
// loop is not running run once it starts.
func (d *Dispatcher) Post(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop asks a running loop to return. It does not wait, and is a no-op
// when the loop is not running.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.stopped {
		return
	}
	d.stopped = true
	close(d.stopCh)
}

// Run subscribes to notification signals and dispatches them until Stop is
// called or ctx is done, in which case it returns nil. It returns an error
// if the subscription cannot be set up or is lost.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrLoopRunning
	}
	d.running = true
	d.stopped = false
	d.stopCh = make(chan struct{})
	stopCh := d.stopCh
	pollInterval := d.pollInterval
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	sub, err := d.client.Subscribe(eventRule)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notification signals: %w", err)
	}

	events := make(chan []bus.Event)
	pollErr := make(chan error, 1)
	quit := make(chan struct{})
	pollerDone := make(chan struct{})

	go d.poll(sub, pollInterval, events, pollErr, quit, pollerDone)

	// Closing the subscription unblocks a poller waiting on the bus
	defer func() {
		close(quit)
		if err := d.client.Close(sub); err != nil {
			d.logger.Debug("failed to close notification subscription", "error", err)
		}
		<-pollerDone
	}()

	d.logger.Debug("notification event loop started")
	d.runPosted()

	for {
		select {
		case <-stopCh:
			d.logger.Debug("notification event loop stopped")
			return nil

		case <-ctx.Done():
			d.logger.Debug("notification event loop cancelled")
			return nil

		case <-d.wake:
			d.runPosted()

		case batch := <-events:
			for _, e := range batch {
				d.dispatch(e)
			}

		case err := <-pollErr:
			return fmt.Errorf("notification event loop: %w", err)
		}
	}
}

// poll feeds signal batches to the loop until the subscription closes or
// the loop exits.
func (d *Dispatcher) poll(sub *bus.Subscription, interval time.Duration, events chan<- []bus.Event, errCh chan<- error, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		batch, err := d.client.Poll(sub, interval)
		if err != nil {
			select {
			case <-quit:
			default:
				if errors.Is(err, bus.ErrClosed) {
					d.logger.Warn("notification signal subscription closed")
				}
				errCh <- err
			}
			return
		}
		if len(batch) == 0 {
			continue
		}

		select {
		case events <- batch:
		case <-quit:
			return
		}
	}
}

// runPosted drains the posted queue. Functions posted by a posted function
// run in the same pass.
func (d *Dispatcher) runPosted() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.safely("posted function", fn)
	}
}

// dispatch decodes one signal and routes it to the registry.
func (d *Dispatcher) dispatch(e bus.Event) {
	ev, ok, err := DecodeEvent(e)
	if err != nil {
		d.logger.Debug("ignoring malformed notification signal", "signal", e.Name, "error", err)
		return
	}
	if !ok {
		return
	}

	d.safely("notification callback", func() {
		if !d.registry.Route(ev) {
			d.logger.Debug("notification event for unknown id", "server_id", ev.ServerID, "kind", ev.Kind.String())
		}
	})
}

// safely runs fn, recovering and logging a panic so the loop survives.
func (d *Dispatcher) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(what+" panicked", "panic", r)
		}
	}()
	fn()
}
