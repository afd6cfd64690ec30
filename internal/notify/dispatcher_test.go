package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

// fakeBus is a bus.Client whose subscription is fed by tests and whose
// method calls are answered by a handler.
type fakeBus struct {
	mu sync.Mutex

	signals      chan *dbus.Signal
	subscribeErr error
	subscribed   chan *bus.Subscription

	calls   []string
	handler func(method string, args []any) ([]any, error)
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		signals:    make(chan *dbus.Signal, 32),
		subscribed: make(chan *bus.Subscription, 1),
	}
}

func (f *fakeBus) Query(context.Context, string, string) (dbus.Variant, error) {
	return dbus.Variant{}, bus.ErrUnavailable
}

func (f *fakeBus) Call(_ context.Context, dest string, path dbus.ObjectPath, method string, args ...any) ([]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	handler := f.handler
	f.mu.Unlock()

	if dest != BusName || path != ObjectPath {
		return nil, bus.ErrRejected
	}
	if handler == nil {
		return nil, bus.ErrUnavailable
	}
	return handler(method, args)
}

func (f *fakeBus) Subscribe(rule bus.MatchRule) (*bus.Subscription, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := bus.NewSubscription(rule, f.signals)
	select {
	case f.subscribed <- sub:
	default:
	}
	return sub, nil
}

func (f *fakeBus) Poll(sub *bus.Subscription, timeout time.Duration) ([]bus.Event, error) {
	return sub.Poll(timeout)
}

func (f *fakeBus) Close(sub *bus.Subscription) error {
	return sub.Close()
}

func (f *fakeBus) emit(member string, body ...any) {
	f.signals <- &dbus.Signal{
		Sender: ":1.30",
		Path:   ObjectPath,
		Name:   Interface + "." + member,
		Body:   body,
	}
}

type loopHarness struct {
	bus      *fakeBus
	svc      *fakeService
	registry *Registry
	loop     *Dispatcher
	done     chan error
}

func startLoop(t *testing.T) *loopHarness {
	t.Helper()

	h := &loopHarness{
		bus:  newFakeBus(),
		svc:  &fakeService{},
		done: make(chan error, 1),
	}
	h.registry = NewRegistry(h.svc, nil)
	require.NoError(t, h.registry.Init("test-app"))
	h.loop = NewDispatcher(h.bus, h.registry, nil)
	h.loop.SetPollInterval(10 * time.Millisecond)

	go func() { h.done <- h.loop.Run(context.Background()) }()

	select {
	case <-h.bus.subscribed:
	case <-time.After(time.Second):
		t.Fatal("dispatcher never subscribed")
	}

	t.Cleanup(func() {
		h.loop.Stop()
		select {
		case <-h.done:
		case <-time.After(time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return h
}

func (h *loopHarness) show(t *testing.T, id ID) uint32 {
	t.Helper()
	require.NoError(t, h.registry.Show(context.Background(), id))
	snap, err := h.registry.Get(id)
	require.NoError(t, err)
	return snap.ServerID
}

func TestDispatcher_ClickScenario(t *testing.T) {
	h := startLoop(t)

	id, err := h.registry.Create("Hello", "World", "")
	require.NoError(t, err)

	clicked := make(chan ID, 1)
	require.NoError(t, h.registry.SetClickedCallback(id, func(id ID) { clicked <- id }))
	serverID := h.show(t, id)

	h.bus.emit(SignalActionInvoked, serverID, DefaultAction)

	select {
	case got := <-clicked:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("click callback not invoked")
	}
}

func TestDispatcher_ButtonScenario(t *testing.T) {
	h := startLoop(t)

	id, err := h.registry.Create("Incoming call", "", "")
	require.NoError(t, err)
	require.NoError(t, h.registry.AddButton(id, "accept", "Accept"))
	require.NoError(t, h.registry.AddButton(id, "decline", "Decline"))

	pressed := make(chan string, 2)
	require.NoError(t, h.registry.SetButtonCallback(id, func(_ ID, action string) { pressed <- action }))
	serverID := h.show(t, id)

	h.bus.emit(SignalActionInvoked, serverID, "decline")

	select {
	case got := <-pressed:
		assert.Equal(t, "decline", got)
	case <-time.After(time.Second):
		t.Fatal("button callback not invoked")
	}
}

func TestDispatcher_CloseEvictsHandle(t *testing.T) {
	h := startLoop(t)

	id, err := h.registry.Create("Bye", "", "")
	require.NoError(t, err)

	closed := make(chan CloseReason, 1)
	require.NoError(t, h.registry.SetClosedCallback(id, func(_ ID, reason CloseReason) { closed <- reason }))
	serverID := h.show(t, id)

	h.bus.emit(SignalNotificationClosed, serverID, uint32(CloseReasonDismissed))

	select {
	case got := <-closed:
		assert.Equal(t, CloseReasonDismissed, got)
	case <-time.After(time.Second):
		t.Fatal("closed callback not invoked")
	}

	_, err = h.registry.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, h.registry.Show(context.Background(), id), ErrNotFound)
}

func TestDispatcher_IgnoresForeignAndMalformedSignals(t *testing.T) {
	h := startLoop(t)

	id, err := h.registry.Create("s", "", "")
	require.NoError(t, err)
	var clicks atomic.Int32
	require.NoError(t, h.registry.SetClickedCallback(id, func(ID) { clicks.Add(1) }))
	serverID := h.show(t, id)

	h.bus.emit(SignalActionInvoked, uint32(5000), DefaultAction) // another application's notification
	h.bus.emit(SignalActionInvoked, "not-an-id", DefaultAction)
	h.bus.emit(SignalActivationToken, serverID, "token")
	h.bus.emit(SignalActionInvoked, serverID, DefaultAction)

	require.Eventually(t, func() bool { return clicks.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.loop.Running())
}

func TestDispatcher_CallbacksAreSerialized(t *testing.T) {
	h := startLoop(t)

	var active, maxActive, total atomic.Int32
	cb := func(ID) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		total.Add(1)
	}

	var serverIDs []uint32
	for i := 0; i < 5; i++ {
		id, err := h.registry.Create("s", "", "")
		require.NoError(t, err)
		require.NoError(t, h.registry.SetClickedCallback(id, cb))
		serverIDs = append(serverIDs, h.show(t, id))
	}

	for _, sid := range serverIDs {
		h.bus.emit(SignalActionInvoked, sid, DefaultAction)
		h.loop.Post(func() { cb(0) })
	}

	require.Eventually(t, func() bool { return total.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestDispatcher_PanickingCallbackDoesNotStopLoop(t *testing.T) {
	h := startLoop(t)

	id, err := h.registry.Create("s", "", "")
	require.NoError(t, err)
	var calls atomic.Int32
	require.NoError(t, h.registry.SetClickedCallback(id, func(ID) {
		calls.Add(1)
		panic("boom")
	}))
	serverID := h.show(t, id)

	h.bus.emit(SignalActionInvoked, serverID, DefaultAction)
	h.bus.emit(SignalActionInvoked, serverID, DefaultAction)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.loop.Running())
}

func TestDispatcher_PostRunsOnLoop(t *testing.T) {
	h := startLoop(t)

	ran := make(chan struct{})
	h.loop.Post(func() {
		// posting from the loop itself must not deadlock
		h.loop.Post(func() { close(ran) })
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("posted function not run")
	}
}

func TestDispatcher_StopBeforeRunIsNoop(t *testing.T) {
	d := NewDispatcher(newFakeBus(), NewRegistry(&fakeService{}, nil), nil)
	d.Stop()
	d.Stop()
	assert.False(t, d.Running())
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	h := startLoop(t)
	assert.True(t, h.loop.Running())

	h.loop.Stop()
	h.loop.Stop()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, h.loop.Running())

	// the cleanup Stop on an idle loop is a no-op; feed done so it does not wait
	h.done <- nil
}

func TestDispatcher_RunTwiceFails(t *testing.T) {
	h := startLoop(t)
	err := h.loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrLoopRunning)
}

func TestDispatcher_ContextCancelStopsLoop(t *testing.T) {
	fb := newFakeBus()
	d := NewDispatcher(fb, NewRegistry(&fakeService{}, nil), nil)
	d.SetPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	<-fb.subscribed

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDispatcher_SubscribeFailure(t *testing.T) {
	fb := newFakeBus()
	fb.subscribeErr = bus.ErrUnavailable
	d := NewDispatcher(fb, NewRegistry(&fakeService{}, nil), nil)

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, bus.ErrUnavailable)
	assert.False(t, d.Running())
}

func TestDispatcher_SubscriptionLost(t *testing.T) {
	fb := newFakeBus()
	d := NewDispatcher(fb, NewRegistry(&fakeService{}, nil), nil)
	d.SetPollInterval(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	<-fb.subscribed

	close(fb.signals)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, bus.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the subscription closed")
	}
}
