package notify

import (
	"context"
	"errors"
	"image/color"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

// fakeService records requests and hands out server ids.
type fakeService struct {
	mu sync.Mutex

	nextID   uint32
	requests []*Request
	closed   []uint32

	notifyErr error
	closeErr  error

	caps Capabilities
	info ServerInfo

	// When set, Notify reports on entered and waits for gate.
	entered chan struct{}
	gate    chan struct{}
}

func (s *fakeService) Notify(_ context.Context, req *Request) (uint32, error) {
	if s.gate != nil {
		s.entered <- struct{}{}
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifyErr != nil {
		return 0, s.notifyErr
	}
	s.requests = append(s.requests, req)
	if req.ReplacesID != 0 {
		return req.ReplacesID, nil
	}
	s.nextID++
	return s.nextID + 100, nil
}

func (s *fakeService) CloseNotification(_ context.Context, serverID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	s.closed = append(s.closed, serverID)
	return nil
}

func (s *fakeService) Capabilities(context.Context) (Capabilities, error) { return s.caps, nil }

func (s *fakeService) ServerInformation(context.Context) (ServerInfo, error) { return s.info, nil }

func (s *fakeService) closedIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.closed)
}

func (s *fakeService) lastRequest() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func newTestRegistry(t *testing.T) (*Registry, *fakeService) {
	t.Helper()
	svc := &fakeService{}
	r := NewRegistry(svc, nil)
	require.NoError(t, r.Init("test-app"))
	return r, svc
}

func TestRegistry_CreateBeforeInit(t *testing.T) {
	r := NewRegistry(&fakeService{}, nil)
	_, err := r.Create("s", "b", "")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_InitIsIdempotent(t *testing.T) {
	r := NewRegistry(&fakeService{}, nil)
	require.NoError(t, r.Init("first"))
	require.NoError(t, r.Init("second"))
	assert.Equal(t, "first", r.AppName())
	assert.True(t, r.Initialized())

	other := NewRegistry(&fakeService{}, nil)
	require.NoError(t, other.Init(""))
	assert.Equal(t, DefaultAppName, other.AppName())
}

func TestRegistry_IDsIncreaseAndAreNeverReused(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, err := r.Create("a", "", "")
	require.NoError(t, err)
	b, err := r.Create("b", "", "")
	require.NoError(t, err)
	r.Dispose(b)
	c, err := r.Create("c", "", "")
	require.NoError(t, err)

	assert.Equal(t, ID(1), a)
	assert.Greater(t, b, a)
	assert.Greater(t, c, b)
	assert.Equal(t, []ID{a, c}, r.IDs())

	r.Shutdown()
	require.NoError(t, r.Init("again"))
	d, err := r.Create("d", "", "")
	require.NoError(t, err)
	assert.Greater(t, d, c)
}

func TestRegistry_UnknownIDReturnsNotFound(t *testing.T) {
	r, svc := newTestRegistry(t)
	ctx := context.Background()
	const missing = ID(42)

	tests := []struct {
		name string
		op   func() error
	}{
		{"AddButton", func() error { return r.AddButton(missing, "a", "A") }},
		{"SetImage", func() error { return r.SetImage(missing, "/nonexistent.png") }},
		{"SetUrgency", func() error { return r.SetUrgency(missing, UrgencyLow) }},
		{"SetExpireTimeout", func() error { return r.SetExpireTimeout(missing, 5000) }},
		{"SetClickedCallback", func() error { return r.SetClickedCallback(missing, func(ID) {}) }},
		{"SetClosedCallback", func() error { return r.SetClosedCallback(missing, nil) }},
		{"SetButtonCallback", func() error { return r.SetButtonCallback(missing, nil) }},
		{"Show", func() error { return r.Show(ctx, missing) }},
		{"Close", func() error { return r.Close(ctx, missing) }},
		{"Get", func() error { _, err := r.Get(missing); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.op(), ErrNotFound)
		})
	}

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, svc.lastRequest(), "no service traffic for unknown ids")
}

func TestRegistry_ShowBuildsRequest(t *testing.T) {
	r, svc := newTestRegistry(t)
	r.SetDefaults(Defaults{
		DesktopEntry:  "org.example.App",
		Urgency:       UrgencyLow,
		ExpireTimeout: 3000,
	})

	id, err := r.Create("Build finished", "All green", "dialog-information")
	require.NoError(t, err)
	require.NoError(t, r.AddButton(id, "open", "Open"))
	require.NoError(t, r.AddButton(id, "dismiss", "Dismiss"))
	require.NoError(t, r.SetUrgency(id, UrgencyCritical))

	require.NoError(t, r.Show(context.Background(), id))

	req := svc.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "test-app", req.AppName)
	assert.Equal(t, uint32(0), req.ReplacesID)
	assert.Equal(t, "dialog-information", req.AppIcon)
	assert.Equal(t, "Build finished", req.Summary)
	assert.Equal(t, "All green", req.Body)
	assert.Equal(t, []string{"open", "Open", "dismiss", "Dismiss"}, req.ActionList())
	assert.Equal(t, UrgencyCritical, req.Urgency())
	assert.Equal(t, "org.example.App", req.DesktopEntry())
	assert.Equal(t, int32(3000), req.ExpireTimeout)
	assert.NotContains(t, req.Hints, "image-data")

	snap, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "shown", snap.State)
	assert.Equal(t, uint32(101), snap.ServerID)

	got, ok := r.Lookup(101)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestRegistry_ReshowReplaces(t *testing.T) {
	r, svc := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create("Downloading", "10%", "")
	require.NoError(t, err)
	require.NoError(t, r.Show(ctx, id))
	first, _ := r.Get(id)

	require.NoError(t, r.AddButton(id, "cancel", "Cancel"))
	require.NoError(t, r.Show(ctx, id))

	req := svc.lastRequest()
	assert.Equal(t, first.ServerID, req.ReplacesID)
	assert.Equal(t, []string{"cancel", "Cancel"}, req.ActionList())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ClickCallbackAddsDefaultAction(t *testing.T) {
	r, svc := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create("s", "", "")
	require.NoError(t, err)
	require.NoError(t, r.AddButton(id, "reply", "Reply"))
	require.NoError(t, r.SetClickedCallback(id, func(ID) {}))
	require.NoError(t, r.Show(ctx, id))
	assert.Equal(t, []string{"reply", "Reply", DefaultAction, DefaultActionLabel}, svc.lastRequest().ActionList())

	require.NoError(t, r.SetClickedCallback(id, nil))
	require.NoError(t, r.Show(ctx, id))
	assert.Equal(t, []string{"reply", "Reply"}, svc.lastRequest().ActionList())
}

func TestRegistry_ShowFailureLeavesStateUnchanged(t *testing.T) {
	r, svc := newTestRegistry(t)
	svc.notifyErr = bus.ErrUnavailable

	id, err := r.Create("s", "", "")
	require.NoError(t, err)

	err = r.Show(context.Background(), id)
	assert.ErrorIs(t, err, ErrServiceRejected)
	assert.ErrorIs(t, err, bus.ErrUnavailable)

	snap, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "created", snap.State)
	assert.Zero(t, snap.ServerID)
}

func TestRegistry_Close(t *testing.T) {
	r, svc := newTestRegistry(t)
	ctx := context.Background()

	shown, err := r.Create("shown", "", "")
	require.NoError(t, err)
	require.NoError(t, r.Show(ctx, shown))
	snap, _ := r.Get(shown)

	require.NoError(t, r.Close(ctx, shown))
	assert.Equal(t, []uint32{snap.ServerID}, svc.closed)
	_, err = r.Get(shown)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := r.Lookup(snap.ServerID)
	assert.False(t, ok)

	// second close fails, nothing left to close
	assert.ErrorIs(t, r.Close(ctx, shown), ErrNotFound)

	neverShown, err := r.Create("draft", "", "")
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx, neverShown))
	assert.Len(t, svc.closed, 1, "unshown notifications are not sent to the server")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CloseFailureKeepsEntry(t *testing.T) {
	r, svc := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Create("s", "", "")
	require.NoError(t, err)
	require.NoError(t, r.Show(ctx, id))

	svc.closeErr = errors.New("org.freedesktop.DBus.Error.Failed")
	err = r.Close(ctx, id)
	assert.ErrorIs(t, err, ErrServiceRejected)

	snap, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "shown", snap.State)
}

func TestRegistry_DisposeIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Create("s", "", "")
	require.NoError(t, err)

	r.Dispose(id)
	r.Dispose(id)
	r.Dispose(ID(999))

	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, r.AddButton(id, "a", "A"), ErrNotFound)
}

func TestRegistry_SetImage(t *testing.T) {
	r, svc := newTestRegistry(t)
	r.SetDefaults(Defaults{MaxImageSize: 32, Urgency: UrgencyNormal, ExpireTimeout: ExpireDefault})
	path := writePNG(t, t.TempDir(), solidImage(64, 64, color.White))

	id, err := r.Create("s", "", "")
	require.NoError(t, err)

	// unreadable image is a logged no-op
	require.NoError(t, r.SetImage(id, "/definitely/missing.png"))
	snap, _ := r.Get(id)
	assert.False(t, snap.HasImage)

	require.NoError(t, r.SetImage(id, path))
	snap, _ = r.Get(id)
	assert.True(t, snap.HasImage)
	assert.Equal(t, path, snap.ImagePath)

	require.NoError(t, r.Show(context.Background(), id))
	hint, ok := svc.lastRequest().Hints["image-data"]
	require.True(t, ok)
	img, ok := hint.Value().(Image)
	require.True(t, ok)
	assert.Equal(t, int32(32), img.Width)

	require.NoError(t, r.SetImage(id, ""))
	snap, _ = r.Get(id)
	assert.False(t, snap.HasImage)
}

func TestRegistry_SetExpireTimeoutValidates(t *testing.T) {
	r, _ := newTestRegistry(t)
	id, err := r.Create("s", "", "")
	require.NoError(t, err)

	assert.Error(t, r.SetExpireTimeout(id, -2))
	require.NoError(t, r.SetExpireTimeout(id, ExpireNever))

	snap, _ := r.Get(id)
	assert.Equal(t, ExpireNever, snap.ExpireTimeout)
}

func TestRegistry_AddButtonRejectsEmptyAction(t *testing.T) {
	r, _ := newTestRegistry(t)
	id, err := r.Create("s", "", "")
	require.NoError(t, err)
	assert.Error(t, r.AddButton(id, "", "Label"))
}

func TestRegistry_StateTransitions(t *testing.T) {
	r, _ := newTestRegistry(t)
	id, err := r.Create("s", "", "")
	require.NoError(t, err)

	snap, _ := r.Get(id)
	assert.Equal(t, StateCreated.String(), snap.State)

	require.NoError(t, r.SetButtonCallback(id, func(ID, string) {}))
	snap, _ = r.Get(id)
	assert.Equal(t, StateConfigured.String(), snap.State)

	require.NoError(t, r.Show(context.Background(), id))
	snap, _ = r.Get(id)
	assert.Equal(t, StateShown.String(), snap.State)

	// configuring after show keeps it shown
	require.NoError(t, r.AddButton(id, "x", "X"))
	snap, _ = r.Get(id)
	assert.Equal(t, StateShown.String(), snap.State)
}

func TestRegistry_RouteCallbacksArePerHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var clicks, buttons []ID
	var actions []string

	a, _ := r.Create("a", "", "")
	b, _ := r.Create("b", "", "")
	require.NoError(t, r.SetClickedCallback(a, func(id ID) { clicks = append(clicks, id) }))
	require.NoError(t, r.SetButtonCallback(b, func(id ID, action string) {
		buttons = append(buttons, id)
		actions = append(actions, action)
	}))
	require.NoError(t, r.Show(ctx, a))
	require.NoError(t, r.Show(ctx, b))

	sa, _ := r.Get(a)
	sb, _ := r.Get(b)

	assert.True(t, r.Route(Event{Kind: EventActionInvoked, ServerID: sa.ServerID, Action: DefaultAction}))
	assert.True(t, r.Route(Event{Kind: EventActionInvoked, ServerID: sb.ServerID, Action: "reply"}))
	// a has no button callback, b has no click callback
	assert.True(t, r.Route(Event{Kind: EventActionInvoked, ServerID: sa.ServerID, Action: "reply"}))
	assert.False(t, r.Route(Event{Kind: EventActionInvoked, ServerID: 9999, Action: DefaultAction}))

	assert.Equal(t, []ID{a}, clicks)
	assert.Equal(t, []ID{b}, buttons)
	assert.Equal(t, []string{"reply"}, actions)
}

func TestRegistry_RouteCloseEvicts(t *testing.T) {
	r, _ := newTestRegistry(t)

	var closedID ID
	var closedReason CloseReason
	id, _ := r.Create("s", "", "")
	require.NoError(t, r.SetClosedCallback(id, func(id ID, reason CloseReason) {
		closedID, closedReason = id, reason
		// the handle is already gone when the callback runs
		_, err := r.Get(id)
		assert.ErrorIs(t, err, ErrNotFound)
	}))
	require.NoError(t, r.Show(context.Background(), id))
	snap, _ := r.Get(id)

	assert.True(t, r.Route(Event{Kind: EventClosed, ServerID: snap.ServerID, Reason: CloseReasonExpired}))
	assert.Equal(t, id, closedID)
	assert.Equal(t, CloseReasonExpired, closedReason)
	assert.Equal(t, 0, r.Len())

	assert.False(t, r.Route(Event{Kind: EventClosed, ServerID: snap.ServerID, Reason: CloseReasonExpired}))
}

func TestRegistry_Shutdown(t *testing.T) {
	r, _ := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		_, err := r.Create("s", "", "")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, r.Shutdown())
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Initialized())

	_, err := r.Create("s", "", "")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := r.Create("s", "", "")
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, r.AddButton(id, "a", "A"))
				assert.NoError(t, r.Show(ctx, id))
				assert.NoError(t, r.Close(ctx, id))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "configured", StateConfigured.String())
	assert.Equal(t, "shown", StateShown.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestRegistry_CloseDuringShow(t *testing.T) {
	tests := []struct {
		name       string
		remove     func(r *Registry, id ID) error
		wantClosed []uint32
	}{
		{
			name:       "close sends server close once shown",
			remove:     func(r *Registry, id ID) error { return r.Close(context.Background(), id) },
			wantClosed: []uint32{101},
		},
		{
			name: "dispose leaves server notification alone",
			remove: func(r *Registry, id ID) error {
				r.Dispose(id)
				return nil
			},
			wantClosed: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, svc := newTestRegistry(t)
			svc.entered = make(chan struct{})
			svc.gate = make(chan struct{})

			id, err := r.Create("s", "b", "")
			require.NoError(t, err)

			showErr := make(chan error, 1)
			go func() { showErr <- r.Show(context.Background(), id) }()

			<-svc.entered
			require.NoError(t, tt.remove(r, id))
			close(svc.gate)

			assert.ErrorIs(t, <-showErr, ErrNotFound)
			assert.Equal(t, tt.wantClosed, svc.closedIDs())
			assert.Equal(t, 0, r.Len())

			_, ok := r.Lookup(101)
			assert.False(t, ok)
		})
	}
}

func TestRegistry_CloseShownDuringReshow(t *testing.T) {
	r, svc := newTestRegistry(t)

	id, err := r.Create("s", "", "")
	require.NoError(t, err)
	require.NoError(t, r.Show(context.Background(), id))

	svc.entered = make(chan struct{})
	svc.gate = make(chan struct{})

	showErr := make(chan error, 1)
	go func() { showErr <- r.Show(context.Background(), id) }()

	<-svc.entered
	require.NoError(t, r.Close(context.Background(), id))
	close(svc.gate)

	assert.ErrorIs(t, <-showErr, ErrNotFound)
	assert.Equal(t, []uint32{101, 101}, svc.closedIDs())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DefaultActionIsReserved(t *testing.T) {
	r, svc := newTestRegistry(t)

	id, err := r.Create("s", "", "")
	require.NoError(t, err)

	err = r.AddButton(id, DefaultAction, "Open")
	assert.Error(t, err)

	require.NoError(t, r.AddButton(id, "open", "Open"))
	require.NoError(t, r.SetClickedCallback(id, func(ID) {}))
	require.NoError(t, r.Show(context.Background(), id))

	assert.Equal(t, []string{"open", "Open", DefaultAction, DefaultActionLabel}, svc.lastRequest().ActionList())
}
