package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultAppName is used by Init when no application name is given.
const DefaultAppName = "deskbridge"

// ID identifies a notification in the registry. IDs start at 1, increase
// strictly and are never reused.
type ID uint32

// State is the lifecycle state of a registered notification. A removed
// notification has no state; lookups for it fail with ErrNotFound.
type State int

const (
	// StateCreated means the handle exists but nothing has been attached.
	StateCreated State = iota
	// StateConfigured means buttons, an image or callbacks were attached.
	StateConfigured
	// StateShown means the server is displaying the notification.
	StateShown
	// StateClosed means the server reported the notification closed.
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateShown:
		return "shown"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks invoked from the dispatcher loop.
type (
	ClickedFunc func(id ID)
	ClosedFunc  func(id ID, reason CloseReason)
	ButtonFunc  func(id ID, action string)
)

// Defaults are applied to every notification at creation.
type Defaults struct {
	DesktopEntry  string
	Urgency       Urgency
	ExpireTimeout int32
	MaxImageSize  int
}

// DefaultDefaults returns the registry's built-in defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Urgency:       UrgencyNormal,
		ExpireTimeout: ExpireDefault,
		MaxImageSize:  DefaultMaxImageSize,
	}
}

// entry is the registry-owned record behind an ID.
type entry struct {
	id        ID
	summary   string
	body      string
	icon      string
	imagePath string
	image     *Image
	buttons   []Action
	urgency   Urgency
	expire    int32

	onClicked ClickedFunc
	onClosed  ClosedFunc
	onButton  ButtonFunc

	serverID  uint32
	state     State
	showing   int // Show calls waiting on the server
	createdAt time.Time
}

// actions returns the wire action list: buttons in order, then the
// default action when a click callback is set.
func (e *entry) actions() []Action {
	actions := slices.Clone(e.buttons)
	if e.onClicked != nil {
		actions = append(actions, Action{Key: DefaultAction, Label: DefaultActionLabel})
	}
	return actions
}

func (e *entry) configured() {
	if e.state == StateCreated {
		e.state = StateConfigured
	}
}

// Snapshot is a copy of a notification's state.
type Snapshot struct {
	ID            ID        `json:"id" yaml:"id"`
	Summary       string    `json:"summary" yaml:"summary"`
	Body          string    `json:"body,omitempty" yaml:"body,omitempty"`
	Icon          string    `json:"icon,omitempty" yaml:"icon,omitempty"`
	ImagePath     string    `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	HasImage      bool      `json:"has_image" yaml:"has_image"`
	Actions       []Action  `json:"actions,omitempty" yaml:"actions,omitempty"`
	Urgency       string    `json:"urgency" yaml:"urgency"`
	ExpireTimeout int32     `json:"expire_timeout" yaml:"expire_timeout"`
	ServerID      uint32    `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	State         string    `json:"state" yaml:"state"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

// Registry owns every live notification. Callers hold only IDs. All
// operations are safe for concurrent use; no service call is made while
// the registry lock is held.
type Registry struct {
	mu     sync.Mutex
	logger *slog.Logger

	service  Service
	defaults Defaults

	appName     string
	initialized bool
	nextID      ID

	// Map registry ID to entry
	entries map[ID]*entry

	// Map server ID to registry ID (for routing signals)
	byServerID map[uint32]ID

	// Show calls still in flight for IDs closed in the meantime
	closeOnShow map[ID]int
}

// NewRegistry creates a new Registry backed by service.
func NewRegistry(service Service, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:     logger,
		service:    service,
		defaults:   DefaultDefaults(),
		entries:     make(map[ID]*entry),
		byServerID:  make(map[uint32]ID),
		closeOnShow: make(map[ID]int),
	}
}

// SetDefaults replaces the defaults applied to notifications created from now on.
func (r *Registry) SetDefaults(d Defaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.MaxImageSize <= 0 {
		d.MaxImageSize = DefaultMaxImageSize
	}
	r.defaults = d
}

// Init marks the registry ready for use under appName. Calling it again
// is a no-op and keeps the first name.
func (r *Registry) Init(appName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		r.logger.Debug("notification registry already initialized", "app_name", r.appName)
		return nil
	}
	if appName == "" {
		appName = DefaultAppName
	}
	r.appName = appName
	r.initialized = true
	r.logger.Debug("notification registry initialized", "app_name", appName)
	return nil
}

// Initialized reports whether Init has been called since the last Shutdown.
func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// AppName returns the name given to Init.
func (r *Registry) AppName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appName
}

// Create registers a new notification and returns its ID.
func (r *Registry) Create(summary, body, icon string) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return 0, ErrNotInitialized
	}
	if r.nextID == ^ID(0) {
		return 0, errors.New("notification id space exhausted")
	}

	r.nextID++
	e := &entry{
		id:        r.nextID,
		summary:   summary,
		body:      body,
		icon:      icon,
		urgency:   r.defaults.Urgency,
		expire:    r.defaults.ExpireTimeout,
		state:     StateCreated,
		createdAt: time.Now(),
	}
	r.entries[e.id] = e

	r.logger.Debug("notification created", "id", e.id, "summary", summary)
	return e.id, nil
}

// lookup returns the entry for id. Callers must hold r.mu.
func (r *Registry) lookup(id ID) (*entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return e, nil
}

// update runs fn on the entry for id under the lock and marks it configured.
func (r *Registry) update(id ID, fn func(e *entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	fn(e)
	e.configured()
	return nil
}

// AddButton appends a button. Buttons are sent in the order they were added.
func (r *Registry) AddButton(id ID, action, label string) error {
	if action == "" {
		return errors.New("button action id must not be empty")
	}
	if action == DefaultAction {
		return fmt.Errorf("button action id %q is reserved for clicks", DefaultAction)
	}
	return r.update(id, func(e *entry) {
		e.buttons = append(e.buttons, Action{Key: action, Label: label})
	})
}

// SetImage loads the image at path and attaches it. A file that cannot be
// read or decoded is logged and leaves the notification unchanged. An
// empty path removes the image.
func (r *Registry) SetImage(id ID, path string) error {
	r.mu.Lock()
	if _, err := r.lookup(id); err != nil {
		r.mu.Unlock()
		return err
	}
	maxSize := r.defaults.MaxImageSize
	r.mu.Unlock()

	var img *Image
	if path != "" {
		var err error
		img, err = LoadImage(path, maxSize)
		if err != nil {
			r.logger.Warn("failed to load notification image", "id", id, "path", path, "error", err)
			return nil
		}
		r.logger.Debug("notification image loaded", "id", id, "path", path, "width", img.Width, "height", img.Height)
	}

	return r.update(id, func(e *entry) {
		e.image = img
		e.imagePath = path
	})
}

// SetUrgency sets the urgency hint.
func (r *Registry) SetUrgency(id ID, u Urgency) error {
	return r.update(id, func(e *entry) { e.urgency = u })
}

// SetExpireTimeout sets the expiry in milliseconds (-1 server default, 0 never).
func (r *Registry) SetExpireTimeout(id ID, ms int32) error {
	if ms < ExpireDefault {
		return fmt.Errorf("invalid expire timeout %d", ms)
	}
	return r.update(id, func(e *entry) { e.expire = ms })
}

// SetClickedCallback sets the callback for clicks on the notification
// body. A non-nil callback adds the default action; nil removes both.
func (r *Registry) SetClickedCallback(id ID, cb ClickedFunc) error {
	return r.update(id, func(e *entry) { e.onClicked = cb })
}

// SetClosedCallback sets the callback run when the server closes the notification.
func (r *Registry) SetClosedCallback(id ID, cb ClosedFunc) error {
	return r.update(id, func(e *entry) { e.onClosed = cb })
}

// SetButtonCallback sets the callback run when one of the buttons is pressed.
func (r *Registry) SetButtonCallback(id ID, cb ButtonFunc) error {
	return r.update(id, func(e *entry) { e.onButton = cb })
}

// request builds the Notify request for e. Callers must hold r.mu.
func (r *Registry) request(e *entry) *Request {
	req := &Request{
		AppName:       r.appName,
		ReplacesID:    e.serverID,
		AppIcon:       e.icon,
		Summary:       e.summary,
		Body:          e.body,
		Actions:       e.actions(),
		ExpireTimeout: e.expire,
	}
	req.SetHint("urgency", byte(e.urgency))
	if r.defaults.DesktopEntry != "" {
		req.SetHint("desktop-entry", r.defaults.DesktopEntry)
	}
	if e.image != nil {
		req.Hints["image-data"] = e.image.Variant()
	}
	return req
}

// Show sends the notification to the server. Showing again after changes
// replaces the server-side notification. If the notification is closed
// while the server call is in flight, the server-side notification is
// closed as soon as its ID is known.
func (r *Registry) Show(ctx context.Context, id ID) error {
	r.mu.Lock()
	e, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	req := r.request(e)
	e.showing++
	r.mu.Unlock()

	serverID, err := r.service.Notify(ctx, req)

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		closeAfter := r.closeOnShow[id] > 0
		if closeAfter {
			r.closeOnShow[id]--
			if r.closeOnShow[id] == 0 {
				delete(r.closeOnShow, id)
			}
		}
		r.mu.Unlock()

		if err != nil {
			return fmt.Errorf("%w: show %d: %w", ErrServiceRejected, id, err)
		}
		if closeAfter {
			if cerr := r.service.CloseNotification(ctx, serverID); cerr != nil {
				r.logger.Warn("failed to close notification shown after close", "id", id, "server_id", serverID, "error", cerr)
			} else {
				r.logger.Debug("closed notification shown after close", "id", id, "server_id", serverID)
			}
		} else {
			// Disposed while the call was in flight
			r.logger.Debug("notification removed during show", "id", id, "server_id", serverID)
		}
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	defer r.mu.Unlock()

	e.showing--
	if err != nil {
		return fmt.Errorf("%w: show %d: %w", ErrServiceRejected, id, err)
	}

	if e.serverID != 0 && e.serverID != serverID {
		delete(r.byServerID, e.serverID)
	}
	e.serverID = serverID
	e.state = StateShown
	r.byServerID[serverID] = id

	r.logger.Debug("notification shown", "id", id, "server_id", serverID)
	return nil
}

// Close asks the server to close the notification and removes it from the
// registry once the server accepts. A notification that was never shown is
// removed without contacting the server, unless a Show is in flight, in
// which case that Show closes what it displayed. On failure nothing changes.
func (r *Registry) Close(ctx context.Context, id ID) error {
	r.mu.Lock()
	e, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	serverID := e.serverID
	if serverID == 0 {
		pending := e.showing
		if pending > 0 {
			r.closeOnShow[id] += pending
		}
		r.removeLocked(id)
		r.mu.Unlock()
		r.logger.Debug("unshown notification closed", "id", id, "pending_shows", pending)
		return nil
	}
	r.mu.Unlock()

	if err := r.service.CloseNotification(ctx, serverID); err != nil {
		return fmt.Errorf("%w: close %d: %w", ErrServiceRejected, id, err)
	}

	r.mu.Lock()
	if e, ok := r.entries[id]; ok && e.showing > 0 {
		r.closeOnShow[id] += e.showing
	}
	r.removeLocked(id)
	r.mu.Unlock()

	r.logger.Debug("notification closed", "id", id, "server_id", serverID)
	return nil
}

// Dispose removes the notification without contacting the server.
// Disposing an unknown ID is a no-op.
func (r *Registry) Dispose(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeLocked(id) {
		r.logger.Debug("notification disposed", "id", id)
	}
}

// removeLocked erases id and its server mapping. Callers must hold r.mu.
func (r *Registry) removeLocked(id ID) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.serverID != 0 && r.byServerID[e.serverID] == id {
		delete(r.byServerID, e.serverID)
	}
	delete(r.entries, id)
	return true
}

// Shutdown disposes every notification and returns the registry to its
// uninitialized state. IDs keep increasing across a Shutdown.
func (r *Registry) Shutdown() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	r.entries = make(map[ID]*entry)
	r.byServerID = make(map[uint32]ID)
	r.closeOnShow = make(map[ID]int)
	r.initialized = false

	r.logger.Debug("notification registry shut down", "disposed", n)
	return n
}

// Route delivers a server event to the owning notification's callback. It
// returns false when the event belongs to no registered notification.
// Close events remove the notification before its callback runs.
func (r *Registry) Route(ev Event) bool {
	r.mu.Lock()
	id, ok := r.byServerID[ev.ServerID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e := r.entries[id]

	var deliver func()
	switch ev.Kind {
	case EventActionInvoked:
		switch {
		case ev.Action == DefaultAction && e.onClicked != nil:
			cb := e.onClicked
			deliver = func() { cb(id) }
		case e.onButton != nil:
			cb, action := e.onButton, ev.Action
			deliver = func() { cb(id, action) }
		}

	case EventClosed:
		e.state = StateClosed
		r.removeLocked(id)
		if e.onClosed != nil {
			cb, reason := e.onClosed, ev.Reason
			deliver = func() { cb(id, reason) }
		}
	}
	r.mu.Unlock()

	r.logger.Debug("notification event", "id", id, "server_id", ev.ServerID, "kind", ev.Kind.String(),
		"action", ev.Action, "reason", ev.Reason.String())

	if deliver != nil {
		deliver()
	}
	return true
}

// Get returns a snapshot of the notification.
func (r *Registry) Get(id ID) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:            e.id,
		Summary:       e.summary,
		Body:          e.body,
		Icon:          e.icon,
		ImagePath:     e.imagePath,
		HasImage:      e.image != nil,
		Actions:       e.actions(),
		Urgency:       e.urgency.String(),
		ExpireTimeout: e.expire,
		ServerID:      e.serverID,
		State:         e.state.String(),
		CreatedAt:     e.createdAt,
	}, nil
}

// Lookup returns the registry ID for a server-assigned ID.
func (r *Registry) Lookup(serverID uint32) (ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byServerID[serverID]
	return id, ok
}

// Len returns the number of live notifications.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the live IDs in ascending order.
func (r *Registry) IDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
