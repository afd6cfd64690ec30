package bus

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/oklog/ulid/v2"
)

// signalBuffer is the channel capacity for a subscription's incoming signals.
const signalBuffer = 100

// MatchRule selects the signals a subscription receives. Empty fields match anything.
type MatchRule struct {
	Interface string
	Member    string
	Path      dbus.ObjectPath
	Sender    string
}

// String renders the rule in D-Bus match rule syntax.
func (r MatchRule) String() string {
	parts := []string{"type='signal'"}
	if r.Sender != "" {
		parts = append(parts, fmt.Sprintf("sender='%s'", r.Sender))
	}
	if r.Interface != "" {
		parts = append(parts, fmt.Sprintf("interface='%s'", r.Interface))
	}
	if r.Member != "" {
		parts = append(parts, fmt.Sprintf("member='%s'", r.Member))
	}
	if r.Path != "" {
		parts = append(parts, fmt.Sprintf("path='%s'", r.Path))
	}
	return strings.Join(parts, ",")
}

// Matches reports whether e satisfies the rule. The bus also delivers
// signals addressed to the connection itself (NameAcquired and friends),
// so subscriptions filter on this before handing events out.
func (r MatchRule) Matches(e Event) bool {
	if r.Interface != "" && e.Interface() != r.Interface {
		return false
	}
	if r.Member != "" && e.Member() != r.Member {
		return false
	}
	if r.Path != "" && e.Path != r.Path {
		return false
	}
	// Signals carry the unique name, so only compare when both are unique names
	if r.Sender != "" && strings.HasPrefix(r.Sender, ":") && e.Sender != r.Sender {
		return false
	}
	return true
}

func (r MatchRule) options() []dbus.MatchOption {
	var opts []dbus.MatchOption
	if r.Sender != "" {
		opts = append(opts, dbus.WithMatchSender(r.Sender))
	}
	if r.Interface != "" {
		opts = append(opts, dbus.WithMatchInterface(r.Interface))
	}
	if r.Member != "" {
		opts = append(opts, dbus.WithMatchMember(r.Member))
	}
	if r.Path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(r.Path))
	}
	return opts
}

// Event is a signal received on a subscription.
type Event struct {
	Sender string
	Path   dbus.ObjectPath
	Name   string // interface.member
	Body   []any
}

// Interface returns the interface part of the signal name.
func (e Event) Interface() string {
	if i := strings.LastIndexByte(e.Name, '.'); i >= 0 {
		return e.Name[:i]
	}
	return ""
}

// Member returns the member part of the signal name.
func (e Event) Member() string {
	if i := strings.LastIndexByte(e.Name, '.'); i >= 0 {
		return e.Name[i+1:]
	}
	return e.Name
}

// Subscription is a standing registration for signals matching a rule.
// It owns its connection exclusively.
type Subscription struct {
	ID   ulid.ULID
	Rule MatchRule

	conn    *dbus.Conn
	signals chan *dbus.Signal

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSubscription wraps an existing signal channel. It is used by Client
// implementations that deliver signals from somewhere other than a session
// bus connection.
func NewSubscription(rule MatchRule, signals chan *dbus.Signal) *Subscription {
	return &Subscription{
		ID:      ulid.Make(),
		Rule:    rule,
		signals: signals,
	}
}

// Subscribe opens a private connection and installs rule on it.
func (c *SessionClient) Subscribe(rule MatchRule) (*Subscription, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to session bus: %w", ErrUnavailable, err)
	}

	if err := conn.AddMatchSignal(rule.options()...); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to add match rule %s: %w", rule, classify(err))
	}

	ch := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(ch)

	sub := NewSubscription(rule, ch)
	sub.conn = conn

	c.logger.Debug("subscribed", "subscription", sub.ID.String(), "rule", rule.String())
	return sub, nil
}

// Poll blocks for up to timeout waiting for the first matching signal, then
// drains whatever else is immediately available. A nil slice with a nil
// error means the wait elapsed with no traffic.
func (c *SessionClient) Poll(sub *Subscription, timeout time.Duration) ([]Event, error) {
	return sub.Poll(timeout)
}

// Close removes the match rule and closes the subscription's connection.
func (c *SessionClient) Close(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if err := sub.Close(); err != nil {
		return err
	}
	c.logger.Debug("unsubscribed", "subscription", sub.ID.String())
	return nil
}

// Close marks the subscription closed and releases its connection, if any.
// Closing twice is a no-op.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.conn == nil {
			return
		}
		// Best effort; the connection is going away regardless
		_ = s.conn.RemoveMatchSignal(s.Rule.options()...)
		// Closing the connection also closes the signal channel
		err = s.conn.Close()
	})
	return err
}

// Poll waits up to timeout for signals matching the subscription's rule.
// See Client.Poll.
func (s *Subscription) Poll(timeout time.Duration) ([]Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var events []Event

	// Wait for the first signal that passes the rule
	for len(events) == 0 {
		select {
		case sig, ok := <-s.signals:
			if !ok {
				return nil, ErrClosed
			}
			events = s.appendMatching(events, sig)
		case <-timer.C:
			return nil, nil
		}
	}

	// Drain without blocking; a close seen here is reported on the next poll
	for {
		select {
		case sig, ok := <-s.signals:
			if !ok {
				s.closed.Store(true)
				return events, nil
			}
			events = s.appendMatching(events, sig)
		default:
			return events, nil
		}
	}
}

func (s *Subscription) appendMatching(events []Event, sig *dbus.Signal) []Event {
	if sig == nil {
		return events
	}
	e := Event{
		Sender: sig.Sender,
		Path:   sig.Path,
		Name:   sig.Name,
		Body:   sig.Body,
	}
	if !s.Rule.Matches(e) {
		return events
	}
	return append(events, e)
}
