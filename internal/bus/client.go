package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	// PortalBusName is the well-known name of the XDG desktop portal.
	PortalBusName = "org.freedesktop.portal.Desktop"
	// PortalPath is the desktop portal object path.
	PortalPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	// PortalSettingsInterface is the portal settings interface.
	PortalSettingsInterface = "org.freedesktop.portal.Settings"

	// DefaultTimeout bounds each method call.
	DefaultTimeout = 1000 * time.Millisecond
)

// Client is the request/reply and publish/subscribe surface used by the
// theme and notification components.
type Client interface {
	// Query reads a single value from the portal Settings service.
	Query(ctx context.Context, namespace, key string) (dbus.Variant, error)
	// Call invokes a method on dest and returns the reply body.
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) ([]any, error)
	// Subscribe opens a dedicated connection receiving signals that match rule.
	Subscribe(rule MatchRule) (*Subscription, error)
	// Poll waits up to timeout for signals on sub. It returns ErrClosed once
	// the subscription's connection has gone away.
	Poll(sub *Subscription, timeout time.Duration) ([]Event, error)
	// Close tears down a subscription. Closing twice is a no-op.
	Close(sub *Subscription) error
}

// ConnectFunc opens a private session bus connection.
type ConnectFunc func() (*dbus.Conn, error)

// SessionClient implements Client on top of the session bus.
type SessionClient struct {
	mu     sync.Mutex
	logger *slog.Logger

	timeout time.Duration
	connect ConnectFunc

	// shared is opened lazily and reused by Call
	shared *dbus.Conn
}

// Option configures a SessionClient.
type Option func(*SessionClient)

// WithTimeout sets the bound applied to each method call.
func WithTimeout(d time.Duration) Option {
	return func(c *SessionClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithConnectFunc replaces the function used to open connections.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(c *SessionClient) {
		c.connect = fn
	}
}

// NewSessionClient creates a new SessionClient.
func NewSessionClient(logger *slog.Logger, opts ...Option) *SessionClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &SessionClient{
		logger:  logger,
		timeout: DefaultTimeout,
		connect: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call bound.
func (c *SessionClient) Timeout() time.Duration {
	return c.timeout
}

// Query reads namespace/key from org.freedesktop.portal.Settings.Read on an
// ephemeral connection. The returned variant is the raw first reply value.
func (c *SessionClient) Query(ctx context.Context, namespace, key string) (dbus.Variant, error) {
	conn, err := c.connect()
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("%w: failed to connect to session bus: %w", ErrUnavailable, err)
	}
	defer func() { _ = conn.Close() }()

	body, err := c.call(ctx, conn, PortalBusName, PortalPath, PortalSettingsInterface+".Read", namespace, key)
	if err != nil {
		return dbus.Variant{}, err
	}

	if len(body) == 0 {
		return dbus.Variant{}, fmt.Errorf("%w: empty reply to Read(%s, %s)", ErrMalformed, namespace, key)
	}
	v, ok := body[0].(dbus.Variant)
	if !ok {
		return dbus.Variant{}, fmt.Errorf("%w: Read(%s, %s) returned %T, want variant", ErrMalformed, namespace, key, body[0])
	}

	c.logger.Debug("portal setting read", "namespace", namespace, "key", key, "signature", v.Signature().String())
	return v, nil
}

// Call invokes method on dest using the client's shared connection.
func (c *SessionClient) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) ([]any, error) {
	conn, err := c.sharedConn()
	if err != nil {
		return nil, err
	}
	return c.call(ctx, conn, dest, path, method, args...)
}

func (c *SessionClient) call(ctx context.Context, conn *dbus.Conn, dest string, path dbus.ObjectPath, method string, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	call := conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("%s: %w", method, classify(call.Err))
	}
	return call.Body, nil
}

// sharedConn returns the shared connection, dialing it on first use or
// after it has been closed underneath us.
func (c *SessionClient) sharedConn() (*dbus.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shared != nil && c.shared.Connected() {
		return c.shared, nil
	}

	conn, err := c.connect()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to session bus: %w", ErrUnavailable, err)
	}
	c.shared = conn
	return conn, nil
}

// Disconnect closes the shared connection used by Call.
func (c *SessionClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shared == nil {
		return nil
	}
	err := c.shared.Close()
	c.shared = nil
	return err
}
