package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Errors returned by Client implementations. Transport errors are wrapped,
// so callers should match with errors.Is.
var (
	// ErrUnavailable means the bus or the target service could not be reached.
	ErrUnavailable = errors.New("service unavailable")
	// ErrTimeout means no reply arrived within the call bound.
	ErrTimeout = errors.New("call timed out")
	// ErrMalformed means a reply or signal did not have the expected shape.
	ErrMalformed = errors.New("malformed reply")
	// ErrRejected means the service replied with an error.
	ErrRejected = errors.New("service rejected call")
	// ErrClosed means the subscription's connection has been closed.
	ErrClosed = errors.New("subscription closed")
)

// D-Bus error names mapped onto the error taxonomy.
var (
	timeoutErrorNames = map[string]bool{
		"org.freedesktop.DBus.Error.NoReply":  true,
		"org.freedesktop.DBus.Error.Timeout":  true,
		"org.freedesktop.DBus.Error.TimedOut": true,
	}
	unavailableErrorNames = map[string]bool{
		"org.freedesktop.DBus.Error.ServiceUnknown": true,
		"org.freedesktop.DBus.Error.NameHasNoOwner": true,
		"org.freedesktop.DBus.Error.NoServer":       true,
		"org.freedesktop.DBus.Error.Disconnected":   true,
		"org.freedesktop.DBus.Error.Spawn.Failed":   true,
	}
)

// classify wraps a transport error with the matching sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, dbus.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		switch {
		case timeoutErrorNames[dbusErr.Name]:
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		case unavailableErrorNames[dbusErr.Name]:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	return fmt.Errorf("%w: %w", ErrRejected, err)
}
