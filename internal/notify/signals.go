package notify

import (
	"fmt"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

// Signal members emitted by the notification service.
const (
	SignalActionInvoked      = "ActionInvoked"
	SignalNotificationClosed = "NotificationClosed"
	SignalActivationToken    = "ActivationToken"
)

// eventRule selects every signal on the notification interface.
var eventRule = bus.MatchRule{
	Sender:    BusName,
	Interface: Interface,
	Path:      ObjectPath,
}

// EventKind distinguishes the interactive events a notification can receive.
type EventKind int

const (
	// EventActionInvoked is a click on the body or a button.
	EventActionInvoked EventKind = iota
	// EventClosed means the server closed the notification.
	EventClosed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventActionInvoked:
		return "action-invoked"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a decoded notification signal. ServerID is the id assigned by
// the notification service, not a registry ID.
type Event struct {
	Kind     EventKind
	ServerID uint32
	Action   string      // EventActionInvoked only
	Reason   CloseReason // EventClosed only
}

// DecodeEvent decodes an ActionInvoked (u,s) or NotificationClosed (u,u)
// signal. ok is false for other members of the interface.
func DecodeEvent(e bus.Event) (ev Event, ok bool, err error) {
	switch e.Member() {
	case SignalActionInvoked:
		if len(e.Body) != 2 {
			return Event{}, true, fmt.Errorf("%w: %s has %d fields, want 2", bus.ErrMalformed, SignalActionInvoked, len(e.Body))
		}
		id, idOK := e.Body[0].(uint32)
		action, actionOK := e.Body[1].(string)
		if !idOK || !actionOK {
			return Event{}, true, fmt.Errorf("%w: %s body is (%T, %T), want (u, s)", bus.ErrMalformed, SignalActionInvoked, e.Body[0], e.Body[1])
		}
		return Event{Kind: EventActionInvoked, ServerID: id, Action: action}, true, nil

	case SignalNotificationClosed:
		if len(e.Body) != 2 {
			return Event{}, true, fmt.Errorf("%w: %s has %d fields, want 2", bus.ErrMalformed, SignalNotificationClosed, len(e.Body))
		}
		id, idOK := e.Body[0].(uint32)
		reason, reasonOK := e.Body[1].(uint32)
		if !idOK || !reasonOK {
			return Event{}, true, fmt.Errorf("%w: %s body is (%T, %T), want (u, u)", bus.ErrMalformed, SignalNotificationClosed, e.Body[0], e.Body[1])
		}
		return Event{Kind: EventClosed, ServerID: id, Reason: CloseReason(reason)}, true, nil

	default:
		// ActivationToken and anything newer
		return Event{}, false, nil
	}
}
