package notify

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	// BusName is the well-known name of the notification service.
	BusName = "org.freedesktop.Notifications"
	// ObjectPath is the notification service object path.
	ObjectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	// Interface is the notification service interface.
	Interface = "org.freedesktop.Notifications"

	// DefaultAction is the action key the server reports when the
	// notification body itself is clicked.
	DefaultAction = "default"
	// DefaultActionLabel is the label sent with DefaultAction.
	DefaultActionLabel = "Default"

	// ExpireDefault lets the server pick the expiry.
	ExpireDefault int32 = -1
	// ExpireNever keeps the notification until it is closed.
	ExpireNever int32 = 0
)

// CloseReason represents the reason for closing a notification.
// These values are defined by the freedesktop.org notification specification.
type CloseReason uint32

const (
	// CloseReasonExpired indicates the notification expired (timeout reached).
	CloseReasonExpired CloseReason = 1
	// CloseReasonDismissed indicates the user dismissed the notification.
	CloseReasonDismissed CloseReason = 2
	// CloseReasonClosed indicates the notification was closed via CloseNotification.
	CloseReasonClosed CloseReason = 3
	// CloseReasonUndefined is reserved/undefined per the freedesktop specification.
	CloseReasonUndefined CloseReason = 4
)

// String returns the string representation of the close reason.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonExpired:
		return "expired"
	case CloseReasonDismissed:
		return "dismissed"
	case CloseReasonClosed:
		return "closed"
	case CloseReasonUndefined:
		return "undefined"
	default:
		return "unknown"
	}
}

// Urgency is the freedesktop urgency level sent in the "urgency" hint.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// String returns the urgency name.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseUrgency converts "low", "normal" or "critical" to an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return UrgencyLow, nil
	case "normal", "":
		return UrgencyNormal, nil
	case "critical":
		return UrgencyCritical, nil
	default:
		return UrgencyNormal, fmt.Errorf("unknown urgency %q", s)
	}
}

// Action represents a notification action with key and label.
type Action struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// ParseAction parses "key:label". A missing label reuses the key.
func ParseAction(s string) (Action, error) {
	key, label, found := strings.Cut(s, ":")
	key = strings.TrimSpace(key)
	if key == "" {
		return Action{}, fmt.Errorf("invalid action %q: empty key", s)
	}
	if !found || strings.TrimSpace(label) == "" {
		label = key
	}
	return Action{Key: key, Label: label}, nil
}

// Request holds the parameters of an org.freedesktop.Notifications.Notify call.
type Request struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []Action
	Hints         map[string]dbus.Variant
	ExpireTimeout int32 // -1 = server default, 0 = never expire
}

// ActionList flattens Actions into the alternating key/label array used on the wire.
func (r *Request) ActionList() []string {
	list := make([]string, 0, len(r.Actions)*2)
	for _, a := range r.Actions {
		list = append(list, a.Key, a.Label)
	}
	return list
}

// HintMap returns Hints, never nil.
func (r *Request) HintMap() map[string]dbus.Variant {
	if r.Hints == nil {
		return map[string]dbus.Variant{}
	}
	return r.Hints
}

// SetHint sets a hint, allocating the map on first use.
func (r *Request) SetHint(name string, value any) {
	if r.Hints == nil {
		r.Hints = make(map[string]dbus.Variant)
	}
	r.Hints[name] = dbus.MakeVariant(value)
}

// Urgency returns the urgency hint, or UrgencyNormal if not specified.
func (r *Request) Urgency() Urgency {
	if v, ok := r.Hints["urgency"]; ok {
		if b, ok := v.Value().(byte); ok {
			return Urgency(b)
		}
	}
	return UrgencyNormal
}

// DesktopEntry returns the desktop-entry hint.
func (r *Request) DesktopEntry() string {
	if v, ok := r.Hints["desktop-entry"]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// ServerInfo is the reply to GetServerInformation.
type ServerInfo struct {
	Name        string `json:"name" yaml:"name"`
	Vendor      string `json:"vendor" yaml:"vendor"`
	Version     string `json:"version" yaml:"version"`
	SpecVersion string `json:"spec_version" yaml:"spec_version"`
}

// Capabilities is the reply to GetCapabilities.
type Capabilities []string

// Has reports whether the server advertises capability.
func (c Capabilities) Has(capability string) bool {
	for _, s := range c {
		if s == capability {
			return true
		}
	}
	return false
}
