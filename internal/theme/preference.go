package theme

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

const (
	// AppearanceNamespace is the portal settings namespace holding color-scheme.
	AppearanceNamespace = "org.freedesktop.appearance"
	// ColorSchemeKey is the portal setting key for the preference code.
	ColorSchemeKey = "color-scheme"
	// SettingChangedMember is the signal emitted by the portal on any setting change.
	SettingChangedMember = "SettingChanged"
)

// Preference is the desktop colour-scheme preference.
type Preference uint32

const (
	// NoPreference means the user has not expressed a preference.
	NoPreference Preference = 0
	// Dark means the user prefers a dark appearance.
	Dark Preference = 1
	// Light means the user prefers a light appearance.
	Light Preference = 2
)

// String returns the portal's name for the preference.
func (p Preference) String() string {
	switch p {
	case NoPreference:
		return "no-preference"
	case Dark:
		return "dark"
	case Light:
		return "light"
	default:
		return "unknown"
	}
}

// IsDark reports whether p is Dark.
func (p Preference) IsDark() bool {
	return p == Dark
}

// ParsePreference converts a name such as "dark" to a Preference.
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no-preference", "none", "default", "":
		return NoPreference, nil
	case "dark":
		return Dark, nil
	case "light":
		return Light, nil
	default:
		return NoPreference, fmt.Errorf("unknown color scheme %q", s)
	}
}

// PreferenceFromCode maps a wire-level preference code. Codes outside 0..2
// are malformed.
func PreferenceFromCode(code uint32) (Preference, error) {
	if code > uint32(Light) {
		return NoPreference, fmt.Errorf("%w: color-scheme code %d out of range", bus.ErrMalformed, code)
	}
	return Preference(code), nil
}

// DecodeReadReply decodes the value returned by Settings.Read. The portal
// wraps the setting in two variants, v(v(u)); older portals wrap it once,
// v(u). The single wrapping is only accepted when the inner value is not
// itself a variant.
func DecodeReadReply(v dbus.Variant) (Preference, error) {
	inner := v.Value()
	if nested, ok := inner.(dbus.Variant); ok {
		inner = nested.Value()
	}

	code, ok := inner.(uint32)
	if !ok {
		return NoPreference, fmt.Errorf("%w: color-scheme value has type %T, want uint32", bus.ErrMalformed, inner)
	}
	return PreferenceFromCode(code)
}

// DecodeSettingChanged decodes a SettingChanged signal body (namespace, key,
// value). ok is false when the signal concerns some other setting; err is set
// when it is the color-scheme setting but the payload is unusable.
func DecodeSettingChanged(body []any) (pref Preference, ok bool, err error) {
	if len(body) != 3 {
		return NoPreference, false, fmt.Errorf("%w: SettingChanged has %d fields, want 3", bus.ErrMalformed, len(body))
	}

	namespace, nsOK := body[0].(string)
	key, keyOK := body[1].(string)
	if !nsOK || !keyOK {
		return NoPreference, false, fmt.Errorf("%w: SettingChanged namespace/key are not strings", bus.ErrMalformed)
	}
	if namespace != AppearanceNamespace || key != ColorSchemeKey {
		return NoPreference, false, nil
	}

	value, isVariant := body[2].(dbus.Variant)
	if !isVariant {
		return NoPreference, true, fmt.Errorf("%w: SettingChanged value has type %T, want variant", bus.ErrMalformed, body[2])
	}
	code, isCode := value.Value().(uint32)
	if !isCode {
		return NoPreference, true, fmt.Errorf("%w: color-scheme value has type %T, want uint32", bus.ErrMalformed, value.Value())
	}

	pref, err = PreferenceFromCode(code)
	return pref, true, err
}
