// Package output provides output formatters for CLI results.
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/jmylchreest/deskbridge/internal/notify"
)

// Formatter formats command results for output.
type Formatter interface {
	// FormatTheme writes a colour-scheme reading or change.
	FormatTheme(w io.Writer, s ThemeStatus) error
	// FormatServer writes notification server details.
	FormatServer(w io.Writer, r ServerReport) error
	// FormatNotification writes the state of one notification.
	FormatNotification(w io.Writer, n notify.Snapshot) error
}

// FormatType represents an output format type.
type FormatType string

const (
	FormatPlain FormatType = "plain"
	FormatJSON  FormatType = "json"
	FormatYAML  FormatType = "yaml"
)

// ValidFormats returns all supported format types.
func ValidFormats() []FormatType {
	return []FormatType{FormatPlain, FormatJSON, FormatYAML}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (FormatType, error) {
	for _, f := range ValidFormats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid output format %q, must be one of: %v", s, ValidFormats())
}

// NewFormatter creates a formatter for the specified format type.
func NewFormatter(format FormatType, opts FormatterOptions) Formatter {
	switch format {
	case FormatJSON:
		return NewJSONFormatter(opts)
	case FormatYAML:
		return NewYAMLFormatter(opts)
	case FormatPlain:
		fallthrough
	default:
		return NewPlainFormatter(opts)
	}
}

// FormatterOptions configures formatter behavior.
type FormatterOptions struct {
	Template string // Custom template for plain theme output
	ShowTime bool   // Show relative time in plain output
}

// DefaultFormatterOptions returns sensible defaults.
func DefaultFormatterOptions() FormatterOptions {
	return FormatterOptions{
		ShowTime: true,
	}
}

// ThemeStatus is a colour-scheme reading.
type ThemeStatus struct {
	Preference string     `json:"preference" yaml:"preference"`
	IsDark     bool       `json:"is_dark" yaml:"is_dark"`
	Time       time.Time  `json:"time" yaml:"time"`
	Previous   *time.Time `json:"previous,omitempty" yaml:"previous,omitempty"` // Time of the previous change, if any
}

// ServerReport describes the notification server.
type ServerReport struct {
	Server       notify.ServerInfo `json:"server" yaml:"server"`
	Capabilities []string          `json:"capabilities" yaml:"capabilities"`
}
