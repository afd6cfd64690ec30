package output

import (
	"encoding/json"
	"io"

	"github.com/jmylchreest/deskbridge/internal/notify"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct {
	opts FormatterOptions
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(opts FormatterOptions) *JSONFormatter {
	return &JSONFormatter{opts: opts}
}

func (f *JSONFormatter) encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatTheme writes s as a JSON object.
func (f *JSONFormatter) FormatTheme(w io.Writer, s ThemeStatus) error {
	return f.encode(w, s)
}

// FormatServer writes r as a JSON object.
func (f *JSONFormatter) FormatServer(w io.Writer, r ServerReport) error {
	return f.encode(w, r)
}

// FormatNotification writes n as a JSON object.
func (f *JSONFormatter) FormatNotification(w io.Writer, n notify.Snapshot) error {
	return f.encode(w, n)
}
