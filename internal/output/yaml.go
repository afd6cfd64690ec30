package output

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/deskbridge/internal/notify"
)

// YAMLFormatter formats results as YAML documents.
type YAMLFormatter struct {
	opts FormatterOptions
}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter(opts FormatterOptions) *YAMLFormatter {
	return &YAMLFormatter{opts: opts}
}

func (f *YAMLFormatter) encode(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

// FormatTheme writes s as a YAML document.
func (f *YAMLFormatter) FormatTheme(w io.Writer, s ThemeStatus) error {
	return f.encode(w, s)
}

// FormatServer writes r as a YAML document.
func (f *YAMLFormatter) FormatServer(w io.Writer, r ServerReport) error {
	return f.encode(w, r)
}

// FormatNotification writes n as a YAML document.
func (f *YAMLFormatter) FormatNotification(w io.Writer, n notify.Snapshot) error {
	return f.encode(w, n)
}
