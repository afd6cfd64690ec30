package output

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/deskbridge/internal/notify"
)

// PlainFormatter formats results as plain text.
type PlainFormatter struct {
	opts     FormatterOptions
	template *template.Template
}

// NewPlainFormatter creates a new plain text formatter.
func NewPlainFormatter(opts FormatterOptions) *PlainFormatter {
	f := &PlainFormatter{opts: opts}

	// Parse custom template if provided
	if opts.Template != "" {
		tmpl, err := template.New("plain").Funcs(templateFuncs()).Parse(opts.Template)
		if err == nil {
			f.template = tmpl
		}
	}

	return f
}

// templateFuncs returns template helper functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"reltime": func(t time.Time) string {
			if t.IsZero() {
				return "unknown"
			}
			return humanize.Time(t)
		},
		"upper": strings.ToUpper,
	}
}

// FormatTheme writes the preference name, followed by how long ago the
// previous change happened when known.
func (f *PlainFormatter) FormatTheme(w io.Writer, s ThemeStatus) error {
	if f.template != nil {
		if err := f.template.Execute(w, s); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	}

	var sb strings.Builder
	sb.WriteString(s.Preference)

	if f.opts.ShowTime && s.Previous != nil {
		sb.WriteString(fmt.Sprintf(" (previous change %s)", humanize.RelTime(*s.Previous, s.Time, "earlier", "later")))
	}
	sb.WriteString("\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// FormatServer writes server details and one capability per line.
func (f *PlainFormatter) FormatServer(w io.Writer, r ServerReport) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Server:       %s\n", r.Server.Name))
	sb.WriteString(fmt.Sprintf("Vendor:       %s\n", r.Server.Vendor))
	sb.WriteString(fmt.Sprintf("Version:      %s\n", r.Server.Version))
	sb.WriteString(fmt.Sprintf("Spec version: %s\n", r.Server.SpecVersion))
	sb.WriteString("Capabilities:\n")
	for _, c := range r.Capabilities {
		sb.WriteString("    " + c + "\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// FormatNotification writes a one-line summary of a notification.
func (f *PlainFormatter) FormatNotification(w io.Writer, n notify.Snapshot) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%d] %s", n.ID, n.Summary))
	if n.ServerID != 0 {
		sb.WriteString(fmt.Sprintf(" (server id %d)", n.ServerID))
	}
	sb.WriteString(" " + n.State)

	if f.opts.ShowTime && !n.CreatedAt.IsZero() {
		sb.WriteString(", created " + humanize.Time(n.CreatedAt))
	}
	sb.WriteString("\n")

	for _, a := range n.Actions {
		sb.WriteString(fmt.Sprintf("    %s: %s\n", a.Key, a.Label))
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
