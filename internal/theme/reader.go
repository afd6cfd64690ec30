package theme

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

// Reader performs one-shot reads of the colour-scheme preference.
type Reader struct {
	client bus.Client
	logger *slog.Logger
}

// NewReader creates a Reader on top of client.
func NewReader(client bus.Client, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		client: client,
		logger: logger,
	}
}

// ReadPreference queries the portal for the current preference. Any failure,
// whether the portal is missing, slow or answers with something unexpected,
// yields NoPreference.
func (r *Reader) ReadPreference(ctx context.Context) Preference {
	v, err := r.client.Query(ctx, AppearanceNamespace, ColorSchemeKey)
	if err != nil {
		r.logger.Debug("failed to read color scheme", "error", err)
		return NoPreference
	}

	pref, err := DecodeReadReply(v)
	if err != nil {
		r.logger.Debug("failed to decode color scheme", "signature", v.Signature().String(), "error", err)
		return NoPreference
	}

	r.logger.Debug("read color scheme", "preference", pref.String())
	return pref
}

// IsDark reports whether the desktop currently prefers a dark appearance.
func (r *Reader) IsDark(ctx context.Context) bool {
	return r.ReadPreference(ctx).IsDark()
}
