package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/deskbridge/internal/bus"
)

// Service is the notification server as seen by the registry.
type Service interface {
	// Notify shows or replaces a notification and returns the server-assigned id.
	Notify(ctx context.Context, req *Request) (uint32, error)
	// CloseNotification asks the server to close the notification.
	CloseNotification(ctx context.Context, serverID uint32) error
	// Capabilities lists the optional features the server supports.
	Capabilities(ctx context.Context) (Capabilities, error)
	// ServerInformation identifies the server.
	ServerInformation(ctx context.Context) (ServerInfo, error)
}

// DBusService implements Service against org.freedesktop.Notifications.
type DBusService struct {
	client bus.Client
	logger *slog.Logger
}

// NewDBusService creates a DBusService using client for method calls.
func NewDBusService(client bus.Client, logger *slog.Logger) *DBusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBusService{client: client, logger: logger}
}

func (s *DBusService) call(ctx context.Context, method string, args ...any) ([]any, error) {
	return s.client.Call(ctx, BusName, ObjectPath, Interface+"."+method, args...)
}

// Notify sends req. A non-zero ReplacesID updates that notification in place.
func (s *DBusService) Notify(ctx context.Context, req *Request) (uint32, error) {
	body, err := s.call(ctx, "Notify",
		req.AppName,
		req.ReplacesID,
		req.AppIcon,
		req.Summary,
		req.Body,
		req.ActionList(),
		req.HintMap(),
		req.ExpireTimeout,
	)
	if err != nil {
		return 0, err
	}

	if len(body) != 1 {
		return 0, fmt.Errorf("%w: Notify returned %d values, want 1", bus.ErrMalformed, len(body))
	}
	id, ok := body[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("%w: Notify returned %T, want uint32", bus.ErrMalformed, body[0])
	}

	s.logger.Debug("notification sent", "server_id", id, "replaces_id", req.ReplacesID, "actions", len(req.Actions))
	return id, nil
}

// CloseNotification closes the notification with the given server id.
func (s *DBusService) CloseNotification(ctx context.Context, serverID uint32) error {
	if _, err := s.call(ctx, "CloseNotification", serverID); err != nil {
		return err
	}
	s.logger.Debug("notification close requested", "server_id", serverID)
	return nil
}

// Capabilities calls GetCapabilities.
func (s *DBusService) Capabilities(ctx context.Context) (Capabilities, error) {
	body, err := s.call(ctx, "GetCapabilities")
	if err != nil {
		return nil, err
	}
	if len(body) != 1 {
		return nil, fmt.Errorf("%w: GetCapabilities returned %d values, want 1", bus.ErrMalformed, len(body))
	}
	caps, ok := body[0].([]string)
	if !ok {
		return nil, fmt.Errorf("%w: GetCapabilities returned %T, want []string", bus.ErrMalformed, body[0])
	}
	return Capabilities(caps), nil
}

// ServerInformation calls GetServerInformation.
func (s *DBusService) ServerInformation(ctx context.Context) (ServerInfo, error) {
	body, err := s.call(ctx, "GetServerInformation")
	if err != nil {
		return ServerInfo{}, err
	}
	if len(body) != 4 {
		return ServerInfo{}, fmt.Errorf("%w: GetServerInformation returned %d values, want 4", bus.ErrMalformed, len(body))
	}

	fields := make([]string, 4)
	for i, v := range body {
		str, ok := v.(string)
		if !ok {
			return ServerInfo{}, fmt.Errorf("%w: GetServerInformation field %d is %T, want string", bus.ErrMalformed, i, v)
		}
		fields[i] = str
	}

	return ServerInfo{
		Name:        fields[0],
		Vendor:      fields[1],
		Version:     fields[2],
		SpecVersion: fields[3],
	}, nil
}
