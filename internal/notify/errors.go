package notify

import "errors"

var (
	// ErrNotFound means the handle id is not live in the registry.
	ErrNotFound = errors.New("notification not found")
	// ErrNotInitialized means the registry was used before Init.
	ErrNotInitialized = errors.New("notification registry not initialized")
	// ErrServiceRejected means the notification service failed a Notify or
	// CloseNotification call. The underlying bus error is wrapped as well.
	ErrServiceRejected = errors.New("notification service rejected request")
	// ErrLoopRunning means Run was called while the dispatcher loop was already running.
	ErrLoopRunning = errors.New("event loop already running")
)
