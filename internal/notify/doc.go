// Package notify sends desktop notifications through
// org.freedesktop.Notifications and routes their interactive events back to
// per-notification callbacks.
//
// The Registry owns every notification; callers refer to them by ID. The
// Dispatcher runs the event loop that delivers clicks, button presses and
// close events, all on the goroutine that calls Run.
package notify
