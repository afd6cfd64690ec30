// Package bus is a thin client for the freedesktop session bus.
// It provides bounded-timeout method calls, a query helper for the XDG
// desktop portal Settings interface, and signal subscriptions that are
// drained by polling with a bounded wait.
package bus
