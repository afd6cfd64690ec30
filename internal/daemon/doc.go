// Package daemon provides the host-facing service for deskbridge.
// It wires the theme reader and watcher, the notification registry and its
// event loop over a single bus client, and announces deskbridge's own
// events as desktop notifications.
package daemon
