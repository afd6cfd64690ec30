// Package theme reads and watches the desktop colour-scheme preference
// published by the XDG desktop portal (org.freedesktop.appearance
// color-scheme). Reads are best-effort and never fail; the Watcher keeps a
// dedicated subscription and delivers changes from its own goroutine.
package theme
