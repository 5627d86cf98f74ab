/*
Package watcher translates raw fsnotify notifications on a set of
workspace roots into typed, debounced FsEvents.

Two independent debounce windows are maintained: one per ordinary path
(default 1s, latest event wins) and one for git-internal paths (default
3s, coalesced into a single rescan callback on the most recent path). A
supervisor goroutine restarts the underlying fsnotify watcher if its
event loop dies, rebinding every previously-registered root.
*/
package watcher
