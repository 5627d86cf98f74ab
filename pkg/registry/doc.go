/*
Package registry implements the daemon registry and resolver: a
file-backed, atomically updated JSON document that is the single
source of truth for live daemons, workspace bindings, and the
generation-tracked hot-upgrade deployment state machine.

Every mutation goes through Registry.update, which takes an exclusive
file lock, re-reads the current file, applies a pure mutator, and
writes the result back via a temp-file-then-rename, so concurrent
daemons and CLIs never observe a half-written registry.
*/
package registry
