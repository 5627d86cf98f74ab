/*
Package coalesce turns a burst of filesystem events into at-most-one
pending task per db_path.

The task map is protected by a set of sharded locks (shard = first byte
of sha1(key) mod shard count) so concurrent enqueues on unrelated paths
don't serialize on one mutex. A dedicated, never-nested mutex guards the
map's size counter so the max_keys bound can be enforced without ever
taking a shard lock and the size lock at once.
*/
package coalesce
