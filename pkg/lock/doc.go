/*
Package lock implements the process-wide advisory file lock that gates
leader/follower/auto/off indexing participation.

This package sets no open flags itself: the lock file is opened (and
created if missing) by gofrs/flock on the first TryLock, which only
the leader and auto modes attempt. Follower and off modes never open
the file.
*/
package lock
