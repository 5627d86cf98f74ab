package lock

import (
	"errors"
	"fmt"

	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/log"
	"github.com/gofrs/flock"
)

// ErrNotLeader is returned by Acquire when leader mode could not obtain
// the exclusive lock.
var ErrNotLeader = errors.New("lock: could not acquire leader lock")

// Role reports which side of the leader/follower split this process
// landed on after Acquire.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
	RoleOff      Role = "off"
)

// IndexLock wraps an advisory exclusive lock on "{db_path}.lock" and the
// resolved Role for this process.
type IndexLock struct {
	flock *flock.Flock
	role  Role
	path  string
}

// Acquire opens (creating if needed) the lock file alongside dbPath and
// attempts to take it according to mode:
//
//   - leader: must acquire or return ErrNotLeader (caller should treat as fatal)
//   - follower: never attempts to acquire; always read-only
//   - auto: tries to acquire, downgrades to follower on failure
//   - off: skips locking entirely, role is RoleOff
func Acquire(dbPath string, mode config.IndexerMode) (*IndexLock, error) {
	lockPath := dbPath + ".lock"
	logger := log.WithComponent("lock")

	if mode == config.ModeOff {
		return &IndexLock{role: RoleOff, path: lockPath}, nil
	}

	fl := flock.New(lockPath)

	switch mode {
	case config.ModeFollower:
		return &IndexLock{flock: fl, role: RoleFollower, path: lockPath}, nil

	case config.ModeLeader:
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock: leader acquire failed on %s: %w", lockPath, err)
		}
		if !ok {
			return nil, ErrNotLeader
		}
		logger.Info().Str("path", lockPath).Msg("acquired leader lock")
		return &IndexLock{flock: fl, role: RoleLeader, path: lockPath}, nil

	default: // auto
		ok, err := fl.TryLock()
		if err != nil || !ok {
			logger.Warn().Str("path", lockPath).Err(err).Msg("auto mode downgraded to follower")
			return &IndexLock{flock: fl, role: RoleFollower, path: lockPath}, nil
		}
		logger.Info().Str("path", lockPath).Msg("acquired leader lock (auto)")
		return &IndexLock{flock: fl, role: RoleLeader, path: lockPath}, nil
	}
}

// Role reports which role this process ended up with.
func (l *IndexLock) Role() Role { return l.role }

// IsLeader reports whether this process may perform writes.
func (l *IndexLock) IsLeader() bool { return l.role == RoleLeader }

// Release gives up the lock, if one was held. Safe to call on a
// follower or off-mode lock (no-op).
func (l *IndexLock) Release() error {
	if l.flock == nil || l.role != RoleLeader {
		return nil
	}
	return l.flock.Unlock()
}
