package lock

import (
	"path/filepath"
	"testing"

	"github.com/baecheolhan/sari/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireOffModeNeverLocks(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sari.db")
	l, err := Acquire(dbPath, config.ModeOff)
	require.NoError(t, err)
	assert.Equal(t, RoleOff, l.Role())
	assert.False(t, l.IsLeader())
	assert.NoError(t, l.Release())
}

func TestAcquireLeaderThenFollowerDowngradesOnConflict(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sari.db")

	leader, err := Acquire(dbPath, config.ModeLeader)
	require.NoError(t, err)
	require.True(t, leader.IsLeader())
	defer leader.Release()

	_, err = Acquire(dbPath, config.ModeLeader)
	assert.ErrorIs(t, err, ErrNotLeader)

	auto, err := Acquire(dbPath, config.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, RoleFollower, auto.Role())
}

func TestFollowerModeNeverAttemptsLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sari.db")
	l, err := Acquire(dbPath, config.ModeFollower)
	require.NoError(t, err)
	assert.Equal(t, RoleFollower, l.Role())

	// A follower must not block a subsequent leader from the same path.
	leader, err := Acquire(dbPath, config.ModeLeader)
	require.NoError(t, err)
	assert.True(t, leader.IsLeader())
	defer leader.Release()
}

func TestReleaseIsIdempotentForNonLeader(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sari.db")
	l, err := Acquire(dbPath, config.ModeFollower)
	require.NoError(t, err)
	assert.NoError(t, l.Release())
	assert.NoError(t, l.Release())
}
