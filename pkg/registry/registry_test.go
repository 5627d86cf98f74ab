package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/baecheolhan/sari/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	return r
}

func TestRegisterAndHeartbeat(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "boot1", Host: "127.0.0.1", Port: 7469, PID: os.Getpid()}))

	daemons, _, _, err := r.Snapshot()
	require.NoError(t, err)
	require.Contains(t, daemons, "boot1")

	require.NoError(t, r.Heartbeat("boot1"))
	daemons, _, _, err = r.Snapshot()
	require.NoError(t, err)
	assert.Greater(t, daemons["boot1"].LastSeenTS, int64(0))
}

func TestSetWorkspaceMarksPriorOwnerDraining(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "A", PID: os.Getpid()}))
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "B", PID: os.Getpid()}))

	require.NoError(t, r.SetWorkspace("/ws", "A", "", 0))
	require.NoError(t, r.SetWorkspace("/ws", "B", "", 0))

	daemons, workspaces, _, err := r.Snapshot()
	require.NoError(t, err)
	assert.True(t, daemons["A"].Draining)
	assert.Equal(t, "B", workspaces["/ws"].BootID)
}

func TestPruneDeadRemovesDeadPID(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "dead", PID: 999999}))
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "alive", PID: os.Getpid()}))

	n, err := r.PruneDead()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	daemons, _, _, err := r.Snapshot()
	require.NoError(t, err)
	assert.NotContains(t, daemons, "dead")
	assert.Contains(t, daemons, "alive")
}

func TestResolveEndpointPrefersNonDraining(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "A", Host: "127.0.0.1", Port: 1111, PID: os.Getpid()}))
	require.NoError(t, r.SetWorkspace("/ws", "A", "", 0))

	ep, err := r.ResolveEndpoint("/ws", false, Endpoint{})
	require.NoError(t, err)
	assert.Equal(t, 1111, ep.Port)
}

func TestResolveEndpointOverrideBypassesRegistry(t *testing.T) {
	r := openTestRegistry(t)
	ep, err := r.ResolveEndpoint("/ws", true, Endpoint{Host: "env", Port: 9999})
	require.NoError(t, err)
	assert.Equal(t, "env", ep.Host)
}

func TestDeploymentFSMHappyPath(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "v1", PID: os.Getpid()}))
	require.NoError(t, r.SetWorkspace("/ws", "v1", "", 0))

	gen, err := r.BeginDeploy("v2")
	require.NoError(t, err)
	require.NoError(t, r.RegisterDaemon(types.DaemonRegistryEntry{BootID: "v2", PID: os.Getpid()}))
	require.NoError(t, r.MarkCandidateReady(gen))
	require.NoError(t, r.SwitchActive(gen))

	daemons, workspaces, dep, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentSwitched, dep.State)
	assert.Equal(t, "v2", workspaces["/ws"].BootID)
	assert.True(t, daemons["v1"].Draining)
}

func TestSwitchActiveIsIdempotentAndIgnoresStaleGeneration(t *testing.T) {
	r := openTestRegistry(t)
	gen, err := r.BeginDeploy("v2")
	require.NoError(t, err)
	require.NoError(t, r.MarkCandidateReady(gen))
	require.NoError(t, r.SwitchActive(gen))
	require.NoError(t, r.SwitchActive(gen)) // idempotent repeat

	require.NoError(t, r.SwitchActive(gen-1)) // stale generation: no-op, must not error

	_, _, dep, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentSwitched, dep.State)
}

func TestNewBootIDIsUnique(t *testing.T) {
	a := NewBootID()
	b := NewBootID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
