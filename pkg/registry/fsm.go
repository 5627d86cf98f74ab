package registry

import (
	"errors"

	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/types"
)

// ErrWrongGeneration names a deployment generation mismatch. No
// function in this package returns it: operations called against a
// stale generation (such as SwitchActive) are silent no-ops returning
// nil, so callers outside this package that want the distinction use
// BeginDeploy's returned generation to notice it themselves.
var ErrWrongGeneration = errors.New("registry: generation mismatch")

// BeginDeploy starts a new deployment: bumps the generation, records
// candidateBootID, and moves the state idle -> starting. Returns the
// new generation for the caller to pass to SwitchActive/RollbackActive.
func (r *Registry) BeginDeploy(candidateBootID string) (int64, error) {
	var generation int64
	err := r.update(func(d *document) error {
		d.Deployment.Generation++
		d.Deployment.CandidateBootID = candidateBootID
		d.Deployment.State = types.DeploymentStarting
		d.Deployment.HealthFailStreak = 0
		d.Deployment.RollbackReason = ""
		generation = d.Deployment.Generation
		return nil
	})
	return generation, err
}

// MarkCandidateReady moves starting -> ready once the candidate has
// probed healthy, a no-op if generation no longer matches.
func (r *Registry) MarkCandidateReady(generation int64) error {
	return r.update(func(d *document) error {
		if d.Deployment.Generation != generation {
			return nil
		}
		if d.Deployment.State == types.DeploymentStarting {
			d.Deployment.State = types.DeploymentReady
		}
		return nil
	})
}

// AbortDeploy moves starting -> idle, used when the candidate daemon
// fails to launch or probe healthy at all.
func (r *Registry) AbortDeploy(generation int64, reason string) error {
	return r.update(func(d *document) error {
		if d.Deployment.Generation != generation {
			return nil
		}
		d.Deployment.State = types.DeploymentIdle
		d.Deployment.RollbackReason = reason
		return nil
	})
}

// SwitchActive promotes the candidate to active: rewrites every
// workspace binding currently pointing at the active daemon to the
// candidate, marks the outgoing active daemon draining, and moves
// ready -> switched. It is idempotent under a matching generation
// (repeat calls are no-ops past the first) and a no-op under a
// mismatched one, which is what makes concurrent deployers safe.
func (r *Registry) SwitchActive(generation int64) error {
	return r.update(func(d *document) error {
		if d.Deployment.Generation != generation {
			return nil
		}
		if d.Deployment.State == types.DeploymentSwitched {
			return nil // already switched; idempotent repeat
		}
		if d.Deployment.State != types.DeploymentReady {
			return nil
		}

		candidate := d.Deployment.CandidateBootID
		prevActive := d.Deployment.ActiveBootID

		for root, b := range d.Workspaces {
			if prevActive == "" || b.BootID == prevActive {
				b.BootID = candidate
				d.Workspaces[root] = b
			}
		}
		if prevActive != "" {
			if e, ok := d.Daemons[prevActive]; ok {
				e.Draining = true
				d.Daemons[prevActive] = e
			}
		}

		d.Deployment.ActiveBootID = candidate
		d.Deployment.CandidateBootID = ""
		d.Deployment.State = types.DeploymentSwitched
		metrics.RegistryPromotionsTotal.Inc()
		return nil
	})
}

// RollbackActive restores the prior binding after a failed upgrade:
// moves switched -> idle, rewrites bindings back to prevActiveBootID,
// and records reason.
func (r *Registry) RollbackActive(generation int64, prevActiveBootID, reason string) error {
	return r.update(func(d *document) error {
		if d.Deployment.Generation != generation {
			return nil
		}
		for root, b := range d.Workspaces {
			if b.BootID == d.Deployment.ActiveBootID {
				b.BootID = prevActiveBootID
				d.Workspaces[root] = b
			}
		}
		if e, ok := d.Daemons[prevActiveBootID]; ok {
			e.Draining = false
			d.Daemons[prevActiveBootID] = e
		}
		d.Deployment.ActiveBootID = prevActiveBootID
		d.Deployment.CandidateBootID = ""
		d.Deployment.State = types.DeploymentIdle
		d.Deployment.RollbackReason = reason
		metrics.RegistryRollbacksTotal.WithLabelValues(reason).Inc()
		return nil
	})
}

// RecordHealthFailure increments the candidate's consecutive
// health-check failure streak, read by an external upgrade controller
// deciding whether to abort or roll back.
func (r *Registry) RecordHealthFailure(generation int64) (int, error) {
	var streak int
	err := r.update(func(d *document) error {
		if d.Deployment.Generation != generation {
			return nil
		}
		d.Deployment.HealthFailStreak++
		streak = d.Deployment.HealthFailStreak
		return nil
	})
	return streak, err
}

// CurrentDeployment returns a snapshot of the deployment state.
func (r *Registry) CurrentDeployment() (types.Deployment, error) {
	d, err := r.read()
	if err != nil {
		return types.Deployment{}, err
	}
	return d.Deployment, nil
}
