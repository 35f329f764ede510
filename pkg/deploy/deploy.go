// Package deploy implements the deployment stage: resolve cluster
// access, apply the environment's manifests, pin the workload to a
// digest-pinned image reference, and await the rollout. There is no
// rollback; a failed rollout is reported and left for the operator.
package deploy

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/cluster"
	"github.com/shipway/shipway/pkg/image"
	shipmetrics "github.com/shipway/shipway/pkg/metrics"
)

// State names the phase a deployment attempt is in. Transitions are
// strictly forward; terminal states are Succeeded, Failed, TimedOut.
type State string

const (
	StateResolvingCredentials State = "resolving-credentials"
	StateApplyingManifests    State = "applying-manifests"
	StateUpdatingImage        State = "updating-image"
	StateAwaitingRollout      State = "awaiting-rollout"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
	StateTimedOut             State = "timed-out"
)

var (
	// ErrNoCredential means no credential method was configured; the
	// stage refuses to proceed rather than guess at ambient access.
	ErrNoCredential = errors.New("no cluster credential configured")
	// ErrRolloutFailed means the cluster reported the rollout as stuck.
	ErrRolloutFailed = errors.New("rollout failed to progress")
	// ErrRolloutTimedOut means the rollout did not converge in time.
	// The workload is left as-is for inspection.
	ErrRolloutTimedOut = errors.New("rollout did not complete in time")
)

// ManifestApplyError wraps a failure to get the environment's
// manifests into the cluster, keeping the cause reachable.
type ManifestApplyError struct {
	Err error
}

func (e *ManifestApplyError) Error() string {
	return "applying manifests: " + e.Err.Error()
}

// RolloutRecord is the ephemeral record of one deployment attempt. It
// is mutated only by the attempt that created it, reported at the end,
// and then discarded; nothing persists it.
type RolloutRecord struct {
	Environment string
	Workload    cluster.WorkloadID
	Image       image.CanonicalRef
	State       State
	Started     time.Time
	Finished    time.Time

	Desired   int32
	Updated   int32
	Ready     int32
	Available int32
	Messages  []string
}

func (r *RolloutRecord) observe(status cluster.RolloutStatus) {
	r.Desired = status.Desired
	r.Updated = status.Updated
	r.Ready = status.Ready
	r.Available = status.Available
	r.Messages = status.Messages
}

// Config is one deployment: one workload in one environment, pinned
// to one digest.
type Config struct {
	Environment  string
	Namespace    string
	Deployment   string
	Container    string
	Image        image.CanonicalRef
	Credential   CredentialMethod
	ManifestPath string
	// UseOverlay composes manifests with the overlay tool over
	// ManifestPath instead of reading the files directly.
	UseOverlay   bool
	PollInterval time.Duration
	Timeout      time.Duration
}

// ClusterFunc builds a cluster handle from a kubeconfig path. It is a
// function so the stage can defer construction until after credential
// resolution, and so tests can substitute a fake.
type ClusterFunc func(kubeconfig string) (cluster.Cluster, error)

// Stage runs deployments.
type Stage struct {
	newCluster ClusterFunc
	logger     log.Logger
}

func NewStage(newCluster ClusterFunc, logger log.Logger) *Stage {
	return &Stage{
		newCluster: newCluster,
		logger:     logger,
	}
}

// Run drives one deployment attempt through the state machine. The
// record is returned even on failure, so callers can report how far
// the attempt got and what the cluster last said.
func (s *Stage) Run(ctx context.Context, config Config) (record *RolloutRecord, err error) {
	defer func(begin time.Time) {
		shipmetrics.StageDuration.With(
			shipmetrics.LabelStage, shipmetrics.StageDeploy,
			shipmetrics.LabelEnvironment, config.Environment,
			shipmetrics.LabelSuccess, strconv.FormatBool(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	record = &RolloutRecord{
		Environment: config.Environment,
		Workload:    cluster.WorkloadID{Namespace: config.Namespace, Name: config.Deployment},
		Image:       config.Image,
		State:       StateResolvingCredentials,
		Started:     time.Now(),
	}

	if config.Credential == nil {
		return s.fail(record, StateFailed, ErrNoCredential)
	}
	kubeconfig, cleanup, err := config.Credential.Resolve(ctx)
	if err != nil {
		return s.fail(record, StateFailed, errors.Wrap(err, "resolving credentials"))
	}
	defer cleanup()

	c, err := s.newCluster(kubeconfig)
	if err != nil {
		return s.fail(record, StateFailed, errors.Wrap(err, "connecting to cluster"))
	}

	record.State = StateApplyingManifests
	if err := s.applyManifests(ctx, c, config); err != nil {
		return s.fail(record, StateFailed, &ManifestApplyError{Err: err})
	}

	record.State = StateUpdatingImage
	s.logger.Log("msg", "pinning image", "workload", record.Workload.String(),
		"container", config.Container, "image", config.Image.String())
	if err := c.SetContainerImage(ctx, record.Workload, config.Container, config.Image); err != nil {
		return s.fail(record, StateFailed, errors.Wrap(err, "updating workload image"))
	}

	record.State = StateAwaitingRollout
	interval := config.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	awaitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := awaitRollout(awaitCtx, c, record.Workload, interval, record, s.logger); err != nil {
		if errors.Cause(err) == ErrRolloutTimedOut {
			return s.fail(record, StateTimedOut, err)
		}
		return s.fail(record, StateFailed, err)
	}

	record.State = StateSucceeded
	record.Finished = time.Now()
	s.logger.Log("msg", "rollout complete", "workload", record.Workload.String(), "image", config.Image.String())
	return record, nil
}

func (s *Stage) applyManifests(ctx context.Context, c cluster.Cluster, config Config) error {
	if config.Namespace != "" {
		if err := c.EnsureNamespace(ctx, config.Namespace); err != nil {
			return errors.Wrapf(err, "ensuring namespace %s", config.Namespace)
		}
	}
	if config.ManifestPath == "" {
		return nil
	}

	var docs [][]byte
	var err error
	if config.UseOverlay {
		docs, err = OverlayRenderer{Logger: s.logger}.Render(ctx, config.ManifestPath)
	} else {
		docs, err = ManifestSet{Dir: config.ManifestPath, Environment: config.Environment}.Load()
	}
	if err != nil {
		return err
	}
	return c.ApplyManifests(ctx, docs)
}

func (s *Stage) fail(record *RolloutRecord, state State, err error) (*RolloutRecord, error) {
	record.State = state
	record.Finished = time.Now()
	s.logger.Log("msg", "deployment failed", "workload", record.Workload.String(),
		"state", state, "err", err)
	return record, err
}
