// Package cluster defines what the deploy stage needs from a target
// cluster. The Kubernetes implementation lives in a subpackage so
// that stage logic and tests need not drag in client machinery.
package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/image"
)

var (
	ErrWorkloadNotFound  = errors.New("workload not found in cluster")
	ErrContainerNotFound = errors.New("container not found in workload")
)

// WorkloadID identifies a deployment-shaped workload in the cluster.
type WorkloadID struct {
	Namespace string
	Name      string
}

func (id WorkloadID) String() string {
	return fmt.Sprintf("%s:%s", id.Namespace, id.Name)
}

// ParseWorkloadID parses "<namespace>:<name>".
func ParseWorkloadID(s string) (WorkloadID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return WorkloadID{}, errors.Errorf("expected workload ID as <namespace>:<name>, got %q", s)
	}
	return WorkloadID{Namespace: parts[0], Name: parts[1]}, nil
}

// The things the deploy stage can do to the running cluster. Note
// there is deliberately no way to remove or roll back anything here;
// rollout failure is reported, not remediated.
type Cluster interface {
	// EnsureNamespace creates the namespace if it is absent; an
	// existing namespace is not an error.
	EnsureNamespace(ctx context.Context, name string) error
	// ApplyManifests applies the manifest documents, ordered so that
	// resources come after what they depend on.
	ApplyManifests(ctx context.Context, docs [][]byte) error
	// SetContainerImage rewrites the image of one container in one
	// workload to a digest-pinned reference. Taking a CanonicalRef is
	// the point: a floating tag cannot be threaded through here.
	SetContainerImage(ctx context.Context, id WorkloadID, container string, ref image.CanonicalRef) error
	// RolloutStatus reports how far the workload's rollout has got.
	RolloutStatus(ctx context.Context, id WorkloadID) (RolloutStatus, error)
}

// RolloutStatus describes numbers of pods in different states and
// the messages about unexpected rollout progress.
// A rollout might be:
// - in progress: Updated, Ready or Available numbers are not equal to Desired, or Outdated not equal to 0
// - stuck: Messages contains info if the workload is unavailable or exceeded its progress deadline
// - complete: Updated, Ready and Available numbers are equal to Desired and Outdated equal to 0
type RolloutStatus struct {
	// Desired number of pods as defined in spec.
	Desired int32
	// Updated number of pods that are on the desired pod spec.
	Updated int32
	// Ready number of pods targeted by this workload.
	Ready int32
	// Available number of available pods (ready for at least minReadySeconds) targeted by this workload.
	Available int32
	// Outdated number of pods that are on a different pod spec.
	Outdated int32
	// ObservedCurrent is whether the controller has seen the current
	// spec generation; until it has, the replica counts describe the
	// previous rollout, not this one.
	ObservedCurrent bool
	// Messages about unexpected rollout progress. If there's a
	// message here, the rollout will not make progress without
	// intervention.
	Messages []string
}

// Complete is true once every desired replica is updated and available.
func (s RolloutStatus) Complete() bool {
	return s.ObservedCurrent &&
		s.Updated == s.Desired &&
		s.Available == s.Desired &&
		s.Outdated == 0
}

// Stuck is true when the cluster has signalled the rollout cannot
// progress without intervention.
func (s RolloutStatus) Stuck() bool {
	return len(s.Messages) > 0
}
