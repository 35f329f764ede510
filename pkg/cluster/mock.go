package cluster

import (
	"context"

	"github.com/shipway/shipway/pkg/image"
)

// Mock is a Cluster with pluggable behaviour, for tests.
type Mock struct {
	EnsureNamespaceFn   func(name string) error
	ApplyManifestsFn    func(docs [][]byte) error
	SetContainerImageFn func(id WorkloadID, container string, ref image.CanonicalRef) error
	RolloutStatusFn     func(id WorkloadID) (RolloutStatus, error)
}

var _ Cluster = &Mock{}

func (m *Mock) EnsureNamespace(_ context.Context, name string) error {
	return m.EnsureNamespaceFn(name)
}

func (m *Mock) ApplyManifests(_ context.Context, docs [][]byte) error {
	return m.ApplyManifestsFn(docs)
}

func (m *Mock) SetContainerImage(_ context.Context, id WorkloadID, container string, ref image.CanonicalRef) error {
	return m.SetContainerImageFn(id, container, ref)
}

func (m *Mock) RolloutStatus(_ context.Context, id WorkloadID) (RolloutStatus, error) {
	return m.RolloutStatusFn(id)
}
