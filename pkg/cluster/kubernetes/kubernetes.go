// Package kubernetes implements cluster.Cluster against the
// Kubernetes API: namespaces and workload state through the typed
// client, manifest application by shelling out to kubectl.
package kubernetes

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	apiapps "k8s.io/api/apps/v1"
	apiv1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/shipway/shipway/pkg/cluster"
	"github.com/shipway/shipway/pkg/image"
)

// Cluster mutates and observes one Kubernetes cluster.
type Cluster struct {
	client  k8sclient.Interface
	applier Applier
	logger  log.Logger
}

// NewCluster returns a usable cluster.
func NewCluster(client k8sclient.Interface, applier Applier, logger log.Logger) *Cluster {
	return &Cluster{
		client:  client,
		applier: applier,
		logger:  logger,
	}
}

// EnsureNamespace creates the namespace if absent; AlreadyExists is
// not an error, so concurrent deploys into one namespace don't race.
func (c *Cluster) EnsureNamespace(ctx context.Context, name string) error {
	ns := &apiv1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	_, err := c.client.CoreV1().Namespaces().Create(ns)
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return errors.Wrapf(err, "creating namespace %s", name)
	}
	return nil
}

// ApplyManifests parses, orders and applies the manifest documents.
func (c *Cluster) ApplyManifests(ctx context.Context, docs [][]byte) error {
	var objs []*apiObject
	for _, doc := range docs {
		obj, err := parseObj(doc)
		if err != nil {
			return errors.Wrap(err, "parsing manifest")
		}
		objs = append(objs, obj)
	}
	sort.Sort(applyOrder(objs))
	return c.applier.Apply(ctx, c.logger, objs)
}

// SetContainerImage patches exactly one container's image to the
// digest-pinned reference, leaving the rest of the spec untouched.
func (c *Cluster) SetContainerImage(ctx context.Context, id cluster.WorkloadID, container string, ref image.CanonicalRef) error {
	deployment, err := c.client.AppsV1().Deployments(id.Namespace).Get(id.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return errors.Wrapf(cluster.ErrWorkloadNotFound, "getting deployment %s", id)
		}
		return errors.Wrapf(err, "getting deployment %s", id)
	}
	if !hasContainer(deployment, container) {
		// A strategic merge patch would silently add the container
		// instead of updating it, so this must be checked up front.
		return errors.Wrapf(cluster.ErrContainerNotFound, "container %q in deployment %s", container, id)
	}

	patch, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"spec": map[string]interface{}{
					"containers": []map[string]string{
						{"name": container, "image": ref.String()},
					},
				},
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "encoding image patch")
	}
	_, err = c.client.AppsV1().Deployments(id.Namespace).Patch(id.Name, types.StrategicMergePatchType, patch)
	if err != nil {
		return errors.Wrapf(err, "patching image of %s/%s", id, container)
	}
	c.logger.Log("msg", "container image updated", "workload", id.String(), "container", container, "image", ref.String())
	return nil
}

// RolloutStatus reports the deployment's progress towards its
// desired replica count.
func (c *Cluster) RolloutStatus(ctx context.Context, id cluster.WorkloadID) (cluster.RolloutStatus, error) {
	deployment, err := c.client.AppsV1().Deployments(id.Namespace).Get(id.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return cluster.RolloutStatus{}, errors.Wrapf(cluster.ErrWorkloadNotFound, "getting deployment %s", id)
		}
		return cluster.RolloutStatus{}, errors.Wrapf(err, "getting deployment %s", id)
	}
	return makeRolloutStatus(deployment), nil
}

func hasContainer(d *apiapps.Deployment, name string) bool {
	for _, ctr := range d.Spec.Template.Spec.Containers {
		if ctr.Name == name {
			return true
		}
	}
	return false
}

func makeRolloutStatus(d *apiapps.Deployment) cluster.RolloutStatus {
	var desired int32
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	return cluster.RolloutStatus{
		Desired:         desired,
		Updated:         d.Status.UpdatedReplicas,
		Ready:           d.Status.ReadyReplicas,
		Available:       d.Status.AvailableReplicas,
		Outdated:        d.Status.Replicas - d.Status.UpdatedReplicas,
		ObservedCurrent: d.Status.ObservedGeneration >= d.ObjectMeta.Generation,
		Messages:        deploymentErrors(d),
	}
}

func deploymentErrors(d *apiapps.Deployment) []string {
	var errs []string
	for _, cond := range d.Status.Conditions {
		if (cond.Type == apiapps.DeploymentProgressing && cond.Status == apiv1.ConditionFalse) ||
			(cond.Type == apiapps.DeploymentReplicaFailure && cond.Status == apiv1.ConditionTrue) {
			errs = append(errs, cond.Message)
		}
	}
	return errs
}
