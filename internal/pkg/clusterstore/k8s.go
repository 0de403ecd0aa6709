package clusterstore

import (
	"context"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
)

// k8sStore is the Store implementation backed by a controller-runtime
// client against the cluster's CoucheStor CRDs. Volume is a namespaced
// resource; Pool and StoragePolicy are cluster-scoped.
type k8sStore struct {
	client.Client
	recorder  record.EventRecorder
	namespace string
}

// New returns a Store backed by c, recording events through recorder and
// resolving namespaced Volume objects in namespace.
func New(c client.Client, recorder record.EventRecorder, namespace string) Store {
	return &k8sStore{Client: c, recorder: recorder, namespace: namespace}
}

// GetPolicy returns the raw client error on failure, unwrapped, so callers
// can distinguish a deleted policy with apierrors.IsNotFound.
func (s *k8sStore) GetPolicy(ctx context.Context, name string) (*couchestoriov1.StoragePolicy, error) {
	policy := &couchestoriov1.StoragePolicy{}
	if err := s.Get(ctx, types.NamespacedName{Name: name}, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *k8sStore) ListPools(ctx context.Context) ([]couchestoriov1.Pool, error) {
	list := &couchestoriov1.PoolList{}
	if err := s.List(ctx, list); err != nil {
		return nil, errors.Wrap(err, "failed to list pools")
	}
	return list.Items, nil
}

func (s *k8sStore) GetPool(ctx context.Context, name string) (*couchestoriov1.Pool, error) {
	pool := &couchestoriov1.Pool{}
	if err := s.Get(ctx, types.NamespacedName{Name: name}, pool); err != nil {
		return nil, errors.Wrapf(err, "failed to get pool %s", name)
	}
	return pool, nil
}

func (s *k8sStore) GetVolume(ctx context.Context, name string) (*couchestoriov1.Volume, error) {
	volume := &couchestoriov1.Volume{}
	if err := s.Get(ctx, types.NamespacedName{Namespace: s.namespace, Name: name}, volume); err != nil {
		return nil, errors.Wrapf(err, "failed to get volume %s", name)
	}
	return volume, nil
}

func (s *k8sStore) ListVolumesByStorageClass(ctx context.Context, storageClassName string) ([]couchestoriov1.Volume, error) {
	list := &couchestoriov1.VolumeList{}
	if err := s.List(ctx, list, client.InNamespace(s.namespace)); err != nil {
		return nil, errors.Wrap(err, "failed to list volumes")
	}
	filtered := make([]couchestoriov1.Volume, 0, len(list.Items))
	for _, v := range list.Items {
		if v.Spec.StorageClassName == storageClassName {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

func (s *k8sStore) PatchVolumeReplicas(ctx context.Context, volume *couchestoriov1.Volume, replicaCount int32, targetPool string) error {
	patch := client.MergeFrom(volume.DeepCopy())
	volume.Spec.ReplicaCount = replicaCount
	volume.Spec.TargetPool = targetPool
	if err := s.Patch(ctx, volume, patch); err != nil {
		return errors.Wrapf(err, "failed to patch replicas for volume %s", volume.Name)
	}
	return nil
}

func (s *k8sStore) UpdatePolicyStatus(ctx context.Context, original, policy *couchestoriov1.StoragePolicy) error {
	patch := client.MergeFrom(original)
	if err := s.Status().Patch(ctx, policy, patch); err != nil {
		return errors.Wrapf(err, "failed to patch status of storage policy %s", policy.Name)
	}
	return nil
}

func (s *k8sStore) AnnotateVolume(ctx context.Context, volume *couchestoriov1.Volume, annotations map[string]string) error {
	patch := client.MergeFrom(volume.DeepCopy())
	if volume.Annotations == nil {
		volume.Annotations = map[string]string{}
	}
	for k, v := range annotations {
		volume.Annotations[k] = v
	}
	if err := s.Patch(ctx, volume, patch); err != nil {
		return errors.Wrapf(err, "failed to annotate volume %s", volume.Name)
	}
	return nil
}

func (s *k8sStore) RecordEvent(obj runtime.Object, eventType, reason, message string) {
	s.recorder.Event(obj, eventType, reason, message)
}

// eventTypes mirrors the constants client-go's record package expects.
const (
	EventWarning = corev1.EventTypeWarning
	EventNormal  = corev1.EventTypeNormal
)
