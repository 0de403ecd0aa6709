// Package clusterstore abstracts read and write access to the cluster's
// record of storage policies, volumes and pools, so that the policy
// reconciler and migration engine never depend directly on the
// Kubernetes API machinery.
package clusterstore

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
)

// Store is the cluster-state collaborator used by the policy reconciler
// and migration engine. It is implemented against the Kubernetes API by
// k8sStore, and can be faked in tests.
type Store interface {
	// GetPolicy returns the named StoragePolicy.
	GetPolicy(ctx context.Context, name string) (*couchestoriov1.StoragePolicy, error)

	// ListPools returns every Pool known to the cluster.
	ListPools(ctx context.Context) ([]couchestoriov1.Pool, error)

	// GetPool returns the named Pool.
	GetPool(ctx context.Context, name string) (*couchestoriov1.Pool, error)

	// GetVolume returns the named Volume.
	GetVolume(ctx context.Context, name string) (*couchestoriov1.Volume, error)

	// ListVolumesByStorageClass returns every Volume using storageClassName.
	ListVolumesByStorageClass(ctx context.Context, storageClassName string) ([]couchestoriov1.Volume, error)

	// PatchVolumeReplicas merges a replica count and target pool topology
	// directive into volume's spec.
	PatchVolumeReplicas(ctx context.Context, volume *couchestoriov1.Volume, replicaCount int32, targetPool string) error

	// UpdatePolicyStatus merge-patches the status subresource of policy,
	// diffing against original (as returned by a prior GetPolicy call) so
	// only fields the reconciler actually changed are sent.
	UpdatePolicyStatus(ctx context.Context, original, policy *couchestoriov1.StoragePolicy) error

	// AnnotateVolume merges annotations into volume's metadata.
	AnnotateVolume(ctx context.Context, volume *couchestoriov1.Volume, annotations map[string]string) error

	// RecordEvent emits a Kubernetes event against obj.
	RecordEvent(obj runtime.Object, eventType, reason, message string)
}
