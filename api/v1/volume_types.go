/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// LastMigrationAnnotation is the sole annotation key CoucheStor reads and
// writes on a Volume. It carries an RFC 3339 UTC timestamp and is the
// cooldown ledger described by the reconciliation algorithm.
const LastMigrationAnnotation = "couchestor.io/last-migration"

// VolumeReplica describes one replica of a volume, as reported by the
// storage control plane.
type VolumeReplica struct {
	Pool   string `json:"pool"`
	Online bool   `json:"online"`
	Synced bool   `json:"synced"`
}

// VolumeSpec is the desired state of a volume, as far as CoucheStor is
// concerned. Everything else about the volume (filesystem, mount options,
// consumer workload) belongs to the out-of-scope storage control plane.
type VolumeSpec struct {
	// StorageClassName is used to filter volumes into a policy's candidate set.
	StorageClassName string `json:"storageClassName,omitempty"`

	// SizeBytes is the volume's provisioned size, used to check target pool
	// capacity before a migration is dispatched.
	SizeBytes uint64 `json:"sizeBytes,omitempty"`

	// ReplicaCount is the desired replica count. CoucheStor increments it to
	// start a migration and decrements it once the new replica is synced.
	ReplicaCount int32 `json:"replicaCount,omitempty"`

	// TargetPool is a topology directive: when set, the storage control
	// plane is expected to place the next new replica on this pool.
	// +optional
	TargetPool string `json:"targetPool,omitempty"`
}

// VolumeStatus is the observed state of a volume, as reported by the
// storage control plane.
type VolumeStatus struct {
	// CurrentPool is the pool hosting the volume's primary/active replica.
	CurrentPool string `json:"currentPool,omitempty"`

	// Healthy reflects whether the volume is currently servicable.
	Healthy bool `json:"healthy,omitempty"`

	// Replicas lists every replica the storage control plane currently
	// reports for this volume.
	// +optional
	Replicas []VolumeReplica `json:"replicas,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// Volume is the Schema for the volumes API.
type Volume struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   VolumeSpec   `json:"spec,omitempty"`
	Status VolumeStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// VolumeList contains a list of Volume.
type VolumeList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Volume `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Volume{}, &VolumeList{})
}
