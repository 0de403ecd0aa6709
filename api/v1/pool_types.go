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

// PoolSpec is currently empty: pools are entirely owned and reported by the
// underlying storage control plane, which CoucheStor never mutates.
type PoolSpec struct{}

// PoolStatus describes the observed state of a storage pool, as reported by
// the storage control plane.
type PoolStatus struct {
	// Online is true if the pool is currently usable as a migration target.
	Online bool `json:"online,omitempty"`

	// CapacityTotalBytes is the pool's total raw capacity.
	CapacityTotalBytes uint64 `json:"capacityTotalBytes,omitempty"`

	// CapacityFreeBytes is the pool's currently unused capacity.
	CapacityFreeBytes uint64 `json:"capacityFreeBytes,omitempty"`
}

// Utilization returns the fraction of capacity in use, in [0, 1]. A pool
// reporting zero total capacity is treated as fully utilized.
func (s PoolStatus) Utilization() float64 {
	if s.CapacityTotalBytes == 0 {
		return 1
	}
	used := s.CapacityTotalBytes - s.CapacityFreeBytes
	return float64(used) / float64(s.CapacityTotalBytes)
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster

// Pool is the Schema for the pools API. Its tier (hot/warm/cold) is not a
// field of the object: it is determined by matching Pool.ObjectMeta.Labels
// against a StoragePolicy's pool selectors.
type Pool struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PoolSpec   `json:"spec,omitempty"`
	Status PoolStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// PoolList contains a list of Pool.
type PoolList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Pool `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Pool{}, &PoolList{})
}
