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

// PolicyPhase describes the lifecycle phase of a StoragePolicy.
type PolicyPhase string

const (
	// PolicyPending means the policy has been created but not yet reconciled.
	PolicyPending PolicyPhase = "Pending"
	// PolicyActive means the policy is valid and reconciling volumes.
	PolicyActive PolicyPhase = "Active"
	// PolicyDisabled means the policy has enabled=false and performs no migrations.
	PolicyDisabled PolicyPhase = "Disabled"
	// PolicyError means the policy failed invariant validation and performs no migrations.
	PolicyError PolicyPhase = "Error"
)

// StoragePolicySpec defines the desired tiering behaviour for volumes
// matching the policy's targeting fields.
//
// Important: Run "make" to regenerate code after modifying this file.
type StoragePolicySpec struct {
	// HighWatermarkIOPS is the score above which a volume is classified HOT.
	HighWatermarkIOPS float64 `json:"highWatermarkIOPS"`

	// LowWatermarkIOPS is the score below which a volume is classified COLD.
	LowWatermarkIOPS float64 `json:"lowWatermarkIOPS"`

	// WarmWatermarkIOPS is an optional informational watermark. It plays no
	// part in classification: WARM is simply "neither HOT nor COLD".
	// +optional
	WarmWatermarkIOPS *float64 `json:"warmWatermarkIOPS,omitempty"`

	// SamplingWindow is the averaging window passed to the heat observer,
	// in the compound duration format described by internal/pkg/durationfmt.
	SamplingWindow string `json:"samplingWindow"`

	// CooldownPeriod is the minimum wall-clock interval between successive
	// migrations of the same volume.
	CooldownPeriod string `json:"cooldownPeriod"`

	// MigrationTimeout bounds the WaitingSync phase of a dispatched migration.
	MigrationTimeout string `json:"migrationTimeout"`

	// StorageClassName filters the candidate volume set.
	StorageClassName string `json:"storageClassName"`

	// HotPoolSelector matches pools considered part of the hot tier.
	HotPoolSelector *metav1.LabelSelector `json:"hotPoolSelector"`

	// WarmPoolSelector matches pools considered part of the warm tier.
	// +optional
	WarmPoolSelector *metav1.LabelSelector `json:"warmPoolSelector,omitempty"`

	// ColdPoolSelector matches pools considered part of the cold tier.
	ColdPoolSelector *metav1.LabelSelector `json:"coldPoolSelector"`

	// VolumeSelector further restricts candidate volumes by label, in
	// addition to the mandatory StorageClassName filter.
	// +optional
	VolumeSelector *metav1.LabelSelector `json:"volumeSelector,omitempty"`

	// MaxConcurrentMigrations bounds the number of in-flight migrations this
	// policy may have dispatched at once.
	MaxConcurrentMigrations int `json:"maxConcurrentMigrations"`

	// Enabled toggles whether the policy dispatches migrations at all.
	Enabled bool `json:"enabled"`

	// DryRun, when true, computes and logs every decision but never
	// patches a volume or writes the cooldown annotation.
	// +optional
	DryRun bool `json:"dryRun,omitempty"`
}

// MigrationRecord is a terminal migration outcome retained in
// StoragePolicyStatus.MigrationHistory.
type MigrationRecord struct {
	VolumeName string       `json:"volumeName"`
	SourcePool string       `json:"sourcePool"`
	TargetPool string       `json:"targetPool"`
	State      string       `json:"state"`
	StartTime  metav1.Time  `json:"startTime"`
	EndTime    metav1.Time  `json:"endTime"`
	DurationMS int64        `json:"durationMs"`
	Error      string       `json:"error,omitempty"`
}

// StoragePolicyStatus is the live reflection of a StoragePolicy.
type StoragePolicyStatus struct {
	// Phase is the current lifecycle phase of the policy.
	// +optional
	Phase PolicyPhase `json:"phase,omitempty"`

	// WatchedVolumes is the number of volumes matched by this policy's
	// targeting fields during the last reconcile.
	// +optional
	WatchedVolumes int `json:"watchedVolumes,omitempty"`

	// HotVolumes is the number of matched volumes currently on a hot pool.
	// +optional
	HotVolumes int `json:"hotVolumes,omitempty"`

	// WarmVolumes is the number of matched volumes currently on a warm pool.
	// +optional
	WarmVolumes int `json:"warmVolumes,omitempty"`

	// ColdVolumes is the number of matched volumes currently on a cold pool.
	// +optional
	ColdVolumes int `json:"coldVolumes,omitempty"`

	// ActiveMigrations is the number of in-flight migrations dispatched by
	// this policy.
	// +optional
	ActiveMigrations int `json:"activeMigrations,omitempty"`

	// TotalMigrations is a running count of migrations dispatched by this
	// policy over its lifetime.
	// +optional
	TotalMigrations int `json:"totalMigrations,omitempty"`

	// FailedMigrations is a running count of migrations that terminated in
	// Failed or Aborted.
	// +optional
	FailedMigrations int `json:"failedMigrations,omitempty"`

	// LastReconcileTime records when this policy was last reconciled.
	// +optional
	LastReconcileTime metav1.Time `json:"lastReconcileTime,omitempty"`

	// Conditions is an ordered set of the latest observations of the
	// policy's state.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// MigrationHistory holds up to 50 terminal migration outcomes, newest
	// first.
	// +optional
	MigrationHistory []MigrationRecord `json:"migrationHistory,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster

// StoragePolicy is the Schema for the storagepolicies API.
type StoragePolicy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   StoragePolicySpec   `json:"spec,omitempty"`
	Status StoragePolicyStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// StoragePolicyList contains a list of StoragePolicy.
type StoragePolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []StoragePolicy `json:"items"`
}

func init() {
	SchemeBuilder.Register(&StoragePolicy{}, &StoragePolicyList{})
}
