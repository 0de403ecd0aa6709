package policy

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/migration"
)

// maxMigrationHistory is the capacity of StoragePolicyStatus.MigrationHistory.
// Oldest entries are evicted once this is exceeded. No pack precedent
// exists for a ring buffer here, so eviction is a manual slice trim
// rather than container/ring.
const maxMigrationHistory = 50

// conditionType names used on StoragePolicy status.
const (
	conditionValidated        = "Validated"
	conditionBackendUnhealthy = "BackendUnhealthy"
)

// setCondition inserts or updates a condition by type, following the same
// transition-time semantics as meta.SetStatusCondition.
func setCondition(conditions *[]metav1.Condition, newCond metav1.Condition) {
	newCond.LastTransitionTime = metav1.NewTime(time.Now())
	for i := range *conditions {
		if (*conditions)[i].Type == newCond.Type {
			if (*conditions)[i].Status == newCond.Status {
				newCond.LastTransitionTime = (*conditions)[i].LastTransitionTime
			}
			(*conditions)[i] = newCond
			return
		}
	}
	*conditions = append(*conditions, newCond)
}

// removeCondition deletes a condition by type, if present.
func removeCondition(conditions *[]metav1.Condition, condType string) {
	filtered := (*conditions)[:0]
	for _, c := range *conditions {
		if c.Type != condType {
			filtered = append(filtered, c)
		}
	}
	*conditions = filtered
}

// appendMigrationResult records a terminal migration outcome onto status,
// newest first, evicting beyond maxMigrationHistory.
func appendMigrationResult(status *couchestoriov1.StoragePolicyStatus, result *migration.Result) {
	record := couchestoriov1.MigrationRecord{
		VolumeName: result.VolumeName,
		SourcePool: result.SourcePool,
		TargetPool: result.TargetPool,
		State:      string(result.State),
		StartTime:  metav1.NewTime(result.StartTime),
		EndTime:    metav1.NewTime(result.EndTime),
		DurationMS: result.Duration.Milliseconds(),
		Error:      result.Error,
	}

	status.MigrationHistory = append([]couchestoriov1.MigrationRecord{record}, status.MigrationHistory...)
	if len(status.MigrationHistory) > maxMigrationHistory {
		status.MigrationHistory = status.MigrationHistory[:maxMigrationHistory]
	}

	status.TotalMigrations++
	if !result.Success() {
		status.FailedMigrations++
	}
}

// aggregateCounts recomputes the watched/hot/warm/cold counts on status
// from the tier each candidate volume currently classifies as.
func aggregateCounts(status *couchestoriov1.StoragePolicyStatus, tiers []PoolTier) {
	status.WatchedVolumes = len(tiers)
	status.HotVolumes = 0
	status.WarmVolumes = 0
	status.ColdVolumes = 0

	for _, t := range tiers {
		switch t {
		case TierHot:
			status.HotVolumes++
		case TierWarm:
			status.WarmVolumes++
		case TierCold:
			status.ColdVolumes++
		}
	}
}
