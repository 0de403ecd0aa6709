package policy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/migration"
)

func TestSetConditionInsertsAndUpdates(t *testing.T) {
	var conditions []metav1.Condition

	setCondition(&conditions, metav1.Condition{Type: "Validated", Status: metav1.ConditionFalse, Reason: "Bad"})
	require.Len(t, conditions, 1)
	firstTransition := conditions[0].LastTransitionTime

	setCondition(&conditions, metav1.Condition{Type: "Validated", Status: metav1.ConditionFalse, Reason: "StillBad"})
	require.Len(t, conditions, 1)
	assert.Equal(t, "StillBad", conditions[0].Reason)
	assert.Equal(t, firstTransition, conditions[0].LastTransitionTime, "transition time unchanged when status is unchanged")

	setCondition(&conditions, metav1.Condition{Type: "Validated", Status: metav1.ConditionTrue, Reason: "Fixed"})
	assert.Equal(t, metav1.ConditionTrue, conditions[0].Status)
}

func TestRemoveCondition(t *testing.T) {
	conditions := []metav1.Condition{
		{Type: "Validated", Status: metav1.ConditionFalse},
		{Type: "BackendUnhealthy", Status: metav1.ConditionTrue},
	}

	removeCondition(&conditions, "Validated")
	require.Len(t, conditions, 1)
	assert.Equal(t, "BackendUnhealthy", conditions[0].Type)
}

func TestAppendMigrationResultOrdersNewestFirstAndCapsAt50(t *testing.T) {
	status := &couchestoriov1.StoragePolicyStatus{}

	for i := 0; i < 60; i++ {
		appendMigrationResult(status, &migration.Result{
			VolumeName: fmt.Sprintf("vol-%d", i),
			State:      migration.Completed,
			StartTime:  time.Now(),
			EndTime:    time.Now(),
		})
	}

	assert.Len(t, status.MigrationHistory, 50)
	assert.Equal(t, "vol-59", status.MigrationHistory[0].VolumeName, "newest entry first")
	assert.Equal(t, "vol-10", status.MigrationHistory[49].VolumeName, "oldest ten evicted")
	assert.Equal(t, 60, status.TotalMigrations)
	assert.Equal(t, 0, status.FailedMigrations)
}

func TestAppendMigrationResultTracksFailures(t *testing.T) {
	status := &couchestoriov1.StoragePolicyStatus{}

	appendMigrationResult(status, &migration.Result{State: migration.Failed, Error: "boom"})
	appendMigrationResult(status, &migration.Result{State: migration.Completed})

	assert.Equal(t, 1, status.FailedMigrations)
	assert.Equal(t, 2, status.TotalMigrations)
}

func TestAggregateCounts(t *testing.T) {
	status := &couchestoriov1.StoragePolicyStatus{}
	aggregateCounts(status, []PoolTier{TierHot, TierHot, TierWarm, TierCold, TierUnclassified})

	assert.Equal(t, 5, status.WatchedVolumes)
	assert.Equal(t, 2, status.HotVolumes)
	assert.Equal(t, 1, status.WarmVolumes)
	assert.Equal(t, 1, status.ColdVolumes)
}
