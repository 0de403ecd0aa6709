package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/heat"
)

func selectorFor(key, value string) *metav1.LabelSelector {
	return &metav1.LabelSelector{MatchLabels: map[string]string{key: value}}
}

func testSpec() *couchestoriov1.StoragePolicySpec {
	return &couchestoriov1.StoragePolicySpec{
		HighWatermarkIOPS: 5000,
		LowWatermarkIOPS:  500,
		HotPoolSelector:   selectorFor("tier", "hot"),
		WarmPoolSelector:  selectorFor("tier", "warm"),
		ColdPoolSelector:  selectorFor("tier", "cold"),
	}
}

func TestClassify(t *testing.T) {
	r := &Reconciler{}
	spec := testSpec()

	assert.Equal(t, heat.Hot, r.classify(6500, spec))
	assert.Equal(t, heat.Warm, r.classify(5000, spec), "exactly high watermark is not hot")
	assert.Equal(t, heat.Cold, r.classify(100, spec))
	assert.Equal(t, heat.Warm, r.classify(500, spec), "exactly low watermark is not cold")
}

func TestCurrentTier(t *testing.T) {
	r := &Reconciler{}
	spec := testSpec()

	hotPool := &couchestoriov1.Pool{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"tier": "hot"}}}
	coldPool := &couchestoriov1.Pool{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"tier": "cold"}}}
	unclassifiedPool := &couchestoriov1.Pool{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"tier": "archive"}}}

	tier, err := r.currentTier(hotPool, spec)
	require.NoError(t, err)
	assert.Equal(t, TierHot, tier)

	tier, err = r.currentTier(coldPool, spec)
	require.NoError(t, err)
	assert.Equal(t, TierCold, tier)

	tier, err = r.currentTier(unclassifiedPool, spec)
	require.NoError(t, err)
	assert.Equal(t, TierUnclassified, tier)

	tier, err = r.currentTier(nil, spec)
	require.NoError(t, err)
	assert.Equal(t, TierUnclassified, tier)
}

func TestCoolingDown(t *testing.T) {
	r := &Reconciler{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 24 * time.Hour

	assert.False(t, r.coolingDown(nil, cooldown, now), "no annotation means never cooling down")

	recent := map[string]string{couchestoriov1.LastMigrationAnnotation: now.Add(-1 * time.Hour).Format(time.RFC3339)}
	assert.True(t, r.coolingDown(recent, cooldown, now))

	exact := map[string]string{couchestoriov1.LastMigrationAnnotation: now.Add(-cooldown).Format(time.RFC3339)}
	assert.False(t, r.coolingDown(exact, cooldown, now), "gap exactly equal to cooldown is no longer cooling")

	old := map[string]string{couchestoriov1.LastMigrationAnnotation: now.Add(-48 * time.Hour).Format(time.RFC3339)}
	assert.False(t, r.coolingDown(old, cooldown, now))

	malformed := map[string]string{couchestoriov1.LastMigrationAnnotation: "not-a-timestamp"}
	assert.False(t, r.coolingDown(malformed, cooldown, now))
}

func TestPickTargetPoolPrefersLowestUtilization(t *testing.T) {
	r := &Reconciler{}
	spec := testSpec()

	pools := []couchestoriov1.Pool{
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-b", Labels: map[string]string{"tier": "hot"}},
			Status:     couchestoriov1.PoolStatus{Online: true, CapacityTotalBytes: 1000, CapacityFreeBytes: 200},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-a", Labels: map[string]string{"tier": "hot"}},
			Status:     couchestoriov1.PoolStatus{Online: true, CapacityTotalBytes: 1000, CapacityFreeBytes: 900},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-c", Labels: map[string]string{"tier": "cold"}},
			Status:     couchestoriov1.PoolStatus{Online: true, CapacityTotalBytes: 1000, CapacityFreeBytes: 999},
		},
	}

	name, ok, err := r.pickTargetPool(heat.Hot, spec, pools, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pool-a", name, "pool-a has lower utilization than pool-b")
}

func TestPickTargetPoolTieBreaksOnName(t *testing.T) {
	r := &Reconciler{}
	spec := testSpec()

	pools := []couchestoriov1.Pool{
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-z", Labels: map[string]string{"tier": "hot"}},
			Status:     couchestoriov1.PoolStatus{Online: true, CapacityTotalBytes: 1000, CapacityFreeBytes: 500},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-a", Labels: map[string]string{"tier": "hot"}},
			Status:     couchestoriov1.PoolStatus{Online: true, CapacityTotalBytes: 1000, CapacityFreeBytes: 500},
		},
	}

	name, ok, err := r.pickTargetPool(heat.Hot, spec, pools, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pool-a", name)
}

func TestPickTargetPoolExcludesOfflineAndUndersized(t *testing.T) {
	r := &Reconciler{}
	spec := testSpec()

	pools := []couchestoriov1.Pool{
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-offline", Labels: map[string]string{"tier": "hot"}},
			Status:     couchestoriov1.PoolStatus{Online: false, CapacityTotalBytes: 1000, CapacityFreeBytes: 900},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-small", Labels: map[string]string{"tier": "hot"}},
			Status:     couchestoriov1.PoolStatus{Online: true, CapacityTotalBytes: 1000, CapacityFreeBytes: 50},
		},
	}

	_, ok, err := r.pickTargetPool(heat.Hot, spec, pools, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPickTargetPoolExactCapacityIsEligible(t *testing.T) {
	r := &Reconciler{}
	spec := testSpec()

	pools := []couchestoriov1.Pool{
		{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-exact", Labels: map[string]string{"tier": "hot"}},
			Status:     couchestoriov1.PoolStatus{Online: true, CapacityTotalBytes: 1000, CapacityFreeBytes: 100},
		},
	}

	name, ok, err := r.pickTargetPool(heat.Hot, spec, pools, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pool-exact", name)
}
