package policy

import (
	"sort"
	"time"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/heat"
	"github.com/couchestor/couchestor/internal/pkg/selector"
)

// PoolTier classifies a pool by which of a policy's selectors it matches.
// A pool matching none of them is Unclassified, per the reconciliation
// algorithm's edge-case handling.
type PoolTier string

const (
	TierHot          PoolTier = "Hot"
	TierWarm         PoolTier = "Warm"
	TierCold         PoolTier = "Cold"
	TierUnclassified PoolTier = "Unclassified"
)

// classify resolves a heat score to a Tier under the policy's watermarks.
func (r *Reconciler) classify(score float64, spec *couchestoriov1.StoragePolicySpec) heat.Tier {
	return heat.Classify(score, spec.HighWatermarkIOPS, spec.LowWatermarkIOPS)
}

// currentTier resolves which tier pool currently belongs to, by matching
// its labels against the policy's hot/warm/cold pool selectors.
func (r *Reconciler) currentTier(pool *couchestoriov1.Pool, spec *couchestoriov1.StoragePolicySpec) (PoolTier, error) {
	if pool == nil {
		return TierUnclassified, nil
	}

	matchesHot, err := selector.Matches(spec.HotPoolSelector, pool.Labels)
	if err != nil {
		return TierUnclassified, err
	}
	if matchesHot {
		return TierHot, nil
	}

	matchesCold, err := selector.Matches(spec.ColdPoolSelector, pool.Labels)
	if err != nil {
		return TierUnclassified, err
	}
	if matchesCold {
		return TierCold, nil
	}

	if spec.WarmPoolSelector != nil {
		matchesWarm, err := selector.Matches(spec.WarmPoolSelector, pool.Labels)
		if err != nil {
			return TierUnclassified, err
		}
		if matchesWarm {
			return TierWarm, nil
		}
	}

	return TierUnclassified, nil
}

// coolingDown reports whether volumeName's last-migration annotation puts
// it within the cooldown window. Absence of the annotation is treated as
// infinite past, i.e. never cooling down. The comparison is strict: a gap
// exactly equal to cooldown is no longer cooling.
func (r *Reconciler) coolingDown(annotations map[string]string, cooldown time.Duration, now time.Time) bool {
	raw, ok := annotations[couchestoriov1.LastMigrationAnnotation]
	if !ok || raw == "" {
		return false
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return now.Sub(last) < cooldown
}

// pickTargetPool chooses the least-utilized online pool matching tier's
// selector with at least minFreeBytes of free capacity. Ties break on
// lexicographically smaller pool name.
func (r *Reconciler) pickTargetPool(tier heat.Tier, spec *couchestoriov1.StoragePolicySpec, pools []couchestoriov1.Pool, minFreeBytes uint64) (string, bool, error) {
	var sel = spec.ColdPoolSelector
	switch tier {
	case heat.Hot:
		sel = spec.HotPoolSelector
	case heat.Warm:
		sel = spec.WarmPoolSelector
	case heat.Cold:
		sel = spec.ColdPoolSelector
	}
	if sel == nil {
		return "", false, nil
	}

	type candidate struct {
		name        string
		utilization float64
	}
	var eligible []candidate

	for _, pool := range pools {
		matches, err := selector.Matches(sel, pool.Labels)
		if err != nil {
			return "", false, err
		}
		if !matches {
			continue
		}
		if !pool.Status.Online {
			continue
		}
		if pool.Status.CapacityFreeBytes < minFreeBytes {
			continue
		}
		eligible = append(eligible, candidate{name: pool.Name, utilization: pool.Status.Utilization()})
	}

	if len(eligible) == 0 {
		return "", false, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].utilization != eligible[j].utilization {
			return eligible[i].utilization < eligible[j].utilization
		}
		return eligible[i].name < eligible[j].name
	})

	return eligible[0].name, true, nil
}
