// Package policy implements the Policy Reconciler: the control loop that
// brings a cluster's observed volume placement toward each StoragePolicy's
// declared intent.
package policy

import (
	"time"

	"github.com/pkg/errors"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/durationfmt"
)

// validated is the parsed, invariant-checked form of a StoragePolicy's
// spec durations, used throughout one reconcile pass.
type validated struct {
	samplingWindow   time.Duration
	cooldownPeriod   time.Duration
	migrationTimeout time.Duration
}

// validate checks the invariants of §3: high > low, all durations
// positive, and the hot/cold selectors present. It returns a descriptive
// error on the first violation found. An empty spec.MigrationTimeout
// falls back to defaultSyncTimeout, the process-wide WaitingSync bound.
func validate(spec *couchestoriov1.StoragePolicySpec, defaultSyncTimeout time.Duration) (*validated, error) {
	if spec.HighWatermarkIOPS <= spec.LowWatermarkIOPS {
		return nil, errors.New("highWatermarkIOPS must be greater than lowWatermarkIOPS")
	}
	if spec.HotPoolSelector == nil {
		return nil, errors.New("hotPoolSelector is required")
	}
	if spec.ColdPoolSelector == nil {
		return nil, errors.New("coldPoolSelector is required")
	}

	window, err := positiveDuration(spec.SamplingWindow, "samplingWindow")
	if err != nil {
		return nil, err
	}
	cooldown, err := positiveDuration(spec.CooldownPeriod, "cooldownPeriod")
	if err != nil {
		return nil, err
	}

	timeout := defaultSyncTimeout
	if spec.MigrationTimeout != "" {
		timeout, err = positiveDuration(spec.MigrationTimeout, "migrationTimeout")
		if err != nil {
			return nil, err
		}
	}

	return &validated{
		samplingWindow:   window,
		cooldownPeriod:   cooldown,
		migrationTimeout: timeout,
	}, nil
}

func positiveDuration(s, field string) (time.Duration, error) {
	d, err := durationfmt.Parse(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", field)
	}
	if d <= 0 {
		return 0, errors.Errorf("%s must be positive", field)
	}
	return d, nil
}
