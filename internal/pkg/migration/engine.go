package migration

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/label"
	"k8s.io/apimachinery/pkg/util/wait"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/clusterstore"
	internalmetrics "github.com/couchestor/couchestor/internal/pkg/metrics"
)

// ErrMigrationInProgress is returned when a volume already has an active
// migration task.
var ErrMigrationInProgress = errors.New("migration already in progress for volume")

// ClusterStore is the subset of clusterstore.Store the engine depends on.
// It is satisfied structurally by clusterstore.Store.
type ClusterStore interface {
	GetVolume(ctx context.Context, name string) (*couchestoriov1.Volume, error)
	GetPool(ctx context.Context, name string) (*couchestoriov1.Pool, error)
	PatchVolumeReplicas(ctx context.Context, volume *couchestoriov1.Volume, replicaCount int32, targetPool string) error
	AnnotateVolume(ctx context.Context, volume *couchestoriov1.Volume, annotations map[string]string) error
}

// Engine executes migration tasks. A single Engine may run many tasks
// concurrently; callers are responsible for gating concurrency (per
// policy, via a semaphore) before calling Migrate.
type Engine struct {
	store     ClusterStore
	activeSet *ActiveSet
	log       logr.Logger

	latency internalmetrics.LatencyMetric
	result  internalmetrics.ResultMetric
}

// NewEngine returns an Engine backed by store, tracking in-progress tasks
// in activeSet.
func NewEngine(store ClusterStore, activeSet *ActiveSet, log logr.Logger) *Engine {
	return &Engine{
		store:     store,
		activeSet: activeSet,
		log:       log.WithName("MigrationEngine"),
		latency: internalmetrics.NewLatency(
			"couchestor_migration_duration_seconds",
			"Duration of volume migration tasks, by terminal state.",
		),
		result: internalmetrics.NewResult(
			"couchestor_migration_total",
			"Count of volume migration tasks, by outcome.",
		),
	}
}

// Migrate runs the full state machine for spec synchronously within the
// calling goroutine. Callers needing asynchronous execution should invoke
// Migrate from their own goroutine.
func (e *Engine) Migrate(ctx context.Context, spec TaskSpec) *Result {
	tr := otel.Tracer("migration")
	ctx, span := tr.Start(ctx, "migrate volume")
	span.SetAttributes(
		label.String("volume", spec.VolumeName),
		label.String("source_pool", spec.SourcePool),
		label.String("target_pool", spec.TargetPool),
	)
	defer span.End()

	task := &Task{ID: newTaskID(), Spec: spec, State: Idle, StartTime: time.Now()}
	result := &Result{
		TaskID:     task.ID,
		VolumeName: spec.VolumeName,
		SourcePool: spec.SourcePool,
		TargetPool: spec.TargetPool,
		StartTime:  task.StartTime,
	}
	span.SetAttributes(label.String("task_id", task.ID))

	if !e.activeSet.TryInsert(spec.VolumeName, task) {
		span.RecordError(ErrMigrationInProgress)
		e.finish(result, Failed, ErrMigrationInProgress.Error())
		return result
	}
	defer e.activeSet.Remove(spec.VolumeName)

	log := e.log.WithValues("volume", spec.VolumeName, "policy", spec.PolicyName)

	volume, noop, err := e.analyze(ctx, task, spec)
	if err != nil {
		span.RecordError(err)
		e.finish(result, Failed, err.Error())
		return result
	}
	if noop {
		span.SetStatus(codes.Ok, "already on target pool")
		result.NoOp = true
		e.finish(result, Completed, "")
		return result
	}

	if spec.DryRun {
		log.Info("dry run: would migrate", "from", spec.SourcePool, "to", spec.TargetPool)
		e.recordStep(task, Completed, "dry run, no mutating calls issued")
		span.SetStatus(codes.Ok, "dry run")
		result.NoOp = true
		e.finish(result, Completed, "")
		return result
	}

	if err := e.scaleUp(ctx, task, volume, spec); err != nil {
		span.RecordError(err)
		e.finish(result, Failed, err.Error())
		return result
	}

	synced, err := e.waitForSync(ctx, task, spec)
	if err != nil {
		span.RecordError(err)
		e.finish(result, Failed, err.Error())
		return result
	}
	if !synced {
		e.recordStep(task, Aborted, "sync timeout: old replica retained")
		span.SetStatus(codes.Error, "sync timeout")
		e.finish(result, Aborted, "timed out waiting for new replica to sync")
		return result
	}

	if spec.PreservationMode {
		e.recordStep(task, Completed, "preservation mode: scale-down skipped")
	} else if err := e.scaleDown(ctx, task, spec); err != nil {
		span.RecordError(err)
		e.finish(result, Failed, err.Error())
		return result
	}

	if err := e.writeCooldownAnnotation(ctx, task, spec); err != nil {
		// The migration itself succeeded and data is safe; failing to
		// write the cooldown ledger is logged but not a task failure.
		log.Error(err, "failed to write cooldown annotation")
	}

	e.recordStep(task, Completed, "migration completed")
	span.SetStatus(codes.Ok, "migration completed")
	e.finish(result, Completed, "")
	return result
}

func (e *Engine) finish(result *Result, state State, errMsg string) {
	result.State = state
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Error = errMsg

	var reportErr error
	if errMsg != "" {
		reportErr = errors.New(errMsg)
	}
	e.latency.Observe(string(state), result.Duration)
	e.result.Increment(string(state), reportErr)
}

func (e *Engine) recordStep(task *Task, state State, detail string) {
	task.State = state
	task.Audit = append(task.Audit, AuditStep{State: state, Timestamp: time.Now(), Detail: detail})
}

// analyze implements the Analyzing phase: verify target pool online and
// has capacity, verify volume healthy, and short-circuit if the volume is
// already on the target pool.
func (e *Engine) analyze(ctx context.Context, task *Task, spec TaskSpec) (*couchestoriov1.Volume, bool, error) {
	e.recordStep(task, Analyzing, "verifying target pool and volume health")

	volume, err := e.store.GetVolume(ctx, spec.VolumeName)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read volume")
	}
	if volume.Status.CurrentPool == spec.TargetPool {
		return volume, true, nil
	}
	if !volume.Status.Healthy {
		return nil, false, errors.New("volume is not healthy")
	}

	pool, err := e.store.GetPool(ctx, spec.TargetPool)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read target pool")
	}
	if !pool.Status.Online {
		return nil, false, errors.Errorf("target pool %s is offline", spec.TargetPool)
	}
	if pool.Status.CapacityFreeBytes < volume.Spec.SizeBytes {
		return nil, false, errors.Errorf("target pool %s has insufficient free capacity", spec.TargetPool)
	}

	return volume, false, nil
}

// scaleUp implements the ScalingUp phase, retrying transient cluster-store
// errors with bounded exponential backoff.
func (e *Engine) scaleUp(ctx context.Context, task *Task, volume *couchestoriov1.Volume, spec TaskSpec) error {
	e.recordStep(task, ScalingUp, "incrementing replica count toward target pool")

	err := retryWithBackoff(spec.MaxRetries, func() error {
		return e.store.PatchVolumeReplicas(ctx, volume, volume.Spec.ReplicaCount+1, spec.TargetPool)
	})
	if err != nil {
		return errors.Wrap(err, "scale-up rejected")
	}
	return nil
}

// waitForSync implements the WaitingSync phase: poll until the new replica
// is online and synced, or sync_timeout elapses.
func (e *Engine) waitForSync(ctx context.Context, task *Task, spec TaskSpec) (bool, error) {
	e.recordStep(task, WaitingSync, "waiting for new replica to sync")

	err := wait.PollImmediate(spec.SyncPollInterval, spec.SyncTimeout, func() (bool, error) {
		volume, err := e.store.GetVolume(ctx, spec.VolumeName)
		if err != nil {
			return false, nil // transient read failure, keep polling until timeout
		}
		for _, r := range volume.Status.Replicas {
			if r.Pool == spec.TargetPool && r.Online && r.Synced {
				return true, nil
			}
		}
		return false, nil
	})

	if err == nil {
		return true, nil
	}
	if err == wait.ErrWaitTimeout {
		return false, nil
	}
	return false, err
}

// scaleDown implements the ScalingDown phase.
func (e *Engine) scaleDown(ctx context.Context, task *Task, spec TaskSpec) error {
	e.recordStep(task, ScalingDown, "decrementing replica count, removing source replica")

	err := retryWithBackoff(spec.MaxRetries, func() error {
		volume, err := e.store.GetVolume(ctx, spec.VolumeName)
		if err != nil {
			return err
		}
		return e.store.PatchVolumeReplicas(ctx, volume, volume.Spec.ReplicaCount-1, spec.TargetPool)
	})
	if err != nil {
		return errors.Wrap(err, "scale-down failed")
	}
	return nil
}

// writeCooldownAnnotation writes the last-migration ledger entry.
func (e *Engine) writeCooldownAnnotation(ctx context.Context, task *Task, spec TaskSpec) error {
	volume, err := e.store.GetVolume(ctx, spec.VolumeName)
	if err != nil {
		return err
	}
	return e.store.AnnotateVolume(ctx, volume, map[string]string{
		couchestoriov1.LastMigrationAnnotation: time.Now().UTC().Format(time.RFC3339),
	})
}

// retryWithBackoff retries op up to maxRetries times with exponential
// backoff. Retries never cross phases: callers call this once per phase.
func retryWithBackoff(maxRetries int, op func() error) error {
	backoff := wait.Backoff{
		Duration: 200 * time.Millisecond,
		Factor:   2.0,
		Steps:    maxRetries + 1,
	}

	var lastErr error
	err := wait.ExponentialBackoff(backoff, func() (bool, error) {
		lastErr = op()
		if lastErr == nil {
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return lastErr
	}
	return nil
}
