package policy

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"golang.org/x/sync/semaphore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/label"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/clusterstore"
	"github.com/couchestor/couchestor/internal/pkg/heat"
	"github.com/couchestor/couchestor/internal/pkg/migration"
	"github.com/couchestor/couchestor/internal/pkg/selector"
)

// Reconciler brings each StoragePolicy's observed volume placement toward
// its declared intent. It is activated by watch events on policy objects,
// by a periodic requeue, and by an explicit wake when a migration it
// dispatched completes.
type Reconciler struct {
	store     clusterstore.Store
	observer  *heat.Observer
	engine    *migration.Engine
	activeSet *migration.ActiveSet

	reconcileInterval  time.Duration
	syncPollInterval   time.Duration
	defaultSyncTimeout time.Duration
	maxRetries         int
	preservationMode   bool
	log                logr.Logger

	// migrationDone carries a GenericEvent for the owning policy once a
	// dispatched migration reaches a terminal state, so that policy is
	// requeued immediately instead of waiting for the next periodic tick.
	migrationDone chan event.GenericEvent

	semMu      sync.Mutex
	semaphores map[string]*policySemaphore
}

type policySemaphore struct {
	sem      *semaphore.Weighted
	capacity int
}

// Config configures a Reconciler.
type Config struct {
	Store             clusterstore.Store
	Observer          *heat.Observer
	Engine            *migration.Engine
	ActiveSet         *migration.ActiveSet
	ReconcileInterval time.Duration
	// SyncPollInterval is the WaitingSync poll frequency applied to every
	// dispatched migration task.
	SyncPollInterval time.Duration
	// DefaultSyncTimeout is the WaitingSync bound used when a policy
	// leaves migrationTimeout unset.
	DefaultSyncTimeout time.Duration
	// MaxRetries bounds patch retries within a single migration phase.
	MaxRetries int
	// PreservationMode skips ScalingDown for every dispatched task.
	PreservationMode bool
}

// NewReconciler returns a new Reconciler.
func NewReconciler(cfg Config, log logr.Logger) *Reconciler {
	return &Reconciler{
		store:              cfg.Store,
		observer:           cfg.Observer,
		engine:             cfg.Engine,
		activeSet:          cfg.ActiveSet,
		reconcileInterval:  cfg.ReconcileInterval,
		syncPollInterval:   cfg.SyncPollInterval,
		defaultSyncTimeout: cfg.DefaultSyncTimeout,
		maxRetries:         cfg.MaxRetries,
		preservationMode:   cfg.PreservationMode,
		log:                log.WithName("PolicyReconciler"),
		migrationDone:      make(chan event.GenericEvent),
		semaphores:         make(map[string]*policySemaphore),
	}
}

// +kubebuilder:rbac:groups=couchestor.io,resources=storagepolicies,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=couchestor.io,resources=storagepolicies/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=couchestor.io,resources=pools,verbs=get;list;watch
// +kubebuilder:rbac:groups=couchestor.io,resources=volumes,verbs=get;list;watch;update;patch

// Reconcile implements the reconciliation algorithm of the policy control
// loop.
func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	tr := otel.Tracer("policy")
	ctx, span := tr.Start(ctx, "policy reconcile")
	span.SetAttributes(label.String("name", req.Name))
	defer span.End()

	log := r.log.WithValues("policy", req.Name)

	policy, err := r.store.GetPolicy(ctx, req.Name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			r.dropSemaphore(req.Name)
			span.SetStatus(codes.Ok, "policy deleted")
			return ctrl.Result{}, nil
		}
		span.RecordError(err)
		return ctrl.Result{}, err
	}
	original := policy.DeepCopy()

	if !policy.Spec.Enabled {
		policy.Status.Phase = couchestoriov1.PolicyDisabled
		policy.Status.LastReconcileTime = metav1.NewTime(time.Now())
		if err := r.store.UpdatePolicyStatus(ctx, original, policy); err != nil {
			span.RecordError(err)
			return ctrl.Result{}, err
		}
		span.SetStatus(codes.Ok, "policy disabled")
		return ctrl.Result{RequeueAfter: r.reconcileInterval}, nil
	}

	spec, err := validate(&policy.Spec, r.defaultSyncTimeout)
	if err != nil {
		policy.Status.Phase = couchestoriov1.PolicyError
		setCondition(&policy.Status.Conditions, metav1.Condition{
			Type:    conditionValidated,
			Status:  metav1.ConditionFalse,
			Reason:  "InvalidSpec",
			Message: err.Error(),
		})
		policy.Status.LastReconcileTime = metav1.NewTime(time.Now())
		if updateErr := r.store.UpdatePolicyStatus(ctx, original, policy); updateErr != nil {
			span.RecordError(updateErr)
			return ctrl.Result{}, updateErr
		}
		log.Info("policy failed validation", "reason", err)
		span.SetStatus(codes.Error, "invalid spec")
		return ctrl.Result{RequeueAfter: r.reconcileInterval}, nil
	}
	removeCondition(&policy.Status.Conditions, conditionValidated)

	if !r.observer.Healthy() {
		setCondition(&policy.Status.Conditions, metav1.Condition{
			Type:    conditionBackendUnhealthy,
			Status:  metav1.ConditionTrue,
			Reason:  "TelemetryBackendUnreachable",
			Message: "heat observer health check is failing; migrations are suppressed",
		})
	} else {
		removeCondition(&policy.Status.Conditions, conditionBackendUnhealthy)
	}

	pools, err := r.store.ListPools(ctx)
	if err != nil {
		span.RecordError(err)
		return ctrl.Result{}, err
	}
	poolsByName := make(map[string]couchestoriov1.Pool, len(pools))
	for _, p := range pools {
		poolsByName[p.Name] = p
	}

	candidates, err := r.enumerateCandidates(ctx, policy)
	if err != nil {
		span.RecordError(err)
		return ctrl.Result{}, err
	}

	sem := r.semaphoreFor(req.Name, policy.Spec.MaxConcurrentMigrations)

	var tiers []PoolTier
	var errs *multierror.Error
	activeCount := 0

	for _, volume := range candidates {
		volume := volume
		pool := poolsByNamePtr(poolsByName, volume.Status.CurrentPool)
		curTier, err := r.currentTier(pool, &policy.Spec)
		if err != nil {
			log.Error(err, "failed to resolve current tier", "volume", volume.Name)
			errs = multierror.Append(errs, errors.Wrapf(err, "volume %s", volume.Name))
			continue
		}
		tiers = append(tiers, curTier)

		if _, active := r.activeSet.Get(volume.Name); active {
			activeCount++
		}

		if r.observer != nil && !r.observer.Healthy() {
			continue
		}

		score, err := r.observer.GetHeatScore(ctx, volume.Name, spec.samplingWindow)
		if err != nil {
			log.Error(err, "failed to get heat score", "volume", volume.Name)
			errs = multierror.Append(errs, errors.Wrapf(err, "volume %s", volume.Name))
			continue
		}

		targetTier := r.classify(score.Score, &policy.Spec)
		if targetTier == heat.Warm {
			// WARM implies no action, regardless of the volume's current tier.
			continue
		}
		if string(targetTier) == string(curTier) {
			continue
		}

		if r.coolingDown(volume.Annotations, spec.cooldownPeriod, time.Now()) {
			continue
		}

		if _, active := r.activeSet.Get(volume.Name); active {
			continue
		}

		targetPool, ok, err := r.pickTargetPool(targetTier, &policy.Spec, pools, volume.Spec.SizeBytes)
		if err != nil {
			log.Error(err, "failed to pick target pool", "volume", volume.Name)
			errs = multierror.Append(errs, errors.Wrapf(err, "volume %s", volume.Name))
			continue
		}
		if !ok {
			r.store.RecordEvent(&volume, clusterstore.EventWarning, "NoSuitablePool",
				"no pool matching the target tier is online with sufficient capacity")
			continue
		}

		if policy.Spec.DryRun {
			log.Info("dry run: would migrate", "volume", volume.Name, "from", volume.Status.CurrentPool, "to", targetPool)
			continue
		}

		if !sem.TryAcquire(1) {
			log.V(5).Info("concurrency limit reached, deferring to next reconcile", "volume", volume.Name)
			continue
		}

		taskSpec := migration.TaskSpec{
			PolicyName:       policy.Name,
			VolumeName:       volume.Name,
			SourcePool:       volume.Status.CurrentPool,
			TargetPool:       targetPool,
			PreservationMode: r.preservationMode,
			DryRun:           false,
			SyncPollInterval: r.syncPollInterval,
			SyncTimeout:      spec.migrationTimeout,
			MaxRetries:       r.maxRetries,
		}
		r.dispatch(ctx, policy.Name, sem, taskSpec)
		activeCount++
	}

	aggregateCounts(&policy.Status, tiers)
	policy.Status.ActiveMigrations = activeCount
	policy.Status.Phase = couchestoriov1.PolicyActive
	policy.Status.LastReconcileTime = metav1.NewTime(time.Now())

	if err := r.store.UpdatePolicyStatus(ctx, original, policy); err != nil {
		span.RecordError(err)
		return ctrl.Result{}, err
	}

	if err := errs.ErrorOrNil(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconciled with per-volume errors")
		return ctrl.Result{RequeueAfter: r.reconcileInterval}, err
	}

	span.SetStatus(codes.Ok, "reconciled")
	return ctrl.Result{RequeueAfter: r.reconcileInterval}, nil
}

// enumerateCandidates returns the volumes a policy applies to: filtered by
// storage class, and further filtered by the optional volume selector.
func (r *Reconciler) enumerateCandidates(ctx context.Context, policy *couchestoriov1.StoragePolicy) ([]couchestoriov1.Volume, error) {
	volumes, err := r.store.ListVolumesByStorageClass(ctx, policy.Spec.StorageClassName)
	if err != nil {
		return nil, err
	}
	if policy.Spec.VolumeSelector == nil {
		return volumes, nil
	}

	filtered := make([]couchestoriov1.Volume, 0, len(volumes))
	for _, v := range volumes {
		matches, err := selector.Matches(policy.Spec.VolumeSelector, v.Labels)
		if err != nil {
			return nil, err
		}
		if matches {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

// dispatch runs a migration task on its own goroutine, releasing the
// semaphore permit and folding the result into status history once it
// terminates, then waking the owning policy for immediate re-reconcile.
func (r *Reconciler) dispatch(ctx context.Context, policyName string, sem *semaphore.Weighted, spec migration.TaskSpec) {
	go func() {
		defer sem.Release(1)

		result := r.engine.Migrate(context.Background(), spec)

		if err := r.foldResult(ctx, policyName, result); err != nil {
			r.log.Error(err, "failed to fold migration result into policy status", "policy", policyName, "volume", spec.VolumeName)
		}

		r.migrationDone <- event.GenericEvent{
			Object: &couchestoriov1.StoragePolicy{ObjectMeta: metav1.ObjectMeta{Name: policyName}},
		}
	}()
}

// foldResult appends a terminal migration outcome to the owning policy's
// history.
func (r *Reconciler) foldResult(ctx context.Context, policyName string, result *migration.Result) error {
	if result.NoOp {
		return nil
	}
	policy, err := r.store.GetPolicy(ctx, policyName)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	original := policy.DeepCopy()
	appendMigrationResult(&policy.Status, result)
	return r.store.UpdatePolicyStatus(ctx, original, policy)
}

// semaphoreFor returns the concurrency gate for policyName, (re)creating it
// if the configured capacity has changed. Recreating drops any permits
// held by in-flight tasks dispatched under the old capacity; those tasks
// still run to completion, they simply release into a discarded semaphore.
func (r *Reconciler) semaphoreFor(policyName string, capacity int) *semaphore.Weighted {
	r.semMu.Lock()
	defer r.semMu.Unlock()

	if capacity <= 0 {
		capacity = 1
	}

	existing, ok := r.semaphores[policyName]
	if ok && existing.capacity == capacity {
		return existing.sem
	}
	ps := &policySemaphore{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
	r.semaphores[policyName] = ps
	return ps.sem
}

func (r *Reconciler) dropSemaphore(policyName string) {
	r.semMu.Lock()
	defer r.semMu.Unlock()
	delete(r.semaphores, policyName)
}

func poolsByNamePtr(pools map[string]couchestoriov1.Pool, name string) *couchestoriov1.Pool {
	p, ok := pools[name]
	if !ok {
		return nil
	}
	return &p
}
