package policy

import (
	"context"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/source"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
)

// SetupWithManager registers the Reconciler with mgr, watching
// StoragePolicy objects and the reconciler's own migration-completion
// channel.
func (r *Reconciler) SetupWithManager(ctx context.Context, mgr ctrl.Manager, workers int) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("policy").
		For(&couchestoriov1.StoragePolicy{}).
		Watches(&source.Channel{Source: r.migrationDone}, &handler.EnqueueRequestForObject{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: workers}).
		Complete(r)
}
