/*
MIT License

Copyright (c) 2021 StorageOS

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/darkowlzz/operator-toolkit/telemetry/export"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	couchestoriov1 "github.com/couchestor/couchestor/api/v1"
	"github.com/couchestor/couchestor/internal/pkg/cluster"
	"github.com/couchestor/couchestor/internal/pkg/clusterstore"
	"github.com/couchestor/couchestor/internal/pkg/heat"
	"github.com/couchestor/couchestor/internal/pkg/labels"
	"github.com/couchestor/couchestor/internal/pkg/migration"
	"github.com/couchestor/couchestor/internal/pkg/policy"
	"github.com/couchestor/couchestor/internal/pkg/secretfile"
	// +kubebuilder:scaffold:imports
)

const policyWorkers = 5

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("couchestor")
)

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = couchestoriov1.AddToScheme(scheme)
	// +kubebuilder:scaffold:scheme
}

func main() {
	var loggerOpts zap.Options
	var metricsAddr string
	var enableLeaderElection bool
	var clusterNamespace string
	var telemetryURL string
	var telemetrySecretPath string
	var telemetryQueryTimeout time.Duration
	var heatCacheTTL time.Duration
	var heatPrimaryMetric string
	var heatFallbackMetrics string
	var heatHealthCheckWindow time.Duration
	var heatHealthCheckInterval time.Duration
	var reconcileInterval time.Duration
	var syncPollInterval time.Duration
	var syncTimeout time.Duration
	var maxRetries int
	var preservationMode bool

	flag.StringVar(&metricsAddr, "metrics-addr", ":8080", "The address the metric endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "enable-leader-election", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.StringVar(&clusterNamespace, "cluster-namespace", "", "Namespace holding Volume objects (Pools are cluster-scoped).  Will be auto-detected if unset.")
	flag.StringVar(&telemetryURL, "telemetry-url", "http://prometheus:9090", "Base URL of the time-series telemetry backend.")
	flag.StringVar(&telemetrySecretPath, "telemetry-secret-path", "", "Path to a mounted secret directory with a \"token\" file for telemetry bearer auth.  Unauthenticated if unset.")
	flag.DurationVar(&telemetryQueryTimeout, "telemetry-query-timeout", 30*time.Second, "Per-query timeout against the telemetry backend.")
	flag.DurationVar(&heatCacheTTL, "heat-cache-ttl", 30*time.Second, "Time-to-live of cached heat scores.")
	flag.StringVar(&heatPrimaryMetric, "heat-primary-metric", "volume_iops_total", "Primary metric identifier used to compute heat scores.")
	flag.StringVar(&heatFallbackMetrics, "heat-fallback-metrics", "", "Comma-separated ordered fallback metric identifiers, tried when the primary metric has no data.")
	flag.DurationVar(&heatHealthCheckWindow, "heat-health-check-window", 5*time.Minute, "Range-vector window used by the synthetic health-check query against the telemetry backend.")
	flag.DurationVar(&heatHealthCheckInterval, "heat-health-check-interval", 15*time.Second, "Interval between periodic telemetry backend health checks.")
	flag.DurationVar(&reconcileInterval, "reconcile-interval", 60*time.Second, "Periodic policy requeue interval.")
	flag.DurationVar(&syncPollInterval, "sync-poll-interval", 10*time.Second, "Replica-sync poll frequency during a migration's WaitingSync phase.")
	flag.DurationVar(&syncTimeout, "sync-timeout", 30*time.Minute, "Default WaitingSync bound, overridden per policy by migrationTimeout.")
	flag.IntVar(&maxRetries, "max-retries", 3, "Maximum patch retries within one migration phase.")
	flag.BoolVar(&preservationMode, "preservation-mode", false, "Skip ScalingDown for every dispatched migration, leaving source replicas in place.")

	loggerOpts.BindFlags(flag.CommandLine)
	flag.Parse()

	encoderOpts := func(o *zap.Options) {
		o.EncoderConfigOptions = append(o.EncoderConfigOptions, func(ec *zapcore.EncoderConfig) {
			ec.TimeKey = "timestamp"
			ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		})
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&loggerOpts), zap.StacktraceLevel(zapcore.PanicLevel), encoderOpts))

	// Setup telemetry.
	telemetryShutdown, err := export.InstallJaegerExporter("couchestor")
	if err != nil {
		fatal(err, "unable to setup telemetry exporter")
	}
	defer telemetryShutdown()

	// Build the heat observer, retrying the initial connectivity check so a
	// cold-started telemetry backend doesn't poison every reconcile's view
	// of observer health before it has had a chance to come up.
	var token string
	if telemetrySecretPath != "" {
		token, err = secretfile.Read(telemetrySecretPath + "/token")
		if err != nil {
			fatal(err, "unable to read telemetry secret")
		}
	}

	backend := heat.NewHTTPBackend(telemetryURL, token, telemetryQueryTimeout)
	observer := heat.NewObserver(heat.Config{
		Backend:         backend,
		PrimaryMetric:   heatPrimaryMetric,
		FallbackMetrics: splitNonEmpty(heatFallbackMetrics),
		Window:          heatHealthCheckWindow,
		CacheTTL:        heatCacheTTL,
		CacheCleanup:    2 * heatCacheTTL,
	}, ctrl.Log)

	const apiRetryInterval = 5 * time.Second
	for {
		if err := observer.HealthCheck(context.Background()); err == nil {
			break
		} else {
			setupLog.Info(fmt.Sprintf("telemetry backend not yet reachable, retrying in %s", apiRetryInterval), "msg", err)
			time.Sleep(apiRetryInterval)
		}
	}
	setupLog.Info("connected to the telemetry backend", "telemetry-url", telemetryURL)

	ctx, cancel := context.WithCancel(ctrl.SetupSignalHandler())
	defer cancel()

	go observer.Run(ctx, heatHealthCheckInterval)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:             scheme,
		MetricsBindAddress: metricsAddr,
		Port:               9443,
		LeaderElection:     enableLeaderElection,
		LeaderElectionID:   "couchestor-controller-lease",
	})
	if err != nil {
		fatal(err, "unable to start manager")
	}

	if clusterNamespace == "" {
		clusterNamespace, err = cluster.Namespace()
		if err != nil {
			setupLog.Info("unable to auto-detect cluster namespace, defaulting to \"default\"; set -cluster-namespace explicitly to override", "msg", err)
			clusterNamespace = "default"
		}
	}

	recorder := mgr.GetEventRecorderFor(labels.DefaultAppComponent)
	store := clusterstore.New(mgr.GetClient(), recorder, clusterNamespace)
	activeSet := migration.NewActiveSet()
	engine := migration.NewEngine(store, activeSet, ctrl.Log)

	reconciler := policy.NewReconciler(policy.Config{
		Store:              store,
		Observer:           observer,
		Engine:             engine,
		ActiveSet:          activeSet,
		ReconcileInterval:  reconcileInterval,
		SyncPollInterval:   syncPollInterval,
		DefaultSyncTimeout: syncTimeout,
		MaxRetries:         maxRetries,
		PreservationMode:   preservationMode,
	}, ctrl.Log)

	// +kubebuilder:scaffold:builder

	setupLog.Info("starting policy reconciler")
	if err := reconciler.SetupWithManager(ctx, mgr, policyWorkers); err != nil {
		fatal(err, "failed to register policy reconciler")
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctx); err != nil {
		fatal(err, "failed to start manager")
	}
	setupLog.Info("shutdown complete")
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(err error, msg string) {
	setupLog.Error(err, msg)
	os.Exit(1)
}
