package heat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/label"
)

// Observer is a cached, degradation-tolerant façade over a telemetry
// Backend. It tries a primary metric first and falls through a configured
// list of fallback metrics until one returns samples, caching whichever
// score it produces.
type Observer struct {
	backend Backend

	primaryMetric   string
	fallbackMetrics []string
	window          time.Duration

	cache *scoreCache

	// healthy is 1 if the most recent backend query (from HealthCheck or
	// GetHeatScore) succeeded, 0 otherwise. New Observers start unhealthy
	// until the first successful query.
	healthy int32

	log logr.Logger
	m   *observerMetrics
}

// Config configures an Observer.
type Config struct {
	Backend         Backend
	PrimaryMetric   string
	FallbackMetrics []string
	Window          time.Duration
	CacheTTL        time.Duration
	CacheCleanup    time.Duration
}

// NewObserver builds an Observer from cfg.
func NewObserver(cfg Config, log logr.Logger) *Observer {
	return &Observer{
		backend:         cfg.Backend,
		primaryMetric:   cfg.PrimaryMetric,
		fallbackMetrics: cfg.FallbackMetrics,
		window:          cfg.Window,
		cache:           newScoreCache(cfg.CacheTTL, cfg.CacheCleanup, log),
		log:             log.WithName("HeatObserver"),
		m:               newObserverMetrics(),
	}
}

// Healthy reports whether the most recent backend query — whether issued
// by HealthCheck or by GetHeatScore — succeeded. Callers use this to
// suppress migrations rather than act on degraded observer data, per the
// observer-health gate. Health recovers on the very next successful query.
func (o *Observer) Healthy() bool {
	return atomic.LoadInt32(&o.healthy) == 1
}

func (o *Observer) setHealthy(healthy bool) {
	if healthy {
		atomic.StoreInt32(&o.healthy, 1)
		o.m.healthy.Set(1)
		return
	}
	atomic.StoreInt32(&o.healthy, 0)
	o.m.healthy.Set(0)
}

// HealthCheck probes the backend with the primary metric against a
// synthetic, unlikely-to-exist volume ID and records the observer's
// health accordingly. It never returns an error for "no data", only for
// backend unreachability or malformed responses.
func (o *Observer) HealthCheck(ctx context.Context) error {
	tr := otel.Tracer("heat")
	ctx, span := tr.Start(ctx, "heat observer health check")
	defer span.End()

	start := time.Now()
	_, _, err := o.backend.Query(ctx, o.primaryMetric, "__couchestor_healthcheck__", o.window)
	o.m.latency.Observe("health_check", time.Since(start))
	o.m.result.Increment("health_check", err)

	if err != nil {
		o.setHealthy(false)
		span.RecordError(err)
		return errors.Wrap(err, "heat observer health check failed")
	}

	o.setHealthy(true)
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// Run starts a periodic HealthCheck against the backend, ticking every
// interval until ctx is cancelled. This is the only thing that keeps
// Healthy() current outside of GetHeatScore's own per-query updates; it
// lets the observer-health gate recover from (or detect) an outage even
// while no policy is actively calling GetHeatScore.
func (o *Observer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.HealthCheck(ctx); err != nil {
				o.log.Error(err, "periodic health check failed")
			}
		}
	}
}

// GetHeatScore returns the current HeatScore for volumeID over window,
// consulting the cache first. On a cache miss it queries the primary
// metric, falling through fallbackMetrics in order until one yields
// samples. If every metric returns zero samples, the zero HeatScore is
// returned and cached, since "no data" is itself a meaningful, stable
// observation. Every backend round trip — success or failure, with or
// without samples — updates the observer's health flag: a successful
// query (even a zero-sample one) marks it healthy, a transient backend
// error marks it unhealthy.
func (o *Observer) GetHeatScore(ctx context.Context, volumeID string, window time.Duration) (HeatScore, error) {
	if cached, ok := o.cache.get(volumeID, window); ok {
		return cached, nil
	}

	tr := otel.Tracer("heat")
	ctx, span := tr.Start(ctx, "heat observer get heat score")
	span.SetAttributes(label.String("volume", volumeID))
	defer span.End()

	metricsToTry := append([]string{o.primaryMetric}, o.fallbackMetrics...)

	for _, metric := range metricsToTry {
		start := time.Now()
		samples, value, err := o.backend.Query(ctx, metric, volumeID, window)
		o.m.latency.Observe("get_heat_score", time.Since(start))
		o.m.result.Increment("get_heat_score", err)

		if err != nil {
			o.setHealthy(false)
			o.log.Error(err, "telemetry query failed, trying next metric", "volume", volumeID, "metric", metric)
			span.RecordError(err)
			continue
		}
		o.setHealthy(true)
		if samples == 0 {
			continue
		}

		score := HeatScore{
			VolumeID:     volumeID,
			Score:        value,
			Samples:      samples,
			CalculatedAt: time.Now(),
			Window:       window,
			SourceMetric: metric,
		}
		o.cache.set(window, score)
		span.SetStatus(codes.Ok, "resolved heat score")
		return score, nil
	}

	zero := Zero(volumeID)
	zero.CalculatedAt = time.Now()
	zero.Window = window
	o.cache.set(window, zero)
	span.SetStatus(codes.Ok, "no data from any metric")
	return zero, nil
}

// GetBulkHeatScores resolves a HeatScore for every volume ID given, all
// queried over the same window. A per-volume backend failure does not abort
// the batch: GetHeatScore absorbs it and that volume gets the zero
// HeatScore. errs holds any error GetHeatScore returns, keyed by volume ID.
func (o *Observer) GetBulkHeatScores(ctx context.Context, volumeIDs []string, window time.Duration) (map[string]HeatScore, map[string]error) {
	scores := make(map[string]HeatScore, len(volumeIDs))
	errs := make(map[string]error)

	for _, id := range volumeIDs {
		score, err := o.GetHeatScore(ctx, id, window)
		if err != nil {
			errs[id] = err
			continue
		}
		scores[id] = score
	}

	return scores, errs
}

// Invalidate removes any cached score for volumeID, forcing the next
// GetHeatScore call to re-query the backend.
func (o *Observer) Invalidate(volumeID string) {
	o.cache.invalidate(volumeID)
}

// Clear removes every cached score.
func (o *Observer) Clear() {
	o.cache.clear()
}
