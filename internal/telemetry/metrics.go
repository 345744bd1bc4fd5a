package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service instruments. A nil *Metrics records nothing,
// so components can be built without a meter provider in tests.
type Metrics struct {
	validationsTotal   metric.Int64Counter
	validationLatency  metric.Float64Histogram
	cacheLookupsTotal  metric.Int64Counter
	cacheInvalidations metric.Int64Counter
	syncCyclesTotal    metric.Int64Counter
	syncLatency        metric.Float64Histogram
	decisionsTotal     metric.Int64Counter

	catalogNodeTypes atomic.Int64
	syncDegraded     atomic.Int64
}

// NewMetrics registers the instruments with meterProvider.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("flowsentinel")
	m := &Metrics{}

	var err error
	m.validationsTotal, err = meter.Int64Counter(
		"sentinel_validations_total",
		metric.WithDescription("Workflow validations run by the pipeline"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, err
	}

	m.validationLatency, err = meter.Float64Histogram(
		"sentinel_validation_duration_seconds",
		metric.WithDescription("Validation pipeline latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheLookupsTotal, err = meter.Int64Counter(
		"sentinel_validation_cache_lookups_total",
		metric.WithDescription("Validation cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheInvalidations, err = meter.Int64Counter(
		"sentinel_validation_cache_invalidations_total",
		metric.WithDescription("Wholesale validation cache invalidations"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, err
	}

	m.syncCyclesTotal, err = meter.Int64Counter(
		"sentinel_catalog_sync_cycles_total",
		metric.WithDescription("Catalog synchronization cycles by result"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	m.syncLatency, err = meter.Float64Histogram(
		"sentinel_catalog_sync_duration_seconds",
		metric.WithDescription("Catalog synchronization cycle latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.decisionsTotal, err = meter.Int64Counter(
		"sentinel_pattern_decisions_total",
		metric.WithDescription("Pattern decisions by type"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"sentinel_catalog_node_types",
		metric.WithDescription("Node types in the active catalog snapshot"),
		metric.WithUnit("{type}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.catalogNodeTypes.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"sentinel_catalog_sync_degraded",
		metric.WithDescription("1 while the catalog synchronizer is degraded"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.syncDegraded.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordValidation records one pipeline run.
func (m *Metrics) RecordValidation(ctx context.Context, profile string, valid bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.Bool("valid", valid),
	)
	m.validationsTotal.Add(ctx, 1, attrs)
	m.validationLatency.Record(ctx, d.Seconds(), attrs)
}

// RecordCacheLookup records a cache lookup; result is hit, miss or stale.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordCacheInvalidation(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheInvalidations.Add(ctx, 1)
}

// RecordSync records a finished sync cycle.
func (m *Metrics) RecordSync(ctx context.Context, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.syncCyclesTotal.Add(ctx, 1, attrs)
	m.syncLatency.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.catalogNodeTypes.Store(int64(n))
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	var v int64
	if degraded {
		v = 1
	}
	m.syncDegraded.Store(v)
}

// RecordDecision records a pattern decision.
func (m *Metrics) RecordDecision(ctx context.Context, decisionType string) {
	if m == nil {
		return
	}
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", decisionType)))
}
