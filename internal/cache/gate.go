package cache

import (
	"context"
	"fmt"
	"time"

	"flowsentinel/backend/internal/telemetry"
	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"
)

// Logger is the logging surface the gate needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// CatalogFunc returns the catalog view validations run against. It is
// called on every lookup so the gate always sees the latest snapshot.
type CatalogFunc func() validation.Catalog

// Status is the answer to "has this document been validated, and did it
// pass?".
type Status struct {
	Validated bool               `json:"validated"`
	Valid     bool               `json:"valid"`
	Errors    []validation.Issue `json:"errors"`
	Verdict   validation.Verdict `json:"verdict"`
}

// Gate is the mutation boundary: every create or update asks it for a
// verdict before anything is sent to the platform.
type Gate struct {
	cache   Cache
	catalog CatalogFunc
	metrics *telemetry.Metrics
	logger  Logger
}

// NewGate creates a Gate. metrics may be nil.
func NewGate(c Cache, catalog CatalogFunc, metrics *telemetry.Metrics, logger Logger) *Gate {
	return &Gate{cache: c, catalog: catalog, metrics: metrics, logger: logger}
}

// IsValidatedAndValid reports the cached verdict for doc. An entry recorded
// against a different catalog version counts as not validated.
func (g *Gate) IsValidatedAndValid(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (Status, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return Status{}, fmt.Errorf("invalid validation options: %w", err)
	}
	key, err := Key(doc, opts)
	if err != nil {
		return Status{}, err
	}
	verdict, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		g.metrics.RecordCacheLookup(ctx, "miss")
		return Status{}, nil
	}
	if cat := g.catalog(); cat != nil && verdict.CatalogVersion != cat.Version() {
		g.metrics.RecordCacheLookup(ctx, "stale")
		return Status{}, nil
	}
	g.metrics.RecordCacheLookup(ctx, "hit")
	return Status{Validated: true, Valid: verdict.Valid, Errors: verdict.Errors, Verdict: verdict}, nil
}

// RecordValidation stores verdict for doc.
func (g *Gate) RecordValidation(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options, verdict validation.Verdict) error {
	opts, err := opts.Normalize()
	if err != nil {
		return fmt.Errorf("invalid validation options: %w", err)
	}
	fp, err := Fingerprint(doc)
	if err != nil {
		return err
	}
	verdict.Fingerprint = fp
	return g.cache.Put(ctx, keyFor(fp, opts), verdict)
}

// Preflight returns the verdict for doc, from the cache when possible and
// otherwise by running the pipeline and recording the result. Cache
// failures degrade to a fresh validation; they never let a document
// through unvalidated. cached reports whether the verdict came from the
// cache.
func (g *Gate) Preflight(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (verdict validation.Verdict, cached bool, err error) {
	opts, err = opts.Normalize()
	if err != nil {
		return validation.Verdict{}, false, fmt.Errorf("invalid validation options: %w", err)
	}
	if doc == nil {
		doc = &models.WorkflowDocument{}
	}

	status, err := g.IsValidatedAndValid(ctx, doc, opts)
	if err != nil {
		g.logger.Warn("validation cache lookup failed, validating fresh", "error", err)
	} else if status.Validated {
		return status.Verdict, true, nil
	}

	start := time.Now()
	verdict = validation.Validate(doc, g.catalog(), opts)
	g.metrics.RecordValidation(ctx, string(opts.Profile), verdict.Valid, time.Since(start))

	fp, err := Fingerprint(doc)
	if err != nil {
		return validation.Verdict{}, false, err
	}
	verdict.Fingerprint = fp
	if err := g.cache.Put(ctx, keyFor(fp, opts), verdict); err != nil {
		g.logger.Warn("failed to record verdict", "error", err)
	}
	g.logger.Debug("validated workflow", "workflow", doc.Name, "valid", verdict.Valid,
		"errors", len(verdict.Errors), "warnings", len(verdict.Warnings))
	return verdict, false, nil
}

// Invalidate drops every cached verdict. The catalog synchronizer calls it
// after a sync that changed the catalog.
func (g *Gate) Invalidate(ctx context.Context) error {
	g.metrics.RecordCacheInvalidation(ctx)
	return g.cache.Invalidate(ctx)
}
