package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flowsentinel/backend/internal/telemetry"
	sentinelerrors "flowsentinel/backend/pkg/errors"
	"flowsentinel/backend/pkg/models"

	"github.com/cenkalti/backoff/v4"
)

// State is a synchronizer state.
type State string

const (
	StateIdle      State = "idle"
	StateDetecting State = "detecting"
	StateNoChange  State = "no-change"
	StateSyncing   State = "syncing"
	StateDegraded  State = "degraded"
)

// ErrSyncInProgress is returned when a cycle is requested while another
// one is running.
var ErrSyncInProgress = errors.New("catalog sync already in progress")

// Platform is the part of the automation platform the synchronizer reads.
type Platform interface {
	GetVersion(ctx context.Context) (string, error)
	ListNodeTypes(ctx context.Context) ([]models.NodeTypeDescriptor, error)
}

// SnapshotStore persists the last good snapshot and its diff across
// restarts. LoadSnapshot returns nil and no error when nothing was saved yet.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot, diff models.CatalogDiff) error
	LoadSnapshot(ctx context.Context) (*Snapshot, models.CatalogDiff, error)
}

// Invalidator drops state derived from the previous catalog.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context) error

func (f InvalidatorFunc) Invalidate(ctx context.Context) error { return f(ctx) }

// Logger is the logging surface the synchronizer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures the synchronizer. Zero values take defaults.
type Options struct {
	// Interval between cycles while healthy.
	Interval time.Duration
	// RetryInterval between cycles after a failure or while degraded.
	RetryInterval time.Duration
	// RequestTimeout bounds each platform call attempt.
	RequestTimeout time.Duration
	// MaxRetries bounds the retries of one platform call within a cycle.
	MaxRetries int
	// DegradedThreshold is the number of consecutive failed cycles after
	// which the synchronizer reports Degraded.
	DegradedThreshold int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.DegradedThreshold <= 0 {
		o.DegradedThreshold = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	return o
}

// Result describes a completed cycle.
type Result struct {
	PlatformVersion string             `json:"platformVersion"`
	Synced          bool               `json:"synced"`
	Diff            models.CatalogDiff `json:"diff"`
	Duration        time.Duration      `json:"duration"`
}

// Status is a point-in-time report of the synchronizer.
type Status struct {
	State               State              `json:"state"`
	PlatformVersion     string             `json:"platformVersion"`
	CatalogVersion      string             `json:"catalogVersion"`
	NodeTypes           int                `json:"nodeTypes"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	LastError           string             `json:"lastError,omitempty"`
	LastAttemptAt       time.Time          `json:"lastAttemptAt"`
	LastSyncAt          time.Time          `json:"lastSyncAt"`
	LastDiff            models.CatalogDiff `json:"lastDiff"`
}

// Synchronizer runs the catalog state machine. Readers call Current and
// always get a complete view; a cycle builds its snapshot off to the side
// and publishes it with a single pointer swap.
type Synchronizer struct {
	platform     Platform
	store        SnapshotStore
	invalidators []Invalidator
	logger       Logger
	metrics      *telemetry.Metrics
	opts         Options
	now          func() time.Time

	view  atomic.Pointer[View]
	cycle sync.Mutex

	mu          sync.RWMutex
	state       State
	failures    int
	lastErr     error
	lastAttempt time.Time
	lastSync    time.Time
	lastDiff    models.CatalogDiff
}

// NewSynchronizer creates a synchronizer with an empty catalog. store and
// metrics may be nil.
func NewSynchronizer(platform Platform, store SnapshotStore, opts Options, logger Logger, metrics *telemetry.Metrics, invalidators ...Invalidator) *Synchronizer {
	s := &Synchronizer{
		platform:     platform,
		store:        store,
		invalidators: invalidators,
		logger:       logger,
		metrics:      metrics,
		opts:         opts.withDefaults(),
		now:          time.Now,
		state:        StateIdle,
	}
	s.view.Store(NewView(nil, models.CatalogDiff{}))
	return s
}

// Current returns the active catalog view. It never returns nil.
func (s *Synchronizer) Current() *View {
	return s.view.Load()
}

// State returns the current state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status reports the synchronizer state and the active snapshot.
func (s *Synchronizer) Status() Status {
	v := s.Current()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:               s.state,
		PlatformVersion:     v.PlatformVersion(),
		CatalogVersion:      v.Version(),
		NodeTypes:           len(v.TypeNames()),
		ConsecutiveFailures: s.failures,
		LastAttemptAt:       s.lastAttempt,
		LastSyncAt:          s.lastSync,
		LastDiff:            s.lastDiff,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Bootstrap loads the last persisted snapshot so validation works before
// the first cycle completes.
func (s *Synchronizer) Bootstrap(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, diff, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	if snap == nil {
		s.logger.Info("no persisted catalog snapshot")
		return nil
	}
	// Breaking modifications in the stored diff keep failing old versions
	// after a restart.
	if diff.ToVersion == "" {
		diff.FromVersion = snap.PlatformVersion
		diff.ToVersion = snap.PlatformVersion
		diff.ComputedAt = snap.TakenAt
	}
	s.view.Store(NewView(snap, diff))
	s.mu.Lock()
	s.lastSync = snap.TakenAt
	s.lastDiff = diff
	s.mu.Unlock()
	s.metrics.SetCatalogSize(snap.Len())
	s.logger.Info("loaded catalog snapshot", "platform_version", snap.PlatformVersion,
		"node_types", snap.Len(), "modified", len(diff.Modified))
	return nil
}

// Run drives cycles until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.logger.Info("catalog synchronizer started", "interval", s.opts.Interval.String())
	for {
		_, err := s.SyncNow(ctx, false)

		wait := s.opts.Interval
		if s.State() == StateDegraded || (err != nil && !errors.Is(err, ErrSyncInProgress)) {
			wait = s.opts.RetryInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("catalog synchronizer stopped")
			return nil
		case <-timer.C:
		}
	}
}

// SyncNow runs one cycle. Unless force is set, an unchanged platform
// version ends the cycle without enumerating node types. A cycle that is
// already running makes SyncNow return ErrSyncInProgress immediately.
func (s *Synchronizer) SyncNow(ctx context.Context, force bool) (Result, error) {
	if !s.cycle.TryLock() {
		return Result{}, ErrSyncInProgress
	}
	defer s.cycle.Unlock()

	start := s.now()
	s.mu.Lock()
	s.state = StateDetecting
	s.lastAttempt = start
	s.mu.Unlock()

	var version string
	err := s.retry(ctx, "getVersion", func(ctx context.Context) error {
		v, err := s.platform.GetVersion(ctx)
		version = v
		return err
	})
	if err != nil {
		return Result{}, s.fail(ctx, err, start)
	}

	current := s.Current()
	if !force && current.Snapshot() != nil && current.PlatformVersion() == version {
		s.mu.Lock()
		s.state = StateNoChange
		s.mu.Unlock()
		s.succeed(ctx, start, "no_change", nil)
		s.logger.Debug("catalog unchanged", "platform_version", version)
		return Result{PlatformVersion: version, Diff: emptyDiff(version), Duration: s.now().Sub(start)}, nil
	}

	s.mu.Lock()
	s.state = StateSyncing
	s.mu.Unlock()

	var descriptors []models.NodeTypeDescriptor
	err = s.retry(ctx, "listNodeTypes", func(ctx context.Context) error {
		d, err := s.platform.ListNodeTypes(ctx)
		descriptors = d
		return err
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return Result{}, s.fail(ctx, err, start)
	}

	snap, err := NewSnapshot(version, descriptors, s.now())
	if err != nil {
		return Result{}, s.fail(ctx, err, start)
	}
	diff := Diff(current.Snapshot(), snap, s.now())

	s.view.Store(NewView(snap, diff))
	s.metrics.SetCatalogSize(snap.Len())

	// Once the new view is live these must run even if ctx was cancelled.
	detached := context.WithoutCancel(ctx)
	s.persist(detached, snap, diff)
	if !diff.Empty() {
		s.invalidate(detached)
	}

	s.succeed(ctx, start, "synced", &diff)
	s.logger.Info("catalog synchronized",
		"platform_version", version,
		"node_types", snap.Len(),
		"added", len(diff.Added),
		"modified", len(diff.Modified),
		"removed", len(diff.Removed),
		"duration_ms", s.now().Sub(start).Milliseconds())
	return Result{PlatformVersion: version, Synced: true, Diff: diff, Duration: s.now().Sub(start)}, nil
}

func emptyDiff(version string) models.CatalogDiff {
	return models.CatalogDiff{
		FromVersion: version, ToVersion: version,
		Added: []string{}, Modified: []models.ModifiedNodeType{}, Removed: []string{},
	}
}

// succeed returns the state machine to Idle. diff is nil for a no-change
// cycle.
func (s *Synchronizer) succeed(ctx context.Context, start time.Time, result string, diff *models.CatalogDiff) {
	s.mu.Lock()
	wasDegraded := s.failures >= s.opts.DegradedThreshold
	s.state = StateIdle
	s.failures = 0
	s.lastErr = nil
	if diff != nil {
		s.lastSync = s.now()
		s.lastDiff = *diff
	}
	s.mu.Unlock()

	if wasDegraded {
		s.logger.Info("catalog synchronizer recovered")
	}
	s.metrics.SetDegraded(false)
	s.metrics.RecordSync(ctx, result, s.now().Sub(start))
}

// fail records a failed cycle. The active view is untouched. A cancelled
// cycle is not counted as a failure.
func (s *Synchronizer) fail(ctx context.Context, err error, start time.Time) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.mu.Lock()
		s.state = s.restingState()
		s.mu.Unlock()
		s.metrics.RecordSync(context.WithoutCancel(ctx), "cancelled", s.now().Sub(start))
		s.logger.Info("catalog sync cancelled")
		return err
	}

	s.mu.Lock()
	s.failures++
	s.lastErr = err
	s.state = s.restingState()
	failures, state := s.failures, s.state
	s.mu.Unlock()

	s.metrics.RecordSync(ctx, "error", s.now().Sub(start))
	if state == StateDegraded {
		s.metrics.SetDegraded(true)
		if failures == s.opts.DegradedThreshold {
			s.logger.Error("catalog synchronizer degraded, keeping last known-good snapshot",
				"consecutive_failures", failures, "error", err)
		} else {
			s.logger.Warn("catalog sync failed while degraded", "consecutive_failures", failures, "error", err)
		}
	} else {
		s.logger.Warn("catalog sync failed", "consecutive_failures", failures, "error", err)
	}
	return fmt.Errorf("catalog sync failed: %w", err)
}

// restingState must be called with mu held.
func (s *Synchronizer) restingState() State {
	if s.failures >= s.opts.DegradedThreshold {
		return StateDegraded
	}
	return StateIdle
}

func (s *Synchronizer) persist(ctx context.Context, snap *Snapshot, diff models.CatalogDiff) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	if err := s.store.SaveSnapshot(ctx, snap, diff); err != nil {
		s.logger.Error("failed to persist catalog snapshot", "platform_version", snap.PlatformVersion, "error", err)
	}
}

func (s *Synchronizer) invalidate(ctx context.Context) {
	for _, inv := range s.invalidators {
		ictx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		if err := inv.Invalidate(ictx); err != nil {
			s.logger.Error("cache invalidation failed", "error", err)
		}
		cancel()
	}
}

// retry runs fn with a per-attempt timeout, retrying platform outages with
// exponential backoff up to MaxRetries times.
func (s *Synchronizer) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxRetries)), ctx)

	return backoff.RetryNotify(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
		err := fn(callCtx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !retryable(err):
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.logger.Debug("retrying platform call", "op", op, "error", err, "wait_ms", wait.Milliseconds())
	})
}

func retryable(err error) bool {
	var unreachable *sentinelerrors.PlatformUnreachableError
	return errors.As(err, &unreachable) || errors.Is(err, context.DeadlineExceeded)
}
