// Package hybrid is the public AuthStore surface: it wires hot, cold,
// and outbox tiers behind a single read-through, dual-write orchestrator
// with per-session mutual exclusion, a circuit breaker guarding the cold
// tier, and asynchronous cache warming after a cold-sourced read.
package hybrid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sync/errgroup"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/authstoreerr"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/coldstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/hotstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/outbox"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/reqcontext"
	"github.com/vitaliisemenov/baileys-auth-store/pkg/metrics"
)

// Config is the Hybrid-specific slice of configuration: write-behind
// toggle, batch fan-out width, and the cold-tier circuit breaker.
type Config struct {
	EnableWriteBehind bool
	BatchConcurrency  int
	CircuitBreaker    CircuitBreakerConfig
}

// DefaultConfig matches spec.md's default posture: write-behind off
// (synchronous cold commits), a modest batch fan-out, and a 5-failure /
// 30s-cooldown breaker.
func DefaultConfig() Config {
	return Config{
		EnableWriteBehind: false,
		BatchConcurrency:  8,
		CircuitBreaker:    DefaultCircuitBreakerConfig(),
	}
}

// Store is the orchestrator implementing the public AuthStore surface.
type Store struct {
	hot    *hotstore.HotStore
	cold   *coldstore.ColdStore
	outbox *outbox.Outbox
	cfg    Config
	m      *metrics.AuthStoreMetrics
	logger *slog.Logger

	locks *sessionLocks
	cb    *circuitBreaker
}

// New builds a Store over already-constructed tier adapters. outbox may
// be nil when EnableWriteBehind is false.
func New(hot *hotstore.HotStore, cold *coldstore.ColdStore, ob *outbox.Outbox, cfg Config, m *metrics.AuthStoreMetrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}

	cb := newCircuitBreaker(cfg.CircuitBreaker)
	if m != nil {
		cb.onOpen = func() { m.CircuitBreakerOpen.Inc(); m.CircuitBreakerState.Set(2) }
		cb.onClose = func() { m.CircuitBreakerClose.Inc(); m.CircuitBreakerState.Set(0) }
		cb.onHalfOpen = func() { m.CircuitBreakerHalfOpen.Inc(); m.CircuitBreakerState.Set(1) }
	}

	return &Store{
		hot:    hot,
		cold:   cold,
		outbox: ob,
		cfg:    cfg,
		m:      m,
		logger: logger,
		locks:  newSessionLocks(),
		cb:     cb,
	}
}

// Get implements the read-through path: hot tier first, cold tier on
// miss (through the circuit breaker), with asynchronous cache warming on
// a cold-sourced hit.
func (s *Store) Get(rc *reqcontext.Context, id authstore.SessionId) (*authstore.Versioned[*authstore.AuthSnapshot], error) {
	ctx := baseCtx(rc)
	start := time.Now()

	hit, err := s.hot.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		if s.m != nil {
			s.m.RedisHits.Inc()
		}
		s.observeLatency("get", "hot", "success", start)
		return hit, nil
	}

	if s.m != nil {
		s.m.RedisMisses.Inc()
	}

	result, err := s.coldGet(ctx, id)
	if err != nil {
		if errors.Is(err, errCircuitOpen) {
			s.observeLatency("get", "cold", "circuit_open", start)
			return nil, nil
		}
		s.observeLatency("get", "cold", "error", start)
		return nil, err
	}
	if result == nil {
		s.observeLatency("get", "cold", "miss", start)
		return nil, nil
	}

	if s.m != nil {
		s.m.MongoFallbacks.Inc()
	}
	s.observeLatency("get", "cold", "success", start)

	go s.warmCache(id, result)

	return result, nil
}

var errCircuitOpen = errors.New("cold tier circuit breaker open")

func (s *Store) coldGet(ctx context.Context, id authstore.SessionId) (*authstore.Versioned[*authstore.AuthSnapshot], error) {
	proceed, isProbe := s.cb.allow()
	if !proceed {
		if s.m != nil {
			s.m.CircuitBreakerOpen.Inc()
		}
		return nil, errCircuitOpen
	}

	result, err := s.cold.Get(ctx, id)
	if err != nil {
		s.cb.recordFailure(isProbe)
		return nil, err
	}
	s.cb.recordSuccess(isProbe)
	return result, nil
}

// warmCache fills the hot tier after a cold-sourced read, skipping if the
// hot tier has since advanced past the version being warmed (invariant 5:
// hot never trails behind a write it has already accepted).
func (s *Store) warmCache(id authstore.SessionId, result *authstore.Versioned[*authstore.AuthSnapshot]) {
	ctx := context.Background()
	outcome := "warmed"
	defer func() {
		if s.m != nil {
			s.m.CacheWarming.WithLabelValues(outcome).Inc()
		}
	}()

	if hotVersion, ok := s.hot.PeekVersion(ctx, id); ok && hotVersion >= result.Version {
		s.logger.Debug("hybrid: skipping cache warm, hot tier already current", "session", id,
			"hotVersion", hotVersion, "coldVersion", result.Version)
		outcome = "skipped_stale"
		return
	}

	patch := snapshotToFullPatch(result.Data)
	if _, err := s.hot.Set(ctx, id, patch, result.Version-1); err != nil {
		s.logger.Warn("hybrid: cache warm failed", "session", id, "error", err)
		outcome = "failed"
	}
}

func snapshotToFullPatch(snap *authstore.AuthSnapshot) *authstore.AuthPatch {
	patch := &authstore.AuthPatch{CredsSet: true, Creds: snap.Creds}
	if snap.AppState != nil {
		patch.AppStateSet = true
		patch.AppState = snap.AppState
	}
	if snap.Keys != nil {
		patch.Keys = make(map[string]map[string]authstore.KeyRecord, len(snap.Keys))
		for typ, km := range snap.Keys {
			inner := make(map[string]authstore.KeyRecord, len(km))
			for id, rec := range km {
				inner[id] = rec
			}
			patch.Keys[typ] = inner
		}
	}
	return patch
}

// Set applies patch under the per-session mutex: deep-copy first (the
// caller may mutate the original while encoding runs), hot write
// synchronously, cold write synchronously or via the outbox.
func (s *Store) Set(rc *reqcontext.Context, id authstore.SessionId, patch *authstore.AuthPatch, expectedVersion *uint64) (authstore.SetResult, error) {
	ctx := baseCtx(rc)
	start := time.Now()

	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	patchForHot := authstore.ClonePatch(patch)
	patchForCold := authstore.ClonePatch(patch)

	currentVersion, err := s.resolveCurrentVersion(ctx, id, expectedVersion)
	if err != nil {
		s.observeLatency("set", "hybrid", "error", start)
		return authstore.SetResult{}, err
	}

	hotResult, hotErr := s.hot.Set(ctx, id, patchForHot, currentVersion)
	if hotErr != nil {
		s.logger.Warn("hybrid: hot write failed, continuing with cold path", "session", id, "error", hotErr)
	}

	var coldResult authstore.SetResult
	var coldErr error
	if s.cfg.EnableWriteBehind && s.outbox != nil {
		coldErr = s.outbox.Enqueue(ctx, id, patchForCold, currentVersion)
		if coldErr == nil {
			coldResult = authstore.SetResult{Version: currentVersion + 1, UpdatedAt: time.Now(), Success: true}
			if s.m != nil {
				s.m.QueuePublishes.Inc()
			}
		} else if s.m != nil {
			s.m.QueueFailures.Inc()
		}
	} else {
		coldResult, coldErr = s.coldSet(ctx, id, patchForCold, currentVersion)
		if coldErr == nil && s.m != nil {
			s.m.DirectWrites.Inc()
		}
		if authstoreerr.IsVersionMismatch(coldErr) {
			if s.m != nil {
				s.m.VersionConflicts.Inc()
			}
			s.observeLatency("set", "cold", "version_conflict", start)
			return authstore.SetResult{}, coldErr
		}
	}

	if hotErr != nil && coldErr != nil {
		s.observeLatency("set", "hybrid", "error", start)
		return authstore.SetResult{}, authstoreerr.ErrBothTiersFailed
	}

	s.observeLatency("set", "hybrid", "success", start)

	if coldErr == nil && coldResult.Version >= hotResult.Version {
		return coldResult, nil
	}
	return hotResult, nil
}

func (s *Store) resolveCurrentVersion(ctx context.Context, id authstore.SessionId, expectedVersion *uint64) (uint64, error) {
	if expectedVersion != nil {
		return *expectedVersion, nil
	}
	if v, ok := s.hot.PeekVersion(ctx, id); ok {
		return v, nil
	}
	existing, err := s.cold.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.Version, nil
	}
	return 0, nil
}

func (s *Store) coldSet(ctx context.Context, id authstore.SessionId, patch *authstore.AuthPatch, expectedVersion uint64) (authstore.SetResult, error) {
	proceed, isProbe := s.cb.allow()
	if !proceed {
		if s.m != nil {
			s.m.CircuitBreakerOpen.Inc()
		}
		return authstore.SetResult{}, errCircuitOpen
	}

	result, err := s.cold.Set(ctx, id, patch, expectedVersion)
	if err != nil && !authstoreerr.IsVersionMismatch(err) {
		s.cb.recordFailure(isProbe)
		return authstore.SetResult{}, err
	}
	s.cb.recordSuccess(isProbe)
	return result, err
}

// Delete removes the session from both tiers. Partial failure (one tier
// erroring) is logged and reported as success; only a dual failure
// propagates.
func (s *Store) Delete(rc *reqcontext.Context, id authstore.SessionId) error {
	ctx := baseCtx(rc)
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	hotErr := s.hot.Delete(ctx, id)
	coldErr := s.cold.Delete(ctx, id)

	return partialFailurePolicy(s.logger, "delete", id, hotErr, coldErr)
}

// Touch refreshes TTL/liveness on both tiers under the same partial
// failure policy as Delete.
func (s *Store) Touch(rc *reqcontext.Context, id authstore.SessionId, ttl time.Duration) error {
	ctx := baseCtx(rc)
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	hotErr := s.hot.Touch(ctx, id, ttl)
	coldErr := s.cold.Touch(ctx, id)

	return partialFailurePolicy(s.logger, "touch", id, hotErr, coldErr)
}

func partialFailurePolicy(logger *slog.Logger, op string, id authstore.SessionId, hotErr, coldErr error) error {
	if hotErr == nil && coldErr == nil {
		return nil
	}
	if hotErr != nil && coldErr != nil {
		return authstoreerr.NewStorageError("hybrid", op+" failed on both tiers").WithCause(
			errors.Join(hotErr, coldErr),
		)
	}
	if hotErr != nil {
		logger.Warn("hybrid: hot tier failed, cold tier succeeded", "op", op, "session", id, "error", hotErr)
	} else {
		logger.Warn("hybrid: cold tier failed, hot tier succeeded", "op", op, "session", id, "error", coldErr)
	}
	return nil
}

// Exists reports presence via the hot tier's fast path.
func (s *Store) Exists(rc *reqcontext.Context, id authstore.SessionId) bool {
	return s.hot.Exists(baseCtx(rc), id)
}

// IsHealthy reports whether both tiers are reachable.
func (s *Store) IsHealthy(rc *reqcontext.Context) bool {
	ctx := baseCtx(rc)
	return s.hot.IsHealthy(ctx) && s.cold.IsHealthy(ctx)
}

// IsColdCircuitBreakerOpen reports the cold-tier breaker's current state.
func (s *Store) IsColdCircuitBreakerOpen() bool {
	return s.cb.isOpen()
}

// GetCircuitBreakerStats returns the cold-tier breaker's admin snapshot.
func (s *Store) GetCircuitBreakerStats() CircuitBreakerStats {
	return s.cb.stats()
}

// GetMetricsText renders every metric registered against the default
// Prometheus registry in text exposition format, the shape spec.md's
// getMetricsText() names as part of the public AuthStore surface.
func (s *Store) GetMetricsText() (string, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return "", fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// GetOutboxStats proxies to the outbox ledger, when write-behind is
// enabled.
func (s *Store) GetOutboxStats(rc *reqcontext.Context) (outbox.Stats, error) {
	if s.outbox == nil {
		return outbox.Stats{}, nil
	}
	return s.outbox.Stats(baseCtx(rc))
}

// ReconcileOutbox runs one reconciliation pass and records its latency.
func (s *Store) ReconcileOutbox(rc *reqcontext.Context) (int, error) {
	if s.outbox == nil {
		return 0, nil
	}
	start := time.Now()
	processed, err := s.outbox.Reconcile(baseCtx(rc))
	if s.m != nil {
		s.m.OutboxReconcilerLatencySeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			s.m.OutboxReconcilerFailures.Inc()
		}
	}
	return processed, err
}

func baseCtx(rc *reqcontext.Context) context.Context {
	if rc == nil || rc.Ctx == nil {
		return context.Background()
	}
	return rc.Ctx
}

func (s *Store) observeLatency(operation, layer, status string, start time.Time) {
	if s.m == nil {
		return
	}
	s.m.OperationLatencySeconds.WithLabelValues(operation, layer, status).Observe(time.Since(start).Seconds())
}

// BatchGet parallelizes Get across sessions with a configurable
// concurrency cap, never holding more than one lock per session (Get
// does not lock at all).
func (s *Store) BatchGet(rc *reqcontext.Context, ids []authstore.SessionId) map[authstore.SessionId]*authstore.Versioned[*authstore.AuthSnapshot] {
	results := make(map[authstore.SessionId]*authstore.Versioned[*authstore.AuthSnapshot], len(ids))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BatchConcurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			val, err := s.Get(rc, id)
			status := "success"
			if err != nil {
				status = "error"
			}
			mu.Lock()
			results[id] = val
			mu.Unlock()
			if s.m != nil {
				s.m.BatchOperations.WithLabelValues("get", status).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BatchSetResult reports per-session outcome of a batch write.
type BatchSetResult struct {
	Successful map[authstore.SessionId]authstore.SetResult
	Failed     map[authstore.SessionId]error
}

// BatchSetUpdate pairs a session with the patch and base version to apply.
type BatchSetUpdate struct {
	SessionID       authstore.SessionId
	Patch           *authstore.AuthPatch
	ExpectedVersion *uint64
}

// BatchSet parallelizes Set across sessions, acquiring each session's
// mutex only for the duration of that session's own write.
func (s *Store) BatchSet(rc *reqcontext.Context, updates []BatchSetUpdate) BatchSetResult {
	out := BatchSetResult{
		Successful: make(map[authstore.SessionId]authstore.SetResult),
		Failed:     make(map[authstore.SessionId]error),
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BatchConcurrency)

	for _, u := range updates {
		u := u
		g.Go(func() error {
			result, err := s.Set(rc, u.SessionID, u.Patch, u.ExpectedVersion)
			status := "success"
			mu.Lock()
			if err != nil {
				status = "error"
				out.Failed[u.SessionID] = err
			} else {
				out.Successful[u.SessionID] = result
			}
			mu.Unlock()
			if s.m != nil {
				s.m.BatchOperations.WithLabelValues("set", status).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// BatchDeleteResult reports per-session outcome of a batch delete.
type BatchDeleteResult struct {
	Successful map[authstore.SessionId]struct{}
	Failed     map[authstore.SessionId]error
}

// BatchDelete parallelizes Delete across sessions.
func (s *Store) BatchDelete(rc *reqcontext.Context, ids []authstore.SessionId) BatchDeleteResult {
	out := BatchDeleteResult{
		Successful: make(map[authstore.SessionId]struct{}),
		Failed:     make(map[authstore.SessionId]error),
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BatchConcurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := s.Delete(rc, id)
			status := "success"
			mu.Lock()
			if err != nil {
				status = "error"
				out.Failed[id] = err
			} else {
				out.Successful[id] = struct{}{}
			}
			mu.Unlock()
			if s.m != nil {
				s.m.BatchOperations.WithLabelValues("delete", status).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
