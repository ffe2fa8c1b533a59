// Package outbox provides the write-behind path for cold-tier commits: a
// durable local ledger of pending patches plus a reconciler loop that
// forwards them to an external queue adapter and idempotently replays
// in-flight entries that outlived a visibility timeout.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/authstoreerr"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/codec"
	"github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
)

// QueueAdapter is the external delivery surface the reconciler publishes
// to. A failed Publish leaves the entry pending for the next reconcile
// pass; callers that don't need an external queue can wire NoopQueue.
type QueueAdapter interface {
	Publish(ctx context.Context, entry authstore.OutboxEntry) error
}

// NoopQueue acknowledges every publish immediately; useful when the cold
// tier's own conditional write is the only durability guarantee wanted,
// or in tests that only exercise ledger bookkeeping.
type NoopQueue struct{}

func (NoopQueue) Publish(ctx context.Context, entry authstore.OutboxEntry) error { return nil }

// Config controls reconciler batching and visibility timeout.
type Config struct {
	VisibilityTimeout time.Duration
	BatchSize         int
	MaxAttempts       int
}

// DefaultConfig mirrors the bounded-batch, bounded-retry reconciler spec.md describes.
func DefaultConfig() Config {
	return Config{VisibilityTimeout: 30 * time.Second, BatchSize: 50, MaxAttempts: 5}
}

// Stats reports ledger composition, for the admin surface's outbox
// inspection endpoint.
type Stats struct {
	Pending   int64
	InFlight  int64
	Succeeded int64
	Failed    int64
}

// Outbox is the Postgres-backed ledger and reconciler.
type Outbox struct {
	pool   postgres.DatabaseConnection
	codec  *codec.Codec
	queue  QueueAdapter
	cfg    Config
	logger *slog.Logger
}

// New builds an Outbox over an already-connected pool.
func New(pool postgres.DatabaseConnection, c *codec.Codec, queue QueueAdapter, cfg Config, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == nil {
		queue = NoopQueue{}
	}
	return &Outbox{pool: pool, codec: c, queue: queue, cfg: cfg, logger: logger}
}

// Enqueue durably records a pending cold-tier write, keyed by
// (sessionId, expectedVersion) for idempotent replay: a duplicate enqueue
// of the same (session, version) pair is a no-op, not a new ledger row.
func (o *Outbox) Enqueue(ctx context.Context, sessionID authstore.SessionId, patch *authstore.AuthPatch, expectedVersion uint64) error {
	payload, err := o.codec.Encode(patchToGeneric(patch))
	if err != nil {
		return err
	}

	_, err = o.pool.Exec(ctx,
		`INSERT INTO auth_outbox (id, session_id, expected_version, patch, status, attempts, last_error, enqueued_at)
		 VALUES ($1, $2, $3, $4, $5, 0, '', $6)
		 ON CONFLICT (session_id, expected_version) DO NOTHING`,
		uuid.NewString(), string(sessionID), int64(expectedVersion), payload, string(authstore.OutboxPending), time.Now(),
	)
	if err != nil {
		return authstoreerr.NewStorageError("outbox", "failed to enqueue patch").WithCause(err)
	}
	return nil
}

// Reconcile runs one reconciliation pass: reclaim stale in-flight
// entries, claim a bounded batch of pending entries, and publish each to
// the queue adapter.
func (o *Outbox) Reconcile(ctx context.Context) (processed int, err error) {
	if err := o.reclaimStaleInFlight(ctx); err != nil {
		return 0, err
	}

	entries, err := o.claimPendingBatch(ctx)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		if pubErr := o.queue.Publish(ctx, entry); pubErr != nil {
			o.markFailedAttempt(ctx, entry, pubErr)
			continue
		}
		o.markSucceeded(ctx, entry.ID)
		processed++
	}
	return processed, nil
}

func (o *Outbox) reclaimStaleInFlight(ctx context.Context) error {
	cutoff := time.Now().Add(-o.cfg.VisibilityTimeout)
	_, err := o.pool.Exec(ctx,
		`UPDATE auth_outbox SET status = $1, claimed_at = NULL
		 WHERE status = $2 AND claimed_at < $3`,
		string(authstore.OutboxPending), string(authstore.OutboxInFlight), cutoff,
	)
	if err != nil {
		return authstoreerr.NewStorageError("outbox", "failed to reclaim stale in-flight entries").WithCause(err)
	}
	return nil
}

func (o *Outbox) claimPendingBatch(ctx context.Context) ([]authstore.OutboxEntry, error) {
	now := time.Now()
	rows, err := o.pool.Query(ctx,
		`UPDATE auth_outbox SET status = $1, claimed_at = $2
		 WHERE id IN (
		     SELECT id FROM auth_outbox WHERE status = $3 ORDER BY enqueued_at LIMIT $4
		 )
		 RETURNING id, session_id, expected_version, patch, attempts, enqueued_at`,
		string(authstore.OutboxInFlight), now, string(authstore.OutboxPending), o.cfg.BatchSize,
	)
	if err != nil {
		return nil, authstoreerr.NewStorageError("outbox", "failed to claim pending batch").WithCause(err)
	}
	defer rows.Close()

	var entries []authstore.OutboxEntry
	for rows.Next() {
		var (
			id              string
			sessionID       string
			expectedVersion int64
			payload         []byte
			attempts        int
			enqueuedAt      time.Time
		)
		if err := rows.Scan(&id, &sessionID, &expectedVersion, &payload, &attempts, &enqueuedAt); err != nil {
			return nil, authstoreerr.NewStorageError("outbox", "failed to scan claimed entry").WithCause(err)
		}

		generic, err := o.codec.Decode(payload)
		if err != nil {
			o.logger.Error("outbox: poisoned patch payload, marking failed", "id", id, "error", err)
			o.markFailedAttempt(ctx, authstore.OutboxEntry{ID: id, Attempts: attempts}, err)
			continue
		}

		entries = append(entries, authstore.OutboxEntry{
			ID:              id,
			SessionID:       authstore.SessionId(sessionID),
			Patch:           genericToPatch(generic),
			ExpectedVersion: uint64(expectedVersion),
			EnqueuedAt:      enqueuedAt,
			Status:          authstore.OutboxInFlight,
			Attempts:        attempts,
			ClaimedAt:       now,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, authstoreerr.NewStorageError("outbox", "failed while iterating claimed batch").WithCause(err)
	}
	return entries, nil
}

func (o *Outbox) markSucceeded(ctx context.Context, id string) {
	if _, err := o.pool.Exec(ctx, `UPDATE auth_outbox SET status = $1 WHERE id = $2`, string(authstore.OutboxSucceeded), id); err != nil {
		o.logger.Error("outbox: failed to mark entry succeeded", "id", id, "error", err)
	}
}

func (o *Outbox) markFailedAttempt(ctx context.Context, entry authstore.OutboxEntry, cause error) {
	attempts := entry.Attempts + 1
	status := authstore.OutboxPending
	if attempts >= o.cfg.MaxAttempts {
		status = authstore.OutboxFailed
	}
	if _, err := o.pool.Exec(ctx,
		`UPDATE auth_outbox SET status = $1, attempts = $2, last_error = $3, claimed_at = NULL WHERE id = $4`,
		string(status), attempts, cause.Error(), entry.ID,
	); err != nil {
		o.logger.Error("outbox: failed to record publish failure", "id", entry.ID, "error", err)
	}
}

// Stats summarizes ledger composition across status values.
func (o *Outbox) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	row := o.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status = $1),
		   COUNT(*) FILTER (WHERE status = $2),
		   COUNT(*) FILTER (WHERE status = $3),
		   COUNT(*) FILTER (WHERE status = $4)
		 FROM auth_outbox`,
		string(authstore.OutboxPending), string(authstore.OutboxInFlight),
		string(authstore.OutboxSucceeded), string(authstore.OutboxFailed),
	)
	if err := row.Scan(&s.Pending, &s.InFlight, &s.Succeeded, &s.Failed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stats{}, nil
		}
		return Stats{}, authstoreerr.NewStorageError("outbox", "failed to read ledger stats").WithCause(err)
	}
	return s, nil
}

// PruneSucceeded deletes succeeded entries older than the retention
// window, keeping the ledger from growing unbounded.
func (o *Outbox) PruneSucceeded(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := o.pool.Exec(ctx,
		`DELETE FROM auth_outbox WHERE status = $1 AND enqueued_at < $2`,
		string(authstore.OutboxSucceeded), cutoff,
	)
	if err != nil {
		return 0, authstoreerr.NewStorageError("outbox", "failed to prune succeeded entries").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

func patchToGeneric(p *authstore.AuthPatch) map[string]interface{} {
	out := map[string]interface{}{
		"credsSet":    p.CredsSet,
		"appStateSet": p.AppStateSet,
	}
	if p.CredsSet {
		out["creds"] = p.Creds
	}
	if p.AppStateSet {
		out["appState"] = p.AppState
	}
	if p.Keys != nil {
		keys := make(map[string]interface{}, len(p.Keys))
		for typ, ids := range p.Keys {
			inner := make(map[string]interface{}, len(ids))
			for id, rec := range ids {
				inner[id] = rec
			}
			keys[typ] = inner
		}
		out["keys"] = keys
	}
	return out
}

func genericToPatch(generic interface{}) *authstore.AuthPatch {
	top, ok := generic.(map[string]interface{})
	if !ok {
		return &authstore.AuthPatch{}
	}
	patch := &authstore.AuthPatch{}
	if credsSet, _ := top["credsSet"].(bool); credsSet {
		patch.CredsSet = true
		patch.Creds = top["creds"]
	}
	if appStateSet, _ := top["appStateSet"].(bool); appStateSet {
		patch.AppStateSet = true
		if appState, ok := top["appState"].(map[string]interface{}); ok {
			patch.AppState = appState
		}
	}
	if rawKeys, ok := top["keys"].(map[string]interface{}); ok {
		patch.Keys = make(map[string]map[string]authstore.KeyRecord, len(rawKeys))
		for typ, v := range rawKeys {
			inner, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			ids := make(map[string]authstore.KeyRecord, len(inner))
			for id, rec := range inner {
				ids[id] = rec
			}
			patch.Keys[typ] = ids
		}
	}
	return patch
}
