// Package coldstore is the durable, source-of-truth tier: one row per
// session in Postgres, written with optimistic versioning. Unlike the hot
// tier's three-key layout, a session here is a single combined document —
// every write reads the current row, applies the patch in memory, and
// writes the merged result back under a version-matched conditional
// update, retrying only the race where two writers both believe a session
// doesn't exist yet.
package coldstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/authstoreerr"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/codec"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/crypto"
	"github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
)

// uniqueViolationCode is the Postgres error code for a unique-constraint
// conflict (session_id primary key already present).
const uniqueViolationCode = "23505"

// insertRetryDelays backs off the duplicate-key race between two writers
// that both believe a session does not exist yet.
var insertRetryDelays = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// ColdStore is the Postgres-backed durable tier adapter.
type ColdStore struct {
	pool   postgres.DatabaseConnection
	codec  *codec.Codec
	crypto *crypto.Manager
	logger *slog.Logger
	retry  *postgres.RetryExecutor
}

// New builds a ColdStore over an already-connected pool. Reads go through
// postgres.RetryExecutor so a transient connection blip (not an
// application-level error like a missing row or a version conflict) is
// retried with backoff before surfacing to the caller.
func New(pool postgres.DatabaseConnection, c *codec.Codec, cr *crypto.Manager, logger *slog.Logger) *ColdStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ColdStore{
		pool:   pool,
		codec:  c,
		crypto: cr,
		logger: logger,
		retry:  postgres.NewRetryExecutor(postgres.DefaultRetryConfig(), logger),
	}
}

type row struct {
	version       uint64
	updatedAt     time.Time
	envelope      authstore.EncryptedEnvelope
	exists        bool
}

func (c *ColdStore) readRow(ctx context.Context, id authstore.SessionId) (row, error) {
	var (
		version       int64
		updatedAt     time.Time
		keyID         string
		schemaVersion int32
		nonce         []byte
		payload       []byte
	)
	err := c.retry.Execute(ctx, func() error {
		return c.pool.QueryRow(ctx,
			`SELECT version, updated_at, key_id, schema_version, nonce, payload FROM auth_snapshots WHERE session_id = $1`,
			string(id),
		).Scan(&version, &updatedAt, &keyID, &schemaVersion, &nonce, &payload)
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return row{}, nil
	}
	if err != nil {
		return row{}, authstoreerr.NewStorageError("cold", "failed to read session row").WithCause(err)
	}

	return row{
		version:   uint64(version),
		updatedAt: updatedAt,
		exists:    true,
		envelope: authstore.EncryptedEnvelope{
			Ciphertext:    payload,
			Nonce:         nonce,
			KeyID:         keyID,
			SchemaVersion: uint32(schemaVersion),
			Timestamp:     updatedAt,
		},
	}, nil
}

// Get loads and decrypts the session snapshot. Returns (nil, nil) when no
// row exists.
func (c *ColdStore) Get(ctx context.Context, id authstore.SessionId) (*authstore.Versioned[*authstore.AuthSnapshot], error) {
	r, err := c.readRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.exists {
		return nil, nil
	}

	snapshot, err := c.decryptDecode(r.envelope)
	if err != nil {
		return nil, authstoreerr.NewStorageError("cold", "failed to decode session row").WithCause(err)
	}

	return &authstore.Versioned[*authstore.AuthSnapshot]{
		Data:      snapshot,
		Version:   r.version,
		UpdatedAt: r.updatedAt,
	}, nil
}

// Set applies patch to the current row and commits the merged snapshot
// under a version-matched conditional write. expectedVersion is the
// caller's last-known version (0 for a brand-new session). A version
// mismatch against an existing row is not retried and propagates as
// VersionMismatchError; only the "two writers both saw no row yet" race
// is retried, per the bounded backoff in insertRetryDelays.
func (c *ColdStore) Set(ctx context.Context, id authstore.SessionId, patch *authstore.AuthPatch, expectedVersion uint64) (authstore.SetResult, error) {
	for attempt := 0; ; attempt++ {
		current, err := c.readRow(ctx, id)
		if err != nil {
			return authstore.SetResult{}, err
		}

		if current.exists && current.version != expectedVersion && attempt == 0 {
			return authstore.SetResult{}, authstoreerr.NewVersionMismatchError(string(id), expectedVersion, current.version)
		}

		var currentSnapshot *authstore.AuthSnapshot
		if current.exists {
			currentSnapshot, err = c.decryptDecode(current.envelope)
			if err != nil {
				return authstore.SetResult{}, authstoreerr.NewStorageError("cold", "failed to decode current session row before merge").WithCause(err)
			}
		}

		merged := authstore.ApplyPatch(currentSnapshot, patch)
		newVersion := current.version + 1
		now := time.Now()

		env, err := c.encryptEncode(merged)
		if err != nil {
			return authstore.SetResult{}, err
		}

		if !current.exists {
			_, err = c.pool.Exec(ctx,
				`INSERT INTO auth_snapshots (session_id, version, updated_at, key_id, schema_version, nonce, payload)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				string(id), int64(newVersion), now, env.KeyID, int32(env.SchemaVersion), env.Nonce, env.Ciphertext,
			)
			if isUniqueViolation(err) {
				if attempt < len(insertRetryDelays) {
					c.logger.Warn("coldstore: duplicate-key race on first write, retrying with fresh read",
						"session", id, "attempt", attempt)
					if !sleepWithContext(ctx, insertRetryDelays[attempt]) {
						return authstore.SetResult{}, ctx.Err()
					}
					continue
				}
				return authstore.SetResult{}, authstoreerr.NewStorageError("cold", "exhausted retries on duplicate-key insert race").WithCause(err)
			}
			if err != nil {
				return authstore.SetResult{}, authstoreerr.NewStorageError("cold", "failed to insert session row").WithCause(err)
			}
			return authstore.SetResult{Version: newVersion, UpdatedAt: now, Success: true}, nil
		}

		tag, err := c.pool.Exec(ctx,
			`UPDATE auth_snapshots SET version = $1, updated_at = $2, key_id = $3, schema_version = $4, nonce = $5, payload = $6
			 WHERE session_id = $7 AND version = $8`,
			int64(newVersion), now, env.KeyID, int32(env.SchemaVersion), env.Nonce, env.Ciphertext,
			string(id), int64(current.version),
		)
		if err != nil {
			return authstore.SetResult{}, authstoreerr.NewStorageError("cold", "failed to update session row").WithCause(err)
		}
		if tag.RowsAffected() == 0 {
			fresh, rerr := c.readRow(ctx, id)
			observed := current.version
			if rerr == nil && fresh.exists {
				observed = fresh.version
			}
			return authstore.SetResult{}, authstoreerr.NewVersionMismatchError(string(id), expectedVersion, observed)
		}
		return authstore.SetResult{Version: newVersion, UpdatedAt: now, Success: true}, nil
	}
}

// Delete removes the session row.
func (c *ColdStore) Delete(ctx context.Context, id authstore.SessionId) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM auth_snapshots WHERE session_id = $1`, string(id))
	if err != nil {
		return authstoreerr.NewStorageError("cold", "failed to delete session row").WithCause(err)
	}
	return nil
}

// Touch refreshes updated_at without altering version or payload,
// resetting the reaper's clock per the Open Question decision to treat
// touch as a liveness signal rather than a mutation.
func (c *ColdStore) Touch(ctx context.Context, id authstore.SessionId) error {
	_, err := c.pool.Exec(ctx, `UPDATE auth_snapshots SET updated_at = $1 WHERE session_id = $2`, time.Now(), string(id))
	if err != nil {
		return authstoreerr.NewStorageError("cold", "failed to touch session row").WithCause(err)
	}
	return nil
}

// ReapOlderThan deletes sessions whose updated_at predates the cutoff,
// the cold-tier equivalent of the hot tier's TTL expiry, and returns how
// many rows were removed.
func (c *ColdStore) ReapOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM auth_snapshots WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, authstoreerr.NewStorageError("cold", "failed to reap expired session rows").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

// IsHealthy pings the underlying pool.
func (c *ColdStore) IsHealthy(ctx context.Context) bool {
	return c.pool.Health(ctx) == nil
}

func (c *ColdStore) encryptEncode(snapshot *authstore.AuthSnapshot) (authstore.EncryptedEnvelope, error) {
	plain, err := c.codec.Encode(snapshotToGeneric(snapshot))
	if err != nil {
		return authstore.EncryptedEnvelope{}, err
	}
	return c.crypto.Encrypt(plain)
}

func (c *ColdStore) decryptDecode(env authstore.EncryptedEnvelope) (*authstore.AuthSnapshot, error) {
	plain, err := c.crypto.Decrypt(env)
	if err != nil {
		return nil, err
	}
	generic, err := c.codec.Decode(plain)
	if err != nil {
		return nil, err
	}
	return genericToSnapshot(generic), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// snapshotToGeneric flattens an AuthSnapshot into the plain composite
// shape the codec understands (its tagBuffers walk accepts only plain
// maps, slices, byte slices and scalars, and returns an error for any
// other type).
func snapshotToGeneric(s *authstore.AuthSnapshot) map[string]interface{} {
	if s == nil {
		return map[string]interface{}{"creds": nil, "keys": map[string]interface{}{}, "appState": map[string]interface{}{}}
	}
	keys := make(map[string]interface{}, len(s.Keys))
	for typ, km := range s.Keys {
		inner := make(map[string]interface{}, len(km))
		for id, rec := range km {
			inner[id] = rec
		}
		keys[typ] = inner
	}
	out := map[string]interface{}{"creds": s.Creds, "keys": keys}
	if s.AppState != nil {
		out["appState"] = s.AppState
	}
	return out
}

func genericToSnapshot(generic interface{}) *authstore.AuthSnapshot {
	top, ok := generic.(map[string]interface{})
	if !ok {
		return &authstore.AuthSnapshot{Keys: map[string]authstore.KeyMap{}}
	}
	snapshot := &authstore.AuthSnapshot{Keys: map[string]authstore.KeyMap{}}
	snapshot.Creds = top["creds"]
	if rawKeys, ok := top["keys"].(map[string]interface{}); ok {
		for typ, v := range rawKeys {
			inner, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			km := make(authstore.KeyMap, len(inner))
			for id, rec := range inner {
				km[id] = rec
			}
			snapshot.Keys[typ] = km
		}
	}
	if appState, ok := top["appState"].(map[string]interface{}); ok {
		snapshot.AppState = appState
	}
	return snapshot
}
