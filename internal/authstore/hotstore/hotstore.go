// Package hotstore is the fast, session-scoped tier: three Redis keys per
// session (creds, keys, meta), SETEX-based TTL, and a retry/backoff policy
// for reconnection. It never holds source-of-truth data on its own; a
// decrypt/decode failure on read is treated as a miss rather than an
// error, so one poisoned field cannot wedge the whole read path.
package hotstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/authstoreerr"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/codec"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/crypto"
	"github.com/vitaliisemenov/baileys-auth-store/internal/infrastructure/cache"
)

// Config controls key layout and TTL for the hot tier.
type Config struct {
	Prefix     string
	DefaultTTL time.Duration
}

// DefaultConfig mirrors spec.md's default prefix and a conservative TTL.
func DefaultConfig() Config {
	return Config{Prefix: "baileys:auth", DefaultTTL: 7 * 24 * time.Hour}
}

type metaRecord struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HotStore is the Redis-backed session-scoped tier adapter.
type HotStore struct {
	client cache.Cache
	codec  *codec.Codec
	crypto *crypto.Manager
	cfg    Config
	logger *slog.Logger
}

// New builds a HotStore over an already-connected cache.Cache.
func New(client cache.Cache, c *codec.Codec, cr *crypto.Manager, cfg Config, logger *slog.Logger) *HotStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "baileys:auth"
	}
	return &HotStore{client: client, codec: c, crypto: cr, cfg: cfg, logger: logger}
}

func (h *HotStore) credsKey(id authstore.SessionId) string { return fmt.Sprintf("%s:%s:creds", h.cfg.Prefix, id) }
func (h *HotStore) keysKey(id authstore.SessionId) string  { return fmt.Sprintf("%s:%s:keys", h.cfg.Prefix, id) }
func (h *HotStore) metaKey(id authstore.SessionId) string  { return fmt.Sprintf("%s:%s:meta", h.cfg.Prefix, id) }

// Get performs a parallel-equivalent read of meta/creds/keys. Partial hot
// state (creds present but keys missing, or vice versa) is not a valid
// snapshot from this tier's perspective and is reported as a miss.
func (h *HotStore) Get(ctx context.Context, id authstore.SessionId) (*authstore.Versioned[*authstore.AuthSnapshot], error) {
	var meta metaRecord
	var credsEnv, keysEnv authstore.EncryptedEnvelope

	metaErr := h.client.Get(ctx, h.metaKey(id), &meta)
	credsErr := h.client.Get(ctx, h.credsKey(id), &credsEnv)
	keysErr := h.client.Get(ctx, h.keysKey(id), &keysEnv)

	if credsErr != nil || keysErr != nil {
		return nil, nil
	}
	if metaErr != nil {
		meta.Version = 1
	}

	creds, err := h.decryptDecode(credsEnv)
	if err != nil {
		h.logger.Debug("hotstore: treating poisoned creds field as a miss", "session", id, "error", err)
		return nil, nil
	}
	keysGeneric, err := h.decryptDecode(keysEnv)
	if err != nil {
		h.logger.Debug("hotstore: treating poisoned keys field as a miss", "session", id, "error", err)
		return nil, nil
	}

	snapshot := &authstore.AuthSnapshot{
		Creds: creds,
		Keys:  genericToKeys(keysGeneric),
	}

	return &authstore.Versioned[*authstore.AuthSnapshot]{
		Data:      snapshot,
		Version:   meta.Version,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}

// Set writes creds (if present), merges and writes keys (if keys or
// appState are present), then writes meta with the computed version. All
// three writes carry the configured TTL.
func (h *HotStore) Set(ctx context.Context, id authstore.SessionId, patch *authstore.AuthPatch, expectedVersion uint64) (authstore.SetResult, error) {
	newVersion := expectedVersion + 1
	now := time.Now()

	if patch.CredsSet {
		env, err := h.encryptEncode(patch.Creds)
		if err != nil {
			return authstore.SetResult{}, err
		}
		if err := h.client.Set(ctx, h.credsKey(id), env, h.cfg.DefaultTTL); err != nil {
			return authstore.SetResult{}, authstoreerr.NewStorageError("hot", "failed to write creds").WithCause(err)
		}
	}

	if patch.Keys != nil || patch.AppStateSet {
		current, err := h.loadKeysOnly(ctx, id)
		if err != nil {
			return authstore.SetResult{}, err
		}
		merged := authstore.MergeKeys(current, patch.Keys)
		env, err := h.encryptEncode(keysToGeneric(merged))
		if err != nil {
			return authstore.SetResult{}, err
		}
		if err := h.client.Set(ctx, h.keysKey(id), env, h.cfg.DefaultTTL); err != nil {
			return authstore.SetResult{}, authstoreerr.NewStorageError("hot", "failed to write keys").WithCause(err)
		}
	}

	meta := metaRecord{Version: newVersion, UpdatedAt: now}
	if err := h.client.Set(ctx, h.metaKey(id), meta, h.cfg.DefaultTTL); err != nil {
		return authstore.SetResult{}, authstoreerr.NewStorageError("hot", "failed to write meta").WithCause(err)
	}

	return authstore.SetResult{Version: newVersion, UpdatedAt: now, Success: true}, nil
}

// PeekVersion reads only meta.version, for cache-warming race checks and
// as a fallback source for Hybrid.Set's currentVersion lookup. Returns
// (0, false) when no meta key exists.
func (h *HotStore) PeekVersion(ctx context.Context, id authstore.SessionId) (uint64, bool) {
	var meta metaRecord
	if err := h.client.Get(ctx, h.metaKey(id), &meta); err != nil {
		return 0, false
	}
	return meta.Version, true
}

// Delete removes all three keys for a session.
func (h *HotStore) Delete(ctx context.Context, id authstore.SessionId) error {
	var firstErr error
	for _, key := range []string{h.credsKey(id), h.keysKey(id), h.metaKey(id)} {
		if err := h.client.Delete(ctx, key); err != nil && !cache.IsNotFound(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return authstoreerr.NewStorageError("hot", "failed to delete session").WithCause(firstErr)
	}
	return nil
}

// Touch resets TTL on all three keys, extending hot-tier lifetime.
func (h *HotStore) Touch(ctx context.Context, id authstore.SessionId, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = h.cfg.DefaultTTL
	}
	for _, key := range []string{h.credsKey(id), h.keysKey(id), h.metaKey(id)} {
		if err := h.client.Expire(ctx, key, ttl); err != nil && !cache.IsNotFound(err) {
			return authstoreerr.NewStorageError("hot", "failed to touch session").WithCause(err)
		}
	}
	return nil
}

// Exists reports whether the creds key is present.
func (h *HotStore) Exists(ctx context.Context, id authstore.SessionId) bool {
	ok, err := h.client.Exists(ctx, h.credsKey(id))
	return err == nil && ok
}

// IsHealthy pings the underlying Redis connection.
func (h *HotStore) IsHealthy(ctx context.Context) bool {
	return h.client.HealthCheck(ctx) == nil
}

func (h *HotStore) loadKeysOnly(ctx context.Context, id authstore.SessionId) (map[string]authstore.KeyMap, error) {
	var env authstore.EncryptedEnvelope
	if err := h.client.Get(ctx, h.keysKey(id), &env); err != nil {
		if cache.IsNotFound(err) {
			return make(map[string]authstore.KeyMap), nil
		}
		return nil, authstoreerr.NewStorageError("hot", "failed to read current keys").WithCause(err)
	}
	generic, err := h.decryptDecode(env)
	if err != nil {
		return make(map[string]authstore.KeyMap), nil
	}
	return genericToKeys(generic), nil
}

func (h *HotStore) encryptEncode(value interface{}) (authstore.EncryptedEnvelope, error) {
	plain, err := h.codec.Encode(value)
	if err != nil {
		return authstore.EncryptedEnvelope{}, err
	}
	return h.crypto.Encrypt(plain)
}

func (h *HotStore) decryptDecode(env authstore.EncryptedEnvelope) (interface{}, error) {
	plain, err := h.crypto.Decrypt(env)
	if err != nil {
		return nil, err
	}
	return h.codec.Decode(plain)
}

// genericToKeys converts the codec's generic decode result
// (map[string]interface{} of map[string]interface{}) back into the typed
// KeyMap shape AuthSnapshot carries.
func genericToKeys(generic interface{}) map[string]authstore.KeyMap {
	out := make(map[string]authstore.KeyMap)
	top, ok := generic.(map[string]interface{})
	if !ok {
		return out
	}
	for typ, v := range top {
		inner, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		km := make(authstore.KeyMap, len(inner))
		for id, rec := range inner {
			km[id] = rec
		}
		out[typ] = km
	}
	return out
}

// keysToGeneric is the inverse of genericToKeys, producing a value the
// codec can encode.
func keysToGeneric(keys map[string]authstore.KeyMap) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for typ, km := range keys {
		inner := make(map[string]interface{}, len(km))
		for id, rec := range km {
			inner[id] = rec
		}
		out[typ] = inner
	}
	return out
}
