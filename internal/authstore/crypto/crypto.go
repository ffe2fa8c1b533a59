// Package crypto provides authenticated encryption with keyed rotation for
// session-state envelopes: AES-256-GCM, a 96-bit nonce, a 128-bit tag, and
// a small in-process key registry that tracks at most one active key at a
// time.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/authstoreerr"
)

// keyCacheSize bounds the process-local lookup cache fronting the key
// registry. A handful of live/recently-rotated keys is the realistic
// ceiling per process, so this is generous headroom, not a tuning knob.
const keyCacheSize = 32

// keyMaterialSize is the AES-256 key length in bytes.
const keyMaterialSize = 32

// nonceSize is the GCM standard nonce length (NIST SP 800-38D).
const nonceSize = 12

// tagSize is the GCM authentication tag length.
const tagSize = 16

// noneKeyID and autoKeyID are the two reserved keyId markers spec.md
// defines: "none" disables encryption for the envelope, "auto" is a
// legacy marker substituted with the currently active key id.
const (
	noneKeyID = "none"
	autoKeyID = "auto"
)

// key is the internal registry entry for one piece of key material.
type key struct {
	id        string
	material  []byte
	algorithm string
	createdAt time.Time
	expiresAt time.Time
	active    bool
}

func (k *key) expired() bool {
	return !k.expiresAt.IsZero() && time.Now().After(k.expiresAt)
}

// Config controls Manager construction.
type Config struct {
	EnableEncryption bool
	Environment      string // "development", "production", "testing"
	KeyRotationDays  uint
	Logger           *slog.Logger
}

// Manager is the Crypto component: key registry plus encrypt/decrypt. The
// registry map is the source of truth; cache is a process-local read-through
// front for Decrypt's keyId lookup, avoiding a map probe under lock on the
// hot decrypt path once a key has been looked up once.
type Manager struct {
	mu       sync.RWMutex
	keys     map[string]*key
	activeID string
	cache    *lru.Cache[string, *key]
	cfg      Config
	logger   *slog.Logger
}

// New constructs a Manager without any registered key; call Initialize
// before Encrypt/Decrypt.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, *key](keyCacheSize)
	return &Manager{
		keys:   make(map[string]*key),
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

// Initialize registers the first active key. If masterKey is not exactly
// 32 bytes, a 32-byte key is derived via SHA-256. In production, enabling
// encryption with no master key is a construction-time error; in any
// other environment a random key is generated with a prominent warning.
func (m *Manager) Initialize(masterKey []byte) error {
	if !m.cfg.EnableEncryption {
		return nil
	}

	if len(masterKey) == 0 {
		if m.cfg.Environment == "production" {
			return authstoreerr.NewEncryptionError("NO_MASTER_KEY",
				"encryption is enabled in production but no master key was supplied")
		}
		m.logger.Warn("no master key supplied outside production; generating a random one for this process",
			"environment", m.cfg.Environment)
		generated := make([]byte, keyMaterialSize)
		if _, err := rand.Read(generated); err != nil {
			return authstoreerr.NewEncryptionError("KEY_GEN_FAILED", "failed to generate random key").WithCause(err)
		}
		masterKey = generated
	}

	material := masterKey
	if len(material) != keyMaterialSize {
		sum := sha256.Sum256(masterKey)
		material = sum[:]
	}

	k := &key{
		id:        deriveKeyID(material),
		material:  material,
		algorithm: "aes-256-gcm",
		createdAt: time.Now(),
		active:    true,
	}
	if m.cfg.KeyRotationDays > 0 {
		k.expiresAt = k.createdAt.AddDate(0, 0, int(m.cfg.KeyRotationDays))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.id] = k
	m.activeID = k.id
	m.cache.Add(k.id, k)
	return nil
}

// RotateKey registers newMaster as the new active key and deactivates the
// previous one (it remains in the registry until expired and reclaimed).
func (m *Manager) RotateKey(newMaster []byte) error {
	material := newMaster
	if len(material) != keyMaterialSize {
		sum := sha256.Sum256(newMaster)
		material = sum[:]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.keys[m.activeID]; ok {
		prev.active = false
	}

	k := &key{
		id:        deriveKeyID(material),
		material:  material,
		algorithm: "aes-256-gcm",
		createdAt: time.Now(),
		active:    true,
	}
	if m.cfg.KeyRotationDays > 0 {
		k.expiresAt = k.createdAt.AddDate(0, 0, int(m.cfg.KeyRotationDays))
	}
	m.keys[k.id] = k
	m.activeID = k.id
	m.cache.Add(k.id, k)
	return nil
}

// Encrypt authenticates and encrypts plaintext under the active key. When
// encryption is disabled, it returns a zero-nonce envelope carrying the
// plaintext verbatim, tagged keyId="none" (round-trippable, unencrypted).
func (m *Manager) Encrypt(plaintext []byte) (authstore.EncryptedEnvelope, error) {
	if !m.cfg.EnableEncryption {
		return authstore.EncryptedEnvelope{
			Ciphertext:    plaintext,
			Nonce:         make([]byte, nonceSize),
			KeyID:         noneKeyID,
			SchemaVersion: authstore.SchemaVersion,
			Timestamp:     time.Now(),
		}, nil
	}

	m.mu.RLock()
	active, ok := m.keys[m.activeID]
	m.mu.RUnlock()
	if !ok {
		return authstore.EncryptedEnvelope{}, authstoreerr.NewEncryptionError("NO_ACTIVE_KEY", "no active key registered")
	}

	block, err := aes.NewCipher(active.material)
	if err != nil {
		return authstore.EncryptedEnvelope{}, authstoreerr.NewEncryptionError("CIPHER_INIT_FAILED", "failed to build AES cipher").WithCause(err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return authstore.EncryptedEnvelope{}, authstoreerr.NewEncryptionError("GCM_INIT_FAILED", "failed to build GCM").WithCause(err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return authstore.EncryptedEnvelope{}, authstoreerr.NewEncryptionError("NONCE_GEN_FAILED", "failed to generate nonce").WithCause(err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return authstore.EncryptedEnvelope{
		Ciphertext:    ciphertext,
		Nonce:         nonce,
		KeyID:         active.id,
		SchemaVersion: authstore.SchemaVersion,
		Timestamp:     time.Now(),
	}, nil
}

// Decrypt reverses Encrypt. A keyId of "none" (or encryption disabled)
// returns the ciphertext verbatim. A keyId of "auto" is substituted with
// the currently active key. Tag and nonce shapes are normalized first
// since the cold tier may round-trip them through several wire shapes.
func (m *Manager) Decrypt(env authstore.EncryptedEnvelope) ([]byte, error) {
	if env.KeyID == noneKeyID || !m.cfg.EnableEncryption {
		return env.Ciphertext, nil
	}

	keyID := env.KeyID
	if keyID == autoKeyID {
		m.mu.RLock()
		keyID = m.activeID
		m.mu.RUnlock()
	}

	k, ok := m.cache.Get(keyID)
	if !ok {
		m.mu.RLock()
		k, ok = m.keys[keyID]
		m.mu.RUnlock()
		if !ok {
			return nil, authstoreerr.NewEncryptionError("KEY_NOT_FOUND", fmt.Sprintf("key %q not found", keyID))
		}
		m.cache.Add(keyID, k)
	}
	if k.expired() {
		m.logger.Warn("decrypting with an expired key", "keyId", keyID)
	}

	nonce, err := Normalize(env.Nonce, "nonce")
	if err != nil {
		return nil, err
	}
	ciphertext, err := Normalize(env.Ciphertext, "ciphertext")
	if err != nil {
		return nil, err
	}

	if len(nonce) != nonceSize {
		return nil, authstoreerr.NewEncryptionError("BAD_NONCE_LENGTH", fmt.Sprintf("nonce must be %d bytes, got %d", nonceSize, len(nonce)))
	}
	if len(ciphertext) < tagSize {
		return nil, authstoreerr.NewEncryptionError("BAD_CIPHERTEXT_LENGTH", fmt.Sprintf("ciphertext must be at least %d bytes, got %d", tagSize, len(ciphertext)))
	}

	block, err := aes.NewCipher(k.material)
	if err != nil {
		return nil, authstoreerr.NewEncryptionError("CIPHER_INIT_FAILED", "failed to build AES cipher").WithCause(err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, authstoreerr.NewEncryptionError("GCM_INIT_FAILED", "failed to build GCM").WithCause(err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, authstoreerr.NewEncryptionError("AUTH_FAILED", "ciphertext failed authentication").WithCause(err)
	}
	return plaintext, nil
}

// CleanupExpiredKeys removes expired, non-active keys from the registry
// and returns how many were reclaimed.
func (m *Manager) CleanupExpiredKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, k := range m.keys {
		if k.active {
			continue
		}
		if k.expired() {
			delete(m.keys, id)
			m.cache.Remove(id)
			removed++
		}
	}
	return removed
}

// KeyStats reports registry totals for observability.
type KeyStats struct {
	Total     int
	ActiveID  string
	ExpiredCount int
}

// KeyStats returns current registry totals.
func (m *Manager) KeyStats() KeyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := KeyStats{Total: len(m.keys), ActiveID: m.activeID}
	for _, k := range m.keys {
		if k.expired() {
			stats.ExpiredCount++
		}
	}
	return stats
}

// IsHealthy reports whether an active, non-expired key exists (always
// true when encryption is disabled).
func (m *Manager) IsHealthy() bool {
	if !m.cfg.EnableEncryption {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	active, ok := m.keys[m.activeID]
	return ok && !active.expired()
}

// deriveKeyID is the first 16 hex chars of sha256(material); identical
// material always derives the same id.
func deriveKeyID(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:])[:16]
}
