package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_EncryptDecrypt_RoundTrips(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "testing"})
	require.NoError(t, m.Initialize([]byte("a-32-byte-long-master-key-here!!")))

	plaintext := []byte("hello session state")
	env, err := m.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, env.Ciphertext)

	decrypted, err := m.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestManager_Disabled_PassesThroughUnencrypted(t *testing.T) {
	m := New(Config{EnableEncryption: false, Environment: "testing"})
	require.NoError(t, m.Initialize(nil))

	plaintext := []byte("plain")
	env, err := m.Encrypt(plaintext)
	require.NoError(t, err)
	require.Equal(t, plaintext, env.Ciphertext)
	require.Equal(t, "none", env.KeyID)

	decrypted, err := m.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestManager_Initialize_DerivesKeyFromNonstandardLengthMaster(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "testing"})
	require.NoError(t, m.Initialize([]byte("short")))

	env, err := m.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = m.Decrypt(env)
	require.NoError(t, err)
}

func TestManager_Initialize_ProductionRequiresMasterKey(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "production"})
	err := m.Initialize(nil)
	require.Error(t, err)
}

func TestManager_Initialize_NonProductionGeneratesRandomKey(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "development"})
	require.NoError(t, m.Initialize(nil))
	require.True(t, m.IsHealthy())
}

func TestManager_Decrypt_RejectsTamperedCiphertext(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "testing"})
	require.NoError(t, m.Initialize([]byte("a-32-byte-long-master-key-here!!")))

	env, err := m.Encrypt([]byte("hello"))
	require.NoError(t, err)

	tampered := make([]byte, len(env.Ciphertext))
	copy(tampered, env.Ciphertext)
	tampered[0] ^= 0xFF
	env.Ciphertext = tampered

	_, err = m.Decrypt(env)
	require.Error(t, err)
}

func TestManager_Decrypt_UnknownKeyIDFails(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "testing"})
	require.NoError(t, m.Initialize([]byte("a-32-byte-long-master-key-here!!")))

	env, err := m.Encrypt([]byte("hello"))
	require.NoError(t, err)
	env.KeyID = "nonexistent-key-id"

	_, err = m.Decrypt(env)
	require.Error(t, err)
}

func TestManager_RotateKey_OldCiphertextStillDecryptable(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "testing"})
	require.NoError(t, m.Initialize([]byte("a-32-byte-long-master-key-here!!")))

	oldEnv, err := m.Encrypt([]byte("before rotation"))
	require.NoError(t, err)

	require.NoError(t, m.RotateKey([]byte("a-different-32-byte-master-key!!")))

	newEnv, err := m.Encrypt([]byte("after rotation"))
	require.NoError(t, err)
	require.NotEqual(t, oldEnv.KeyID, newEnv.KeyID)

	decryptedOld, err := m.Decrypt(oldEnv)
	require.NoError(t, err)
	require.Equal(t, []byte("before rotation"), decryptedOld)

	decryptedNew, err := m.Decrypt(newEnv)
	require.NoError(t, err)
	require.Equal(t, []byte("after rotation"), decryptedNew)
}

func TestManager_Decrypt_AutoKeyIDUsesActiveKey(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "testing"})
	require.NoError(t, m.Initialize([]byte("a-32-byte-long-master-key-here!!")))

	env, err := m.Encrypt([]byte("hello"))
	require.NoError(t, err)
	env.KeyID = "auto"

	decrypted, err := m.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), decrypted)
}

func TestManager_CleanupExpiredKeys_RemovesOnlyExpiredInactive(t *testing.T) {
	m := New(Config{EnableEncryption: true, Environment: "testing", KeyRotationDays: 1})
	require.NoError(t, m.Initialize([]byte("a-32-byte-long-master-key-here!!")))

	require.NoError(t, m.RotateKey([]byte("a-different-32-byte-master-key!!")))

	m.mu.Lock()
	for _, k := range m.keys {
		if !k.active {
			k.expiresAt = time.Now().Add(-time.Hour)
		}
	}
	m.mu.Unlock()

	removed := m.CleanupExpiredKeys()
	require.Equal(t, 1, removed)

	stats := m.KeyStats()
	require.Equal(t, 1, stats.Total)
}

func TestManager_IsHealthy_TrueWhenEncryptionDisabled(t *testing.T) {
	m := New(Config{EnableEncryption: false})
	require.True(t, m.IsHealthy())
}
