package hotstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/codec"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/crypto"
	"github.com/vitaliisemenov/baileys-auth-store/internal/infrastructure/cache"
)

func newTestHotStore(t *testing.T) (*HotStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisCache, err := cache.NewRedisCache(&cache.CacheConfig{
		Addr:        mr.Addr(),
		PoolSize:    5,
		DialTimeout: time.Second,
	}, nil)
	require.NoError(t, err)

	c := codec.New(codec.NoneCompressor{})
	cm := crypto.New(crypto.Config{EnableEncryption: false, Environment: "testing"})
	require.NoError(t, cm.Initialize(nil))

	return New(redisCache, c, cm, DefaultConfig(), nil), mr
}

func samplePatch() *authstore.AuthPatch {
	return &authstore.AuthPatch{
		CredsSet: true,
		Creds:    map[string]interface{}{"registered": true, "noiseKey": "abc"},
		Keys: map[string]map[string]authstore.KeyRecord{
			"pre-key": {"1": map[string]interface{}{"public": "xyz"}},
		},
	}
}

func TestHotStore_Get_MissingSessionReturnsNilWithoutError(t *testing.T) {
	hs, _ := newTestHotStore(t)

	got, err := hs.Get(context.Background(), "session-missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestHotStore_SetThenGet_RoundTripsCredsAndKeys(t *testing.T) {
	hs, _ := newTestHotStore(t)
	ctx := context.Background()

	res, err := hs.Set(ctx, "session-1", samplePatch(), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Version)
	require.True(t, res.Success)

	got, err := hs.Get(ctx, "session-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, uint64(1), got.Version)

	creds, ok := got.Data.Creds.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, creds["registered"])
	require.Contains(t, got.Data.Keys, "pre-key")
	require.Contains(t, got.Data.Keys["pre-key"], "1")
}

func TestHotStore_Set_SecondWriteMergesKeysAndAdvancesVersion(t *testing.T) {
	hs, _ := newTestHotStore(t)
	ctx := context.Background()

	_, err := hs.Set(ctx, "session-1", samplePatch(), 0)
	require.NoError(t, err)

	second := &authstore.AuthPatch{
		Keys: map[string]map[string]authstore.KeyRecord{
			"pre-key": {"2": map[string]interface{}{"public": "other"}},
		},
	}
	res, err := hs.Set(ctx, "session-1", second, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Version)

	got, err := hs.Get(ctx, "session-1")
	require.NoError(t, err)
	require.Contains(t, got.Data.Keys["pre-key"], "1", "first key must survive the merge")
	require.Contains(t, got.Data.Keys["pre-key"], "2", "second key must be added by the merge")
}

func TestHotStore_Set_NilKeyValueDeletesID(t *testing.T) {
	hs, _ := newTestHotStore(t)
	ctx := context.Background()

	_, err := hs.Set(ctx, "session-1", samplePatch(), 0)
	require.NoError(t, err)

	del := &authstore.AuthPatch{
		Keys: map[string]map[string]authstore.KeyRecord{
			"pre-key": {"1": nil},
		},
	}
	_, err = hs.Set(ctx, "session-1", del, 1)
	require.NoError(t, err)

	got, err := hs.Get(ctx, "session-1")
	require.NoError(t, err)
	require.NotContains(t, got.Data.Keys["pre-key"], "1")
}

func TestHotStore_PartialState_CredsWithoutKeysIsReportedAsMiss(t *testing.T) {
	hs, mr := newTestHotStore(t)
	ctx := context.Background()

	_, err := hs.Set(ctx, "session-1", samplePatch(), 0)
	require.NoError(t, err)

	mr.Del("baileys:auth:session-1:keys")

	got, err := hs.Get(ctx, "session-1")
	require.NoError(t, err)
	require.Nil(t, got, "a creds-only remnant is not a valid snapshot from the hot tier's perspective")
}

func TestHotStore_PeekVersion_ReportsFalseWhenNoMeta(t *testing.T) {
	hs, _ := newTestHotStore(t)
	ctx := context.Background()

	_, ok := hs.PeekVersion(ctx, "session-missing")
	require.False(t, ok)

	_, err := hs.Set(ctx, "session-1", samplePatch(), 0)
	require.NoError(t, err)

	v, ok := hs.PeekVersion(ctx, "session-1")
	require.True(t, ok)
	require.Equal(t, uint64(1), v)
}

func TestHotStore_Delete_RemovesAllThreeKeys(t *testing.T) {
	hs, _ := newTestHotStore(t)
	ctx := context.Background()

	_, err := hs.Set(ctx, "session-1", samplePatch(), 0)
	require.NoError(t, err)
	require.True(t, hs.Exists(ctx, "session-1"))

	require.NoError(t, hs.Delete(ctx, "session-1"))
	require.False(t, hs.Exists(ctx, "session-1"))

	got, err := hs.Get(ctx, "session-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestHotStore_Touch_ExtendsTTLWithoutError(t *testing.T) {
	hs, _ := newTestHotStore(t)
	ctx := context.Background()

	_, err := hs.Set(ctx, "session-1", samplePatch(), 0)
	require.NoError(t, err)

	require.NoError(t, hs.Touch(ctx, "session-1", time.Hour))
}

func TestHotStore_IsHealthy_TrueWhenRedisReachable(t *testing.T) {
	hs, mr := newTestHotStore(t)
	require.True(t, hs.IsHealthy(context.Background()))

	mr.Close()
	require.False(t, hs.IsHealthy(context.Background()))
}
