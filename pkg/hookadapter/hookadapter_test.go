package hookadapter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/codec"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/coldstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/crypto"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/hotstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/hybrid"
	"github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
	"github.com/vitaliisemenov/baileys-auth-store/internal/infrastructure/cache"
)

// emptyDB is a postgres.DatabaseConnection stub where every session looks
// like a miss and every write silently succeeds; the hot tier is the one
// actually exercised by these tests.
type emptyDB struct{}

func (emptyDB) Connect(ctx context.Context) error    { return nil }
func (emptyDB) Disconnect(ctx context.Context) error { return nil }
func (emptyDB) IsConnected() bool                    { return true }
func (emptyDB) Health(ctx context.Context) error     { return nil }
func (emptyDB) Stats() postgres.PoolStats            { return postgres.PoolStats{} }
func (emptyDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("emptyDB: transactions not supported")
}
func (emptyDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, fmt.Errorf("emptyDB: Query not supported")
}
func (emptyDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return noRowsRow{}
}
func (emptyDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

type noRowsRow struct{}

func (noRowsRow) Scan(dest ...interface{}) error { return pgx.ErrNoRows }

func newTestStore(t *testing.T) *hybrid.Store {
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

	hot := hotstore.New(redisCache, c, cm, hotstore.DefaultConfig(), nil)
	cold := coldstore.New(emptyDB{}, c, cm, nil)

	return hybrid.New(hot, cold, nil, hybrid.DefaultConfig(), nil, nil)
}

func defaultCreds() interface{} {
	return map[string]interface{}{"registered": false, "noiseKey": "seed"}
}

func TestNew_NoPriorSnapshotUsesDefaultCreds(t *testing.T) {
	store := newTestStore(t)

	a, err := New(store, "session-1", "testing", defaultCreds, nil, nil)
	require.NoError(t, err)

	state := a.State()
	require.Equal(t, false, state.Creds.(map[string]interface{})["registered"])
}

func TestSaveCreds_PersistsAcrossNewAdapterInstances(t *testing.T) {
	store := newTestStore(t)

	a, err := New(store, "session-1", "testing", defaultCreds, nil, nil)
	require.NoError(t, err)

	state := a.State()
	state.Creds.(map[string]interface{})["registered"] = true
	require.NoError(t, a.SaveCreds())

	b, err := New(store, "session-1", "testing", defaultCreds, nil, nil)
	require.NoError(t, err)
	require.Equal(t, true, b.State().Creds.(map[string]interface{})["registered"])
}

func TestKeysAccessor_SetThenGet_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	a, err := New(store, "session-1", "testing", defaultCreds, nil, nil)
	require.NoError(t, err)

	err = a.State().Keys.Set(map[string]map[string]authstore.KeyRecord{
		"pre-key": {"1": "key-one"},
	})
	require.NoError(t, err)

	got := a.State().Keys.Get("pre-key", []string{"1", "2"})
	require.Equal(t, "key-one", got["1"])
	_, present := got["2"]
	require.False(t, present)
}

func TestKeysAccessor_NilValueDeletesID(t *testing.T) {
	store := newTestStore(t)
	a, err := New(store, "session-1", "testing", defaultCreds, nil, nil)
	require.NoError(t, err)

	require.NoError(t, a.State().Keys.Set(map[string]map[string]authstore.KeyRecord{
		"pre-key": {"1": "key-one", "2": "key-two"},
	}))
	require.NoError(t, a.State().Keys.Set(map[string]map[string]authstore.KeyRecord{
		"pre-key": {"1": nil},
	}))

	got := a.State().Keys.Get("pre-key", []string{"1", "2"})
	_, present := got["1"]
	require.False(t, present)
	require.Equal(t, "key-two", got["2"])
}

func TestKeysAccessor_Get_RevivesAppStateSyncKeyOnly(t *testing.T) {
	store := newTestStore(t)

	revived := map[string]int{}
	reviver := func(id string, record authstore.KeyRecord) (authstore.KeyRecord, error) {
		revived[id]++
		return "revived:" + record.(string), nil
	}

	a, err := New(store, "session-1", "testing", defaultCreds, reviver, nil)
	require.NoError(t, err)

	require.NoError(t, a.State().Keys.Set(map[string]map[string]authstore.KeyRecord{
		"app-state-sync-key": {"a": "raw-a"},
		"pre-key":             {"b": "raw-b"},
	}))

	appState := a.State().Keys.Get("app-state-sync-key", []string{"a"})
	require.Equal(t, "revived:raw-a", appState["a"])
	require.Equal(t, 1, revived["a"])

	preKey := a.State().Keys.Get("pre-key", []string{"b"})
	require.Equal(t, "raw-b", preKey["b"])
}

func TestKeysAccessor_Get_OmitsIDOnReviverFailure(t *testing.T) {
	store := newTestStore(t)

	reviver := func(id string, record authstore.KeyRecord) (authstore.KeyRecord, error) {
		return nil, fmt.Errorf("corrupt record")
	}

	a, err := New(store, "session-1", "testing", defaultCreds, reviver, nil)
	require.NoError(t, err)

	require.NoError(t, a.State().Keys.Set(map[string]map[string]authstore.KeyRecord{
		"app-state-sync-key": {"a": "raw-a"},
	}))

	got := a.State().Keys.Get("app-state-sync-key", []string{"a"})
	_, present := got["a"]
	require.False(t, present)
}
