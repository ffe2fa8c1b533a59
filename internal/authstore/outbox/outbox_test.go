package outbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/codec"
	"github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
)

type fakeOutboxRow struct {
	id              string
	sessionID       string
	expectedVersion int64
	patch           []byte
	status          string
	attempts        int
	lastError       string
	enqueuedAt      time.Time
	claimedAt       time.Time
}

// fakeOutboxDB is a minimal postgres.DatabaseConnection over an in-memory
// ledger table, matching the small fixed set of statements Outbox issues
// by SQL prefix (the same pattern the hybrid package's fakedb_test.go uses
// for auth_snapshots).
type fakeOutboxDB struct {
	mu   sync.Mutex
	rows map[string]*fakeOutboxRow
}

func newFakeOutboxDB() *fakeOutboxDB {
	return &fakeOutboxDB{rows: map[string]*fakeOutboxRow{}}
}

func (d *fakeOutboxDB) Connect(ctx context.Context) error    { return nil }
func (d *fakeOutboxDB) Disconnect(ctx context.Context) error { return nil }
func (d *fakeOutboxDB) IsConnected() bool                    { return true }
func (d *fakeOutboxDB) Health(ctx context.Context) error      { return nil }
func (d *fakeOutboxDB) Stats() postgres.PoolStats             { return postgres.PoolStats{} }
func (d *fakeOutboxDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errUnsupported("Begin")
}

func (d *fakeOutboxDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !strings.HasPrefix(sql, "UPDATE auth_outbox SET status = $1, claimed_at = $2") {
		return nil, errUnsupported("Query: " + sql)
	}

	newStatus := args[0].(string)
	claimedAt := args[1].(time.Time)
	wantStatus := args[2].(string)
	limit := args[3].(int)

	var claimed []*fakeOutboxRow
	for _, r := range d.rows {
		if len(claimed) >= limit {
			break
		}
		if r.status == wantStatus {
			claimed = append(claimed, r)
		}
	}
	for _, r := range claimed {
		r.status = newStatus
		r.claimedAt = claimedAt
	}

	return &fakeOutboxRows{entries: claimed}, nil
}

func (d *fakeOutboxDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !strings.HasPrefix(sql, "SELECT") {
		return fakeStatsRow{err: errUnsupported("QueryRow: " + sql)}
	}

	var s Stats
	for _, r := range d.rows {
		switch authstore.OutboxStatus(r.status) {
		case authstore.OutboxPending:
			s.Pending++
		case authstore.OutboxInFlight:
			s.InFlight++
		case authstore.OutboxSucceeded:
			s.Succeeded++
		case authstore.OutboxFailed:
			s.Failed++
		}
	}
	return fakeStatsRow{stats: s}
}

func (d *fakeOutboxDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "INSERT INTO auth_outbox"):
		id := args[0].(string)
		sessionID := args[1].(string)
		expectedVersion := args[2].(int64)
		for _, r := range d.rows {
			if r.sessionID == sessionID && r.expectedVersion == expectedVersion {
				return pgconn.NewCommandTag("INSERT 0 0"), nil
			}
		}
		d.rows[id] = &fakeOutboxRow{
			id:              id,
			sessionID:       sessionID,
			expectedVersion: expectedVersion,
			patch:           args[3].([]byte),
			status:          args[4].(string),
			enqueuedAt:      args[5].(time.Time),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case strings.HasPrefix(sql, "UPDATE auth_outbox SET status = $1, claimed_at = NULL"):
		newStatus := args[0].(string)
		wantStatus := args[1].(string)
		cutoff := args[2].(time.Time)
		for _, r := range d.rows {
			if r.status == wantStatus && r.claimedAt.Before(cutoff) {
				r.status = newStatus
				r.claimedAt = time.Time{}
			}
		}
		return pgconn.NewCommandTag("UPDATE"), nil

	case strings.HasPrefix(sql, "UPDATE auth_outbox SET status = $1, attempts = $2"):
		status := args[0].(string)
		attempts := args[1].(int)
		lastError := args[2].(string)
		id := args[3].(string)
		if r, ok := d.rows[id]; ok {
			r.status = status
			r.attempts = attempts
			r.lastError = lastError
			r.claimedAt = time.Time{}
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil

	case strings.HasPrefix(sql, "UPDATE auth_outbox SET status = $1 WHERE id = $2"):
		status := args[0].(string)
		id := args[1].(string)
		if r, ok := d.rows[id]; ok {
			r.status = status
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil

	case strings.HasPrefix(sql, "DELETE FROM auth_outbox"):
		status := args[0].(string)
		cutoff := args[1].(time.Time)
		var n int
		for id, r := range d.rows {
			if r.status == status && r.enqueuedAt.Before(cutoff) {
				delete(d.rows, id)
				n++
			}
		}
		return pgconn.NewCommandTag("DELETE 1"), nil

	default:
		return pgconn.CommandTag{}, errUnsupported("Exec: " + sql)
	}
}

type fakeOutboxRows struct {
	entries []*fakeOutboxRow
	idx     int
	closed  bool
}

func (r *fakeOutboxRows) Close()                                        { r.closed = true }
func (r *fakeOutboxRows) Err() error                                    { return nil }
func (r *fakeOutboxRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *fakeOutboxRows) FieldDescriptions() []pgconn.FieldDescription  { return nil }
func (r *fakeOutboxRows) RawValues() [][]byte                          { return nil }
func (r *fakeOutboxRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeOutboxRows) Next() bool {
	if r.idx >= len(r.entries) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeOutboxRows) Values() ([]interface{}, error) {
	return nil, errUnsupported("Values")
}

func (r *fakeOutboxRows) Scan(dest ...interface{}) error {
	entry := r.entries[r.idx-1]
	*dest[0].(*string) = entry.id
	*dest[1].(*string) = entry.sessionID
	*dest[2].(*int64) = entry.expectedVersion
	*dest[3].(*[]byte) = entry.patch
	*dest[4].(*int) = entry.attempts
	*dest[5].(*time.Time) = entry.enqueuedAt
	return nil
}

type fakeStatsRow struct {
	stats Stats
	err   error
}

func (r fakeStatsRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.stats.Pending
	*dest[1].(*int64) = r.stats.InFlight
	*dest[2].(*int64) = r.stats.Succeeded
	*dest[3].(*int64) = r.stats.Failed
	return nil
}

type errUnsupported string

func (e errUnsupported) Error() string { return "outbox test fake: unsupported " + string(e) }

func newTestOutbox(db *fakeOutboxDB, queue QueueAdapter) *Outbox {
	c := codec.New(codec.NoneCompressor{})
	return New(db, c, queue, DefaultConfig(), nil)
}

func TestOutbox_Enqueue_IsIdempotentPerSessionAndVersion(t *testing.T) {
	db := newFakeOutboxDB()
	ob := newTestOutbox(db, NoopQueue{})
	ctx := context.Background()

	patch := &authstore.AuthPatch{Creds: "c1", CredsSet: true}
	require.NoError(t, ob.Enqueue(ctx, "session-1", patch, 0))
	require.NoError(t, ob.Enqueue(ctx, "session-1", patch, 0))

	require.Len(t, db.rows, 1)
}

func TestOutbox_Reconcile_PublishesAndMarksSucceeded(t *testing.T) {
	db := newFakeOutboxDB()
	published := []authstore.OutboxEntry{}
	queue := recordingQueue{entries: &published}
	ob := newTestOutbox(db, queue)
	ctx := context.Background()

	patch := &authstore.AuthPatch{Creds: "c1", CredsSet: true}
	require.NoError(t, ob.Enqueue(ctx, "session-1", patch, 0))

	processed, err := ob.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Len(t, published, 1)
	require.Equal(t, authstore.SessionId("session-1"), published[0].SessionID)

	stats, err := ob.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Succeeded)
	require.Equal(t, int64(0), stats.Pending)
}

func TestOutbox_Reconcile_FailedPublishRetriesUntilMaxAttempts(t *testing.T) {
	db := newFakeOutboxDB()
	queue := failingQueue{}
	cfg := Config{VisibilityTimeout: 30 * time.Second, BatchSize: 10, MaxAttempts: 2}
	ob := New(db, codec.New(codec.NoneCompressor{}), queue, cfg, nil)
	ctx := context.Background()

	patch := &authstore.AuthPatch{Creds: "c1", CredsSet: true}
	require.NoError(t, ob.Enqueue(ctx, "session-1", patch, 0))

	_, err := ob.Reconcile(ctx)
	require.NoError(t, err)
	stats, err := ob.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)

	_, err = ob.Reconcile(ctx)
	require.NoError(t, err)
	stats, err = ob.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failed)
}

func TestOutbox_Reconcile_ReclaimsStaleInFlightEntries(t *testing.T) {
	db := newFakeOutboxDB()
	db.rows["stuck-1"] = &fakeOutboxRow{
		id:         "stuck-1",
		sessionID:  "session-1",
		status:     string(authstore.OutboxInFlight),
		claimedAt:  time.Now().Add(-time.Hour),
		enqueuedAt: time.Now().Add(-time.Hour),
		patch:      mustEncode(t, &authstore.AuthPatch{Creds: "c", CredsSet: true}),
	}
	ob := newTestOutbox(db, NoopQueue{})

	processed, err := ob.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, processed)
}

func TestOutbox_PruneSucceeded_RemovesOldEntriesOnly(t *testing.T) {
	db := newFakeOutboxDB()
	db.rows["old"] = &fakeOutboxRow{id: "old", status: string(authstore.OutboxSucceeded), enqueuedAt: time.Now().Add(-48 * time.Hour)}
	db.rows["recent"] = &fakeOutboxRow{id: "recent", status: string(authstore.OutboxSucceeded), enqueuedAt: time.Now()}
	ob := newTestOutbox(db, NoopQueue{})

	n, err := ob.PruneSucceeded(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Len(t, db.rows, 1)
	_, stillPresent := db.rows["recent"]
	require.True(t, stillPresent)
}

type recordingQueue struct {
	entries *[]authstore.OutboxEntry
}

func (q recordingQueue) Publish(ctx context.Context, entry authstore.OutboxEntry) error {
	*q.entries = append(*q.entries, entry)
	return nil
}

type failingQueue struct{}

func (failingQueue) Publish(ctx context.Context, entry authstore.OutboxEntry) error {
	return errUnsupported("publish always fails in this test")
}

func mustEncode(t *testing.T, patch *authstore.AuthPatch) []byte {
	t.Helper()
	c := codec.New(codec.NoneCompressor{})
	data, err := c.Encode(patchToGeneric(patch))
	require.NoError(t, err)
	return data
}
