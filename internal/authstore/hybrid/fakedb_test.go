package hybrid

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vitaliisemenov/baileys-auth-store/internal/database/postgres"
)

// fakeRow is an in-memory stand-in for one auth_snapshots row, enough to
// exercise coldstore's read/merge/conditional-write cycle without a real
// Postgres connection.
type fakeRow struct {
	version       int64
	updatedAt     time.Time
	keyID         string
	schemaVersion int32
	nonce         []byte
	payload       []byte
}

// fakeDB implements postgres.DatabaseConnection over an in-memory map,
// pattern-matching on the small, fixed set of statements coldstore issues.
type fakeDB struct {
	mu   sync.Mutex
	rows map[string]fakeRow
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string]fakeRow)}
}

var _ postgres.DatabaseConnection = (*fakeDB)(nil)

func (f *fakeDB) Connect(ctx context.Context) error    { return nil }
func (f *fakeDB) Disconnect(ctx context.Context) error { return nil }
func (f *fakeDB) IsConnected() bool                    { return true }
func (f *fakeDB) Health(ctx context.Context) error     { return nil }
func (f *fakeDB) Stats() postgres.PoolStats            { return postgres.PoolStats{} }
func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("fakeDB: transactions not supported")
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, fmt.Errorf("fakeDB: Query not supported")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessionID, _ := args[0].(string)
	r, ok := f.rows[sessionID]
	if !ok {
		return fakePgxRow{err: pgx.ErrNoRows}
	}
	return fakePgxRow{row: r}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "INSERT INTO auth_snapshots"):
		sessionID := args[0].(string)
		f.rows[sessionID] = fakeRow{
			version:       args[1].(int64),
			updatedAt:     args[2].(time.Time),
			keyID:         args[3].(string),
			schemaVersion: args[4].(int32),
			nonce:         args[5].([]byte),
			payload:       args[6].([]byte),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case strings.HasPrefix(sql, "UPDATE auth_snapshots SET version"):
		sessionID := args[6].(string)
		expectedVersion := args[7].(int64)
		current, ok := f.rows[sessionID]
		if !ok || current.version != expectedVersion {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		f.rows[sessionID] = fakeRow{
			version:       args[0].(int64),
			updatedAt:     args[1].(time.Time),
			keyID:         args[2].(string),
			schemaVersion: args[3].(int32),
			nonce:         args[4].([]byte),
			payload:       args[5].([]byte),
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil

	case strings.HasPrefix(sql, "UPDATE auth_snapshots SET updated_at"):
		sessionID := args[1].(string)
		current, ok := f.rows[sessionID]
		if !ok {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		current.updatedAt = args[0].(time.Time)
		f.rows[sessionID] = current
		return pgconn.NewCommandTag("UPDATE 1"), nil

	case strings.HasPrefix(sql, "DELETE FROM auth_snapshots"):
		sessionID := args[0].(string)
		delete(f.rows, sessionID)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}

	return pgconn.CommandTag{}, fmt.Errorf("fakeDB: unrecognized statement %q", sql)
}

type fakePgxRow struct {
	row fakeRow
	err error
}

func (r fakePgxRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.row.version
	*(dest[1].(*time.Time)) = r.row.updatedAt
	*(dest[2].(*string)) = r.row.keyID
	*(dest[3].(*int32)) = r.row.schemaVersion
	*(dest[4].(*[]byte)) = r.row.nonce
	*(dest[5].(*[]byte)) = r.row.payload
	return nil
}
