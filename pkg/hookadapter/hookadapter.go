// Package hookadapter bridges the hybrid auth store to the shape a
// messaging client's connection hook expects: an in-memory State it reads
// and mutates synchronously, plus a SaveCreds callback, both backed
// transparently by hybrid.Store. It is an out-of-core collaborator — the
// core package never imports it.
package hookadapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/hybrid"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/reqcontext"
)

// KeyReviver turns a raw stored key record for a given (type, id) back
// into the live object the messaging client's protocol layer expects,
// e.g. re-hydrating a deep buffer field from its JSON encoding. Adapter
// only invokes this for the "app-state-sync-key" type; every other type
// passes through unchanged.
type KeyReviver func(id string, record authstore.KeyRecord) (authstore.KeyRecord, error)

// appStateSyncKeyType is the one key type spec.md calls out for revival
// before it reaches a caller.
const appStateSyncKeyType = "app-state-sync-key"

// DefaultCredsFactory builds the zero-value credentials object used when
// a session has no prior snapshot. Credential shape (noise keys,
// registration id, and so on) is the messaging client's concern, not the
// store's, so Adapter takes the factory as a dependency rather than
// hard-coding one.
type DefaultCredsFactory func() interface{}

// Adapter wraps one session's worth of hybrid.Store access behind the
// state/saveCreds/store surface a connection hook expects.
type Adapter struct {
	store       *hybrid.Store
	sessionID   authstore.SessionId
	environment string
	logger      *slog.Logger
	reviver     KeyReviver

	snapshot *authstore.AuthSnapshot
	version  uint64
}

// New loads the current snapshot for id (defaulting credentials via
// makeDefaultCreds if none exists yet) and returns an Adapter bound to it.
func New(store *hybrid.Store, id authstore.SessionId, environment string, makeDefaultCreds DefaultCredsFactory, reviver KeyReviver, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		store:       store,
		sessionID:   id,
		environment: environment,
		logger:      logger,
		reviver:     reviver,
	}

	rc := reqcontext.New(context.Background(), environment)
	existing, err := store.Get(rc, id)
	if err != nil {
		return nil, fmt.Errorf("hookadapter: load %s: %w", id, err)
	}
	if existing == nil || existing.Data == nil {
		a.snapshot = &authstore.AuthSnapshot{Keys: make(map[string]authstore.KeyMap)}
		if makeDefaultCreds != nil {
			a.snapshot.Creds = makeDefaultCreds()
		}
		a.version = 0
	} else {
		a.snapshot = existing.Data
		a.version = existing.Version
	}
	return a, nil
}

// State is the live, in-memory view a connection hook reads creds from
// and resolves keys through.
type State struct {
	Creds interface{}
	Keys  *KeysAccessor
}

// State returns the current in-memory state. Creds reflects the last
// loaded or saved value; Keys.Get reads the adapter's snapshot and
// Keys.Set writes through the store.
func (a *Adapter) State() *State {
	return &State{
		Creds: a.snapshot.Creds,
		Keys:  &KeysAccessor{a: a},
	}
}

// KeysAccessor implements state.keys.get/state.keys.set.
type KeysAccessor struct {
	a *Adapter
}

// Get looks up the requested ids within the given key type against the
// adapter's current snapshot. A lookup error for one id (currently only
// possible via a failing reviver) omits that id from the result rather
// than failing the whole call.
func (k *KeysAccessor) Get(typ string, ids []string) map[string]authstore.KeyRecord {
	out := make(map[string]authstore.KeyRecord, len(ids))
	byID := k.a.snapshot.Keys[typ]
	for _, id := range ids {
		record, ok := byID[id]
		if !ok {
			continue
		}
		if typ == appStateSyncKeyType && k.a.reviver != nil {
			revived, err := k.a.reviver(id, record)
			if err != nil {
				k.a.logger.Warn("hookadapter: key revival failed, omitting id",
					"session", k.a.sessionID, "type", typ, "id", id, "error", err)
				continue
			}
			record = revived
		}
		out[id] = record
	}
	return out
}

// Set applies a key-map patch (nil value deletes that id) and persists it
// through the store, advancing the adapter's cached version on success.
func (k *KeysAccessor) Set(data map[string]map[string]authstore.KeyRecord) error {
	a := k.a
	rc := reqcontext.New(context.Background(), a.environment)
	expected := a.version
	result, err := a.store.Set(rc, a.sessionID, &authstore.AuthPatch{Keys: data}, &expected)
	if err != nil {
		return fmt.Errorf("hookadapter: set keys for %s: %w", a.sessionID, err)
	}
	a.snapshot.Keys = authstore.MergeKeys(a.snapshot.Keys, data)
	a.version = result.Version
	return nil
}

// SaveCreds persists the adapter's in-memory Creds value, as the
// connection hook mutates State.Creds directly and calls this afterward.
func (a *Adapter) SaveCreds() error {
	rc := reqcontext.New(context.Background(), a.environment)
	expected := a.version
	result, err := a.store.Set(rc, a.sessionID, &authstore.AuthPatch{Creds: a.snapshot.Creds, CredsSet: true}, &expected)
	if err != nil {
		return fmt.Errorf("hookadapter: save creds for %s: %w", a.sessionID, err)
	}
	a.version = result.Version
	return nil
}
