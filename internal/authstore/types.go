// Package authstore implements the hybrid hot/cold persistence layer for
// messaging-client session state: credentials plus a grow-mostly map of
// Signal-protocol key records, kept correct across crashes, restarts, and
// concurrent incremental updates.
package authstore

import "time"

// SessionId is an opaque, externally assigned, non-empty identifier for one
// persisted session's worth of state.
type SessionId string

// KeyRecord is a single value stored under a (type, id) pair inside
// AuthSnapshot.Keys. It is opaque to the store: the store only needs to
// serialize it, merge it by id, and hand it back unchanged.
type KeyRecord = interface{}

// KeyMap is the per-type map of key-id to record, e.g. the set of pre-keys
// or app-state-sync-keys currently held for a session.
type KeyMap map[string]KeyRecord

// AuthSnapshot is the full logical session state: credentials blob, the
// typed key map, and an optional app-state map. Insertion order inside Keys
// is not significant; the id set may grow unboundedly over a session's
// lifetime.
type AuthSnapshot struct {
	Creds    interface{}       `json:"creds"`
	Keys     map[string]KeyMap `json:"keys"`
	AppState map[string]interface{} `json:"appState,omitempty"`
}

// CloneSnapshot deep-copies a snapshot so that a caller retaining a
// reference to the original cannot observe or cause mutation races with
// the copy handed to a tier.
func CloneSnapshot(s *AuthSnapshot) *AuthSnapshot {
	if s == nil {
		return nil
	}
	out := &AuthSnapshot{Creds: deepCopyValue(s.Creds)}
	if s.Keys != nil {
		out.Keys = make(map[string]KeyMap, len(s.Keys))
		for typ, km := range s.Keys {
			cloned := make(KeyMap, len(km))
			for id, v := range km {
				cloned[id] = deepCopyValue(v)
			}
			out.Keys[typ] = cloned
		}
	}
	if s.AppState != nil {
		out.AppState = make(map[string]interface{}, len(s.AppState))
		for k, v := range s.AppState {
			out.AppState[k] = deepCopyValue(v)
		}
	}
	return out
}

// AuthPatch is a partial update over an AuthSnapshot. A nil entry in Keys'
// inner map means "remove this id"; an absent type in Keys leaves that
// type untouched entirely. Creds and AppState, when present, replace the
// corresponding field wholesale.
type AuthPatch struct {
	Creds       interface{}
	CredsSet    bool
	Keys        map[string]map[string]KeyRecord
	AppState    map[string]interface{}
	AppStateSet bool
}

// ClonePatch deep-copies a patch. Spec invariant: the caller's patch MUST
// be copied before it is handed to more than one tier, or an in-flight
// mutation by the caller while one tier's async encode runs can make the
// two tiers observe different byte images of the "same" write.
func ClonePatch(p *AuthPatch) *AuthPatch {
	if p == nil {
		return nil
	}
	out := &AuthPatch{CredsSet: p.CredsSet, AppStateSet: p.AppStateSet}
	if p.CredsSet {
		out.Creds = deepCopyValue(p.Creds)
	}
	if p.Keys != nil {
		out.Keys = make(map[string]map[string]KeyRecord, len(p.Keys))
		for typ, ids := range p.Keys {
			cloned := make(map[string]KeyRecord, len(ids))
			for id, v := range ids {
				cloned[id] = deepCopyValue(v)
			}
			out.Keys[typ] = cloned
		}
	}
	if p.AppStateSet {
		out.AppState = make(map[string]interface{}, len(p.AppState))
		for k, v := range p.AppState {
			out.AppState[k] = deepCopyValue(v)
		}
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = deepCopyValue(vv)
		}
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// Versioned wraps a value with the per-session monotonic version counter
// and a wall-clock timestamp kept for diagnostics only.
type Versioned[T any] struct {
	Data      T
	Version   uint64
	UpdatedAt time.Time
}

// EncryptedEnvelope is the on-wire unit written to both tiers: ciphertext,
// nonce, the id of the key used, a schema version for the plaintext shape,
// and a wall-clock timestamp. It is itself a structured record (not raw
// bytes) so tiers that want to index on metadata can.
type EncryptedEnvelope struct {
	Ciphertext    []byte    `json:"ciphertext"`
	Nonce         []byte    `json:"nonce"`
	KeyID         string    `json:"keyId"`
	SchemaVersion uint32    `json:"schemaVersion"`
	Timestamp     time.Time `json:"timestamp"`
}

// SchemaVersion is the constant envelope schema version carried on every
// encrypted record produced by this build.
const SchemaVersion uint32 = 1

// OutboxStatus is the lifecycle state of one OutboxEntry.
type OutboxStatus string

const (
	OutboxPending  OutboxStatus = "pending"
	OutboxInFlight OutboxStatus = "in-flight"
	OutboxSucceeded OutboxStatus = "succeeded"
	OutboxFailed   OutboxStatus = "failed"
)

// OutboxEntry is one write-behind unit: a versioned patch for a session,
// queued for durable cold-tier commit when write-behind is enabled.
type OutboxEntry struct {
	ID            string
	SessionID     SessionId
	Patch         *AuthPatch
	ExpectedVersion uint64
	EnqueuedAt    time.Time
	Status        OutboxStatus
	Attempts      int
	LastError     string
	ClaimedAt     time.Time
}

// SetResult is returned by every successful Set/set-behind operation.
type SetResult struct {
	Version   uint64
	UpdatedAt time.Time
	Success   bool
}
