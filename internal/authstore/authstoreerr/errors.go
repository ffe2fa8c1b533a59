// Package authstoreerr is the error taxonomy shared by every authstore
// component: EncryptionError, CompressionError, StorageError,
// VersionMismatchError, TimeoutError. It is kept dependency-free so every
// other authstore package (codec, crypto, hotstore, coldstore, outbox,
// hybrid) can import it without creating an import cycle.
package authstoreerr

import (
	"errors"
	"fmt"
)

// EncryptionError wraps a failure inside the Crypto component: a missing
// key, a normalization failure, a nonce/tag length mismatch, or an auth
// failure during decrypt.
type EncryptionError struct {
	Code  string
	Msg   string
	Cause error
}

func (e *EncryptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("encryption error [%s]: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("encryption error [%s]: %s", e.Code, e.Msg)
}

func (e *EncryptionError) Unwrap() error { return e.Cause }

// NewEncryptionError builds an EncryptionError with the given code/message.
func NewEncryptionError(code, msg string) *EncryptionError {
	return &EncryptionError{Code: code, Msg: msg}
}

// WithCause attaches the underlying cause and returns the same error.
func (e *EncryptionError) WithCause(cause error) *EncryptionError {
	e.Cause = cause
	return e
}

// CompressionError wraps a failure inside the Codec component: encode of
// non-serializable input, decode of malformed bytes, or a failed
// compressor/decompressor call.
type CompressionError struct {
	Msg   string
	Cause error
}

func (e *CompressionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("compression error: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("compression error: %s", e.Msg)
}

func (e *CompressionError) Unwrap() error { return e.Cause }

// NewCompressionError builds a CompressionError.
func NewCompressionError(msg string) *CompressionError {
	return &CompressionError{Msg: msg}
}

// WithCause attaches the underlying cause and returns the same error.
func (e *CompressionError) WithCause(cause error) *CompressionError {
	e.Cause = cause
	return e
}

// StorageError wraps a tier-adapter failure (connection, protocol,
// timeout, unhandled driver error) and records which tier produced it.
type StorageError struct {
	Tier  string
	Msg   string
	Cause error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error [%s]: %s: %v", e.Tier, e.Msg, e.Cause)
	}
	return fmt.Sprintf("storage error [%s]: %s", e.Tier, e.Msg)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError builds a StorageError scoped to the named tier
// ("hot", "cold", "outbox").
func NewStorageError(tier, msg string) *StorageError {
	return &StorageError{Tier: tier, Msg: msg}
}

// WithCause attaches the underlying cause and returns the same error.
func (e *StorageError) WithCause(cause error) *StorageError {
	e.Cause = cause
	return e
}

// VersionMismatchError signals an optimistic-concurrency failure in the
// cold tier: the conditional upsert's filter did not match because
// another writer had already advanced the document's version.
type VersionMismatchError struct {
	SessionID       string
	ExpectedVersion uint64
	ObservedVersion uint64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch for session %q: expected %d, observed %d",
		e.SessionID, e.ExpectedVersion, e.ObservedVersion)
}

// NewVersionMismatchError builds a VersionMismatchError.
func NewVersionMismatchError(sessionID string, expected, observed uint64) *VersionMismatchError {
	return &VersionMismatchError{SessionID: sessionID, ExpectedVersion: expected, ObservedVersion: observed}
}

// TimeoutError signals an operation that exceeded its configured deadline.
type TimeoutError struct {
	Operation string
	Timeout   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error in %s after %s", e.Operation, e.Timeout)
}

// NewTimeoutError builds a TimeoutError.
func NewTimeoutError(operation, timeout string) *TimeoutError {
	return &TimeoutError{Operation: operation, Timeout: timeout}
}

// IsVersionMismatch reports whether err is (or wraps) a VersionMismatchError.
func IsVersionMismatch(err error) bool {
	var e *VersionMismatchError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// IsStorageError reports whether err is (or wraps) a StorageError, and if
// so for which tier.
func IsStorageError(err error) (tier string, ok bool) {
	var e *StorageError
	if errors.As(err, &e) {
		return e.Tier, true
	}
	return "", false
}

// ErrBothTiersFailed is returned by Hybrid.Set when neither the hot nor the
// cold write path committed.
var ErrBothTiersFailed = errors.New("both tiers failed")

// ErrSessionNotFound is returned when an operation requires an existing
// snapshot and none exists.
var ErrSessionNotFound = errors.New("session not found")
