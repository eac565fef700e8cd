// Package eventerr defines the typed error taxonomy surfaced by the event
// store's data-plane operations. External collaborators (the HTTP control
// plane, the query DSL service) translate these into their own wire codes;
// the core never imports net/http.
package eventerr

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind identifies the taxonomy of an error without requiring a type switch.
type Kind string

const (
	KindInvalidEvent      Kind = "invalid_event"
	KindVersionConflict   Kind = "version_conflict"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindRateLimited       Kind = "rate_limited"
	KindTenantNotFound    Kind = "tenant_not_found"
	KindEntityNotFound    Kind = "entity_not_found"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindWalCorrupt        Kind = "wal_corrupt"
	KindFoldError         Kind = "fold_error"
	KindQueryTimeout      Kind = "query_timeout"
)

// Transient reports whether a caller should retry the operation, as opposed
// to treating the error as permanent caller-input rejection.
func (k Kind) Transient() bool {
	switch k {
	case KindStorageUnavailable, KindRateLimited, KindQueryTimeout:
		return true
	default:
		return false
	}
}

// Code maps a Kind to the nearest gRPC status code, so an external
// transport can translate without depending on this package's concrete
// error types.
func (k Kind) Code() codes.Code {
	switch k {
	case KindInvalidEvent:
		return codes.InvalidArgument
	case KindVersionConflict:
		return codes.Aborted
	case KindQuotaExceeded, KindRateLimited:
		return codes.ResourceExhausted
	case KindTenantNotFound, KindEntityNotFound:
		return codes.NotFound
	case KindStorageUnavailable:
		return codes.Unavailable
	case KindWalCorrupt, KindFoldError:
		return codes.Internal
	case KindQueryTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Unknown
	}
}

// InvalidEvent reports a caller-input validation failure (§4.1).
type InvalidEvent struct {
	Field  string
	Reason string
}

func (e *InvalidEvent) Error() string {
	return fmt.Sprintf("invalid event: field %q: %s", e.Field, e.Reason)
}

func (e *InvalidEvent) Kind() Kind { return KindInvalidEvent }

// VersionConflict reports an optimistic-concurrency loss on reserve_version.
type VersionConflict struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *VersionConflict) Error() string {
	return fmt.Sprintf("version conflict on stream %q: expected %d, actual %d", e.StreamID, e.Expected, e.Actual)
}

func (e *VersionConflict) Kind() Kind { return KindVersionConflict }

// QuotaExceeded reports a tenant accounting quota rejection (C12).
type QuotaExceeded struct {
	TenantID string
	Resource string
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded for tenant %q: resource %q", e.TenantID, e.Resource)
}

func (e *QuotaExceeded) Kind() Kind { return KindQuotaExceeded }

// RateLimited reports a token-bucket rejection with a client retry hint.
type RateLimited struct {
	TenantID     string
	Op           string
	RetryAfterMs int64
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited for tenant %q op %q: retry after %dms", e.TenantID, e.Op, e.RetryAfterMs)
}

func (e *RateLimited) Kind() Kind { return KindRateLimited }

// TenantNotFound reports an unknown or purged tenant.
type TenantNotFound struct {
	TenantID string
}

func (e *TenantNotFound) Error() string {
	return fmt.Sprintf("tenant not found: %q", e.TenantID)
}

func (e *TenantNotFound) Kind() Kind { return KindTenantNotFound }

// EntityNotFound reports a query against an entity with no events.
type EntityNotFound struct {
	TenantID string
	EntityID string
}

func (e *EntityNotFound) Error() string {
	return fmt.Sprintf("entity not found: tenant %q entity %q", e.TenantID, e.EntityID)
}

func (e *EntityNotFound) Kind() Kind { return KindEntityNotFound }

// StorageUnavailable reports a WAL or columnar write/read failure (§7).
type StorageUnavailable struct {
	Op  string
	Err error
}

func (e *StorageUnavailable) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailable) Unwrap() error { return e.Err }

func (e *StorageUnavailable) Kind() Kind { return KindStorageUnavailable }

// WalCorrupt reports a torn or checksum-invalid WAL frame found during
// recovery. Recovery truncates the tail and continues; this error is only
// surfaced at startup.
type WalCorrupt struct {
	Segment string
	Offset  int64
	Reason  string
}

func (e *WalCorrupt) Error() string {
	return fmt.Sprintf("wal corrupt: segment %q offset %d: %s", e.Segment, e.Offset, e.Reason)
}

func (e *WalCorrupt) Kind() Kind { return KindWalCorrupt }

// FoldError reports a failure in a projection fold function during state
// reconstruction, pinned to the offending event's version.
type FoldError struct {
	EventVersion int64
	Reason       string
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("fold error at version %d: %s", e.EventVersion, e.Reason)
}

func (e *FoldError) Kind() Kind { return KindFoldError }

// QueryTimeout reports a deadline-aborted scan. LastTimestampMicros lets the
// caller resume the query from where it left off.
type QueryTimeout struct {
	LastTimestampMicros int64
}

func (e *QueryTimeout) Error() string {
	return fmt.Sprintf("query timed out, last processed timestamp %d", e.LastTimestampMicros)
}

func (e *QueryTimeout) Kind() Kind { return KindQueryTimeout }

// kinder is implemented by every error type in this package.
type kinder interface{ Kind() Kind }

// KindOf returns the Kind of err if it is one of this package's error
// types, or "" otherwise. Useful for logging and metrics labeling without a
// long type switch.
func KindOf(err error) Kind {
	if k, ok := err.(kinder); ok {
		return k.Kind()
	}
	return ""
}
