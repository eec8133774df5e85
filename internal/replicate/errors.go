package replicate

import "errors"

// Sentinel errors surfaced by the replication decision engine. Callers
// (the transport layer) use errors.Is against these to decide whether to
// retry, surface to the operator, or treat an item as permanently rejected.
var (
	// ErrStorageConflict means the optimistic-concurrency etag supplied to
	// a storage write no longer matched what was stored. Retryable: the
	// caller should re-read and restart the Replicate call.
	ErrStorageConflict = errors.New("replicate: storage conflict")

	// ErrStorageUnavailable means the storage backend could not be reached
	// or failed for reasons unrelated to concurrency. Retryable.
	ErrStorageUnavailable = errors.New("replicate: storage unavailable")

	// ErrConfigurationError means replication was constructed without a
	// required collaborator (most commonly: no remove-conflict-on-put
	// trigger registered). This is a startup-time fatal error, never a
	// per-item failure.
	ErrConfigurationError = errors.New("replicate: configuration error")

	// ErrMalformedMetadata means an incoming item that is not a brand-new
	// add is missing @replication-source or @replication-version. The item
	// is rejected; the peer is expected to resend with correct metadata.
	// Only the put path checks for this: an incoming delete with missing
	// source or version is not rejected and is handled as Concurrent.
	ErrMalformedMetadata = errors.New("replicate: malformed metadata")
)
