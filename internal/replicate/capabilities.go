package replicate

import "context"

// Capabilities is the narrow storage contract the replication engine needs
// from an item kind (documents, attachments, ...). A type parameterizes the
// body representation while the engine's decision logic stays identical
// across item kinds; both concretions in this module use []byte (a
// document's JSON encoding, an attachment's raw blob).
//
// Implementations are expected to be safe for concurrent use by distinct
// ids; the engine serializes access to a single id itself via its lock
// table, so an implementation only needs per-id atomicity for the
// individual calls below, not cross-call atomicity.
type Capabilities[B any] interface {
	// TryGetExisting loads the current record for id, including tombstones.
	// A nil, nil return means no record, live or deleted, exists under id.
	TryGetExisting(ctx context.Context, id string) (*Existing[B], error)

	// AddWithoutConflict writes body and meta as the new current record for
	// id. When etag is non-nil the write must be conditioned on the
	// record's current etag matching it, returning ErrStorageConflict on
	// mismatch; when etag is nil the write is unconditional (the engine
	// passes nil for a brand-new id, over a tombstone, and when rewriting
	// an existing conflict placeholder).
	AddWithoutConflict(ctx context.Context, id string, etag *string, meta Metadata, body B) error

	// DeleteItem removes id outright, with no tombstone left behind. The
	// engine calls it on a fast-forward delete and on a resolver-requested
	// delete, each time followed by MarkAsDeleted. etag, when non-nil, is
	// an optimistic-concurrency guard as in AddWithoutConflict.
	DeleteItem(ctx context.Context, id string, etag *string) error

	// MarkAsDeleted replaces id's body with a tombstone carrying meta
	// (which already has the delete-marker and merged history set by the
	// caller). The previous body is discarded; the record continues to
	// exist so future puts can be compared against its version history.
	MarkAsDeleted(ctx context.Context, id string, meta Metadata) error

	// PutArtifact writes a standalone conflict-contender record at
	// artifactID and returns its etag. artifactID is never the bare item
	// id; see ArtifactID. The conflict-placeholder parent at the bare id is
	// written through AddWithoutConflict instead.
	PutArtifact(ctx context.Context, artifactID string, meta Metadata, body B) (etag string, err error)
}

// Existing is what TryGetExisting returns for a record that is present,
// live or tombstoned.
type Existing[B any] struct {
	Meta    Metadata
	Body    B
	Etag    string
	Deleted bool
}

// CreatedConflict describes a conflict materialized by ConflictStore: the
// etag assigned to the conflict-placeholder parent, and the full set of
// artifact ids now hanging off it.
type CreatedConflict struct {
	Etag        string
	ArtifactIDs []string
}
