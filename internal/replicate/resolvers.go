package replicate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/beadslog/replicator/internal/merge"
)

// FieldResolver auto-resolves concurrent conflicts between two issue bodies
// using the project's field-level merge rules (last-writer-wins by
// updated_at, closed-always-wins, notes concatenation, and so on). It
// declines whenever either side fails to decode as an issue, deferring to
// conflict materialization for body shapes it doesn't understand.
type FieldResolver struct{}

// Name identifies this resolver in logs.
func (FieldResolver) Name() string { return "merge.field" }

// TryResolve decodes both contenders as issues, merges them, and re-encodes
// the result. It always claims the conflict once both sides decode --
// MergeConcurrent is total over two issue values, so there is no further
// "not my concern" case once decoding succeeds.
func (FieldResolver) TryResolve(_ context.Context, _ string, incoming, existing Contender[[]byte]) (Resolution[[]byte], bool, error) {
	var incomingIssue, existingIssue merge.Issue
	if err := json.Unmarshal(incoming.Body, &incomingIssue); err != nil {
		return Resolution[[]byte]{}, false, nil
	}
	if err := json.Unmarshal(existing.Body, &existingIssue); err != nil {
		return Resolution[[]byte]{}, false, nil
	}

	if merge.IsTombstone(incomingIssue) && merge.IsTombstone(existingIssue) {
		merged := merge.MergeTombstones(incomingIssue, existingIssue)
		body, err := json.Marshal(merged)
		if err != nil {
			return Resolution[[]byte]{}, false, err
		}
		return Resolution[[]byte]{Meta: incoming.Meta.Clone(), Body: body}, true, nil
	}

	merged, _ := merge.MergeConcurrent(incomingIssue, existingIssue)
	body, err := json.Marshal(merged)
	if err != nil {
		return Resolution[[]byte]{}, false, err
	}
	return Resolution[[]byte]{Meta: incoming.Meta.Clone(), Body: body}, true, nil
}

// TombstoneResolver lets a live edit resurrect an issue whose tombstone has
// aged past its retention window, rather than forcing the edit into a
// permanent conflict against a delete nobody will ever look at again.
type TombstoneResolver struct {
	// TTL overrides merge.DefaultTombstoneTTL when non-zero.
	TTL time.Duration
}

// Name identifies this resolver in logs.
func (TombstoneResolver) Name() string { return "merge.tombstone-resurrection" }

// TryResolve fires only when exactly one side is a tombstone and the other
// is live. An expired tombstone loses outright -- the live edit resurrects
// the issue, and TryResolve hands it back unchanged. A tombstone that has
// not yet expired wins instead: the live edit is discarded and TryResolve
// asks the engine to delete, via KeyResolverDeleteMarker, rather than
// forcing a fresh-delete-vs-live-edit pair into conflict materialization.
func (r TombstoneResolver) TryResolve(_ context.Context, _ string, incoming, existing Contender[[]byte]) (Resolution[[]byte], bool, error) {
	var incomingIssue, existingIssue merge.Issue
	if err := json.Unmarshal(incoming.Body, &incomingIssue); err != nil {
		return Resolution[[]byte]{}, false, nil
	}
	if err := json.Unmarshal(existing.Body, &existingIssue); err != nil {
		return Resolution[[]byte]{}, false, nil
	}

	switch {
	case merge.IsTombstone(existingIssue) && !merge.IsTombstone(incomingIssue):
		if merge.IsExpiredTombstone(existingIssue, r.TTL) {
			return Resolution[[]byte]{Meta: incoming.Meta.Clone(), Body: incoming.Body}, true, nil
		}
		return deleteResolution(existing.Meta), true, nil
	case merge.IsTombstone(incomingIssue) && !merge.IsTombstone(existingIssue):
		if merge.IsExpiredTombstone(incomingIssue, r.TTL) {
			return Resolution[[]byte]{Meta: existing.Meta.Clone(), Body: existing.Body}, true, nil
		}
		return deleteResolution(incoming.Meta), true, nil
	default:
		return Resolution[[]byte]{}, false, nil
	}
}

// deleteResolution builds the resolution an engine-requested delete uses:
// meta cloned from the winning tombstone side, with the resolver's
// delete-marker flag added so ReplicationBehavior routes it through
// DeleteItem/MarkAsDeleted instead of AddWithoutConflict.
func deleteResolution(meta Metadata) Resolution[[]byte] {
	out := meta.Clone()
	out[KeyResolverDeleteMarker] = true
	return Resolution[[]byte]{Meta: out}
}
