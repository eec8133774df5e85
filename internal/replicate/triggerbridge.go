package replicate

import (
	"context"
	"fmt"
)

// Trigger is the write-path hook the engine re-invokes on behalf of a put
// that bypassed the normal write path (because it arrived as a replicated
// item rather than through local client code). Implementations are the
// same triggers the local write path already runs; the engine does not
// know or care what they do.
type Trigger[B any] interface {
	Name() string
	OnPut(ctx context.Context, id string, meta Metadata, body B) error
}

// TriggerBridge re-invokes exactly one configured trigger after a
// replicated put resolves to a single, non-conflicted body, mirroring what
// would have run had the write arrived locally. A missing trigger where
// one is required is a configuration error, not a skip: silently
// dropping trigger side effects (indexing, validation, derived state)
// would leave the store inconsistent with local writes.
type TriggerBridge[B any] struct {
	trigger Trigger[B]
	// opaque reports whether B's bodies are opaque blobs (attachments) for
	// which no trigger is expected to run at all, versus structured bodies
	// (documents) where a missing trigger is an error.
	opaque bool
}

// NewTriggerBridge builds a bridge around trigger. Pass opaque=true for
// item kinds (attachments) that never run write-path triggers. A nil
// trigger for a non-opaque item kind is rejected here, at construction
// time, rather than discovered the first time a replicated put happens to
// need it: ErrConfigurationError is a startup-time fatal error, not a
// per-item failure.
func NewTriggerBridge[B any](trigger Trigger[B], opaque bool) (*TriggerBridge[B], error) {
	if !opaque && trigger == nil {
		return nil, fmt.Errorf("%w: no put trigger configured for non-opaque item kind", ErrConfigurationError)
	}
	return &TriggerBridge[B]{trigger: trigger, opaque: opaque}, nil
}

// OnResolvedPut re-invokes the bridged trigger for a put that is about to
// land as the new current version of id, skipping delete markers and
// conflict placeholders -- those never ran triggers on the local write
// path either.
func (b *TriggerBridge[B]) OnResolvedPut(ctx context.Context, id string, meta Metadata, body B) error {
	if b.opaque {
		return nil
	}
	if isDeleteMarker(meta) || isConflictFlag(meta) {
		return nil
	}
	if err := b.trigger.OnPut(ctx, id, meta, body); err != nil {
		return fmt.Errorf("replicate: trigger %s failed for %s: %w", b.trigger.Name(), id, err)
	}
	return nil
}

func isDeleteMarker(meta Metadata) bool {
	v, ok := meta[KeyDeleteMarker]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func isConflictFlag(meta Metadata) bool {
	v, ok := meta[KeyReplicationConflict]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
