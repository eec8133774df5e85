package replicate

import (
	"context"
	"errors"
	"fmt"

	"github.com/beadslog/replicator/internal/replicate/locks"
	"github.com/beadslog/replicator/internal/replicate/notify"
	"github.com/beadslog/replicator/internal/replicate/rlog"
)

// Transactor lets a storage backend run a Replicate call's writes inside
// one transaction. When configured, conflict notifications are queued and
// only handed to the bus once fn returns without error (on commit); when
// nil, notifications are published immediately after the write that
// produced them.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config bundles the construction-time settings ReplicationBehavior needs.
// Everything here is fixed for the lifetime of the engine; none of it is
// read from a CLI flag or environment variable at this layer.
type Config struct {
	LocalReplicaTag string
	HistoryMax      int
	MaxRetries      int
	ItemType        notify.ItemType
	// Opaque marks this item kind's bodies as non-JSON blobs (attachments):
	// no put trigger is ever invoked for them.
	Opaque bool
}

// ReplicationBehavior is the decision state machine: the single entry
// point a replication transport calls once per incoming item. It composes
// Historian, ConflictStore, ResolverChain and TriggerBridge over one
// storage capability set.
type ReplicationBehavior[B any] struct {
	cfg       Config
	caps      Capabilities[B]
	historian Historian
	conflicts *ConflictStore[B]
	resolvers *ResolverChain[B]
	triggers  *TriggerBridge[B]
	bus       *notify.Bus
	locks     *locks.Table
	tx        Transactor
	log       rlog.Logger
	zero      B
}

// New builds a ReplicationBehavior. locks may be nil, in which case a
// fresh in-process Table is created; tx may be nil, in which case
// notifications are published immediately rather than deferred to commit.
func New[B any](
	cfg Config,
	caps Capabilities[B],
	resolvers *ResolverChain[B],
	triggers *TriggerBridge[B],
	bus *notify.Bus,
	lockTable *locks.Table,
	tx Transactor,
	log rlog.Logger,
) *ReplicationBehavior[B] {
	if lockTable == nil {
		lockTable = locks.New()
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = DefaultHistoryMax
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &ReplicationBehavior[B]{
		cfg:       cfg,
		caps:      caps,
		conflicts: NewConflictStore(caps),
		resolvers: resolvers,
		triggers:  triggers,
		bus:       bus,
		locks:     lockTable,
		tx:        tx,
		log:       log,
	}
}

// Replicate is the entry point: decide and apply the effect of one
// incoming (id, metadata, body) tuple from a peer replica. meta's
// @delete-marker selects the put or delete sub-machine.
//
// A storage write that loses its optimistic-concurrency race (another
// replicator process wrote id between the read and the write) is retried
// up to Config.MaxRetries times, rereading and restarting the whole
// decision from scratch each time, per the bounded-retry strategy for
// ErrStorageConflict.
func (e *ReplicationBehavior[B]) Replicate(ctx context.Context, id string, meta Metadata, body B) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	incoming := ParseVersionMeta(meta)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		existing, err := e.caps.TryGetExisting(ctx, id)
		if err != nil {
			return fmt.Errorf("replicate: read existing %s: %w", id, err)
		}

		var pending []notify.ConflictNotification
		run := func(ctx context.Context) error {
			var runErr error
			if incoming.Deleted {
				pending, runErr = e.replicateDelete(ctx, id, incoming, meta, existing)
			} else {
				pending, runErr = e.replicatePut(ctx, id, incoming, meta, body, existing)
			}
			return runErr
		}

		if e.tx != nil {
			err = e.tx.InTransaction(ctx, run)
		} else {
			err = run(ctx)
		}

		if err == nil {
			for _, n := range pending {
				if pubErr := e.bus.Publish(ctx, n); pubErr != nil {
					e.log.ErrorContext(ctx, "replication conflict notification delivery failed", "item_id", id, "error", pubErr)
				}
			}
			return nil
		}

		if !errors.Is(err, ErrStorageConflict) {
			return err
		}
		lastErr = err
		e.log.Debug("storage conflict, rereading and retrying replicate", "item_id", id, "attempt", attempt+1)
	}
	return fmt.Errorf("replicate: %s exhausted %d retries: %w", id, e.cfg.MaxRetries, lastErr)
}

func (e *ReplicationBehavior[B]) replicatePut(ctx context.Context, id string, incoming VersionMeta, meta Metadata, body B, existing *Existing[B]) ([]notify.ConflictNotification, error) {
	if existing == nil {
		if err := e.caps.AddWithoutConflict(ctx, id, nil, meta, body); err != nil {
			return nil, fmt.Errorf("replicate: add new %s: %w", id, err)
		}
		return nil, nil
	}

	if incoming.MissingVersion || incoming.Current.Source == "" {
		e.log.Warn("rejecting put with malformed replication metadata", "item_id", id, "source", incoming.Current.Source)
		return nil, fmt.Errorf("%w: incoming update to existing item %s has no replication source or version", ErrMalformedMetadata, id)
	}

	local := ParseVersionMeta(existing.Meta)
	relation := e.historian.Relation(incoming, local)
	if relation == IdenticalReplay {
		e.log.Debug("suppressing identical replayed put", "item_id", id, "source", incoming.Current.Source, "version", incoming.Current.Version)
		return nil, nil
	}

	parentIsConflicted := local.Conflict

	if !parentIsConflicted && relation == IncomingDescendsLocal {
		e.log.Debug("fast-forwarding put", "item_id", id, "source", incoming.Current.Source, "version", incoming.Current.Version)
		etag := e.etagUnlessDeleted(existing)
		if err := e.caps.AddWithoutConflict(ctx, id, etag, meta, body); err != nil {
			return nil, fmt.Errorf("replicate: fast-forward put %s: %w", id, err)
		}
		return nil, nil
	}

	incomingContender := Contender[B]{Version: incoming.Current, Meta: meta, Body: body}
	existingContender := Contender[B]{Version: local.Current, Meta: existing.Meta, Body: existing.Body}

	if resolution, ok := e.resolvers.TryResolve(ctx, id, incomingContender, existingContender); ok {
		if resolution.WantsDelete() {
			if err := e.caps.DeleteItem(ctx, id, nil); err != nil {
				return nil, fmt.Errorf("replicate: delete %s on resolver request: %w", id, err)
			}
			if err := e.caps.MarkAsDeleted(ctx, id, resolution.Meta); err != nil {
				return nil, fmt.Errorf("replicate: tombstone %s on resolver request: %w", id, err)
			}
			return nil, nil
		}
		etag := e.etagUnlessDeleted(existing)
		if !e.cfg.Opaque {
			if err := e.triggers.OnResolvedPut(ctx, id, resolution.Meta, resolution.Body); err != nil {
				return nil, err
			}
		}
		if err := e.caps.AddWithoutConflict(ctx, id, etag, resolution.Meta, resolution.Body); err != nil {
			return nil, fmt.Errorf("replicate: put resolved %s: %w", id, err)
		}
		return nil, nil
	}

	return e.materializeConflict(ctx, id, incoming, meta, body, local, existing, notify.Put)
}

func (e *ReplicationBehavior[B]) replicateDelete(ctx context.Context, id string, incoming VersionMeta, meta Metadata, existing *Existing[B]) ([]notify.ConflictNotification, error) {
	if existing == nil {
		return nil, nil
	}

	local := ParseVersionMeta(existing.Meta)
	relation := e.historian.Relation(incoming, local)
	if relation == IdenticalReplay {
		e.log.Debug("suppressing identical replayed delete", "item_id", id, "source", incoming.Current.Source, "version", incoming.Current.Version)
		return nil, nil
	}

	if existing.Deleted && local.Deleted {
		merged := incoming
		merged.History = MergeHistories(local.History, incoming.History, e.cfg.HistoryMax)
		newMeta := merged.WithVersion(meta)
		if err := e.caps.MarkAsDeleted(ctx, id, newMeta); err != nil {
			return nil, fmt.Errorf("replicate: merge tombstone history %s: %w", id, err)
		}
		return nil, nil
	}

	if relation == IncomingDescendsLocal {
		e.log.Debug("fast-forwarding delete", "item_id", id, "source", incoming.Current.Source, "version", incoming.Current.Version)
		if err := e.caps.DeleteItem(ctx, id, e.etagUnlessDeleted(existing)); err != nil {
			return nil, fmt.Errorf("replicate: delete %s: %w", id, err)
		}
		if err := e.caps.MarkAsDeleted(ctx, id, meta); err != nil {
			return nil, fmt.Errorf("replicate: tombstone %s: %w", id, err)
		}
		return nil, nil
	}

	incomingContender := Contender[B]{Version: incoming.Current, Meta: meta}
	existingContender := Contender[B]{Version: local.Current, Meta: existing.Meta, Body: existing.Body}

	if resolution, ok := e.resolvers.TryResolve(ctx, id, incomingContender, existingContender); ok {
		if resolution.WantsDelete() {
			if err := e.caps.DeleteItem(ctx, id, nil); err != nil {
				return nil, fmt.Errorf("replicate: delete %s on resolver request: %w", id, err)
			}
			if err := e.caps.MarkAsDeleted(ctx, id, resolution.Meta); err != nil {
				return nil, fmt.Errorf("replicate: tombstone %s on resolver request: %w", id, err)
			}
			return nil, nil
		}
		if err := e.caps.AddWithoutConflict(ctx, id, e.etagUnlessDeleted(existing), resolution.Meta, resolution.Body); err != nil {
			return nil, fmt.Errorf("replicate: put resolved over delete %s: %w", id, err)
		}
		return nil, nil
	}

	var zero B
	return e.materializeConflict(ctx, id, incoming, meta, zero, local, existing, notify.Delete)
}

// materializeConflict implements put-path step 6 / delete-path step 6:
// demote the current record (if not already a conflict placeholder) and
// the incoming version into sibling artifacts, and return the notification
// to publish once the writes have committed.
func (e *ReplicationBehavior[B]) materializeConflict(ctx context.Context, id string, incoming VersionMeta, incomingMeta Metadata, incomingBody B, local VersionMeta, existing *Existing[B], op notify.OperationType) ([]notify.ConflictNotification, error) {
	contenderMeta := incomingMeta.Clone()
	contenderMeta[KeyReplicationConflictDo] = true
	contenderMeta[KeyReplicationConflict] = true

	newArtifactID := ArtifactID(id, incoming.Current.Source)
	_, err := e.conflicts.SaveContender(ctx, id, incoming.Current, contenderMeta, incomingBody)
	if err != nil {
		return nil, err
	}

	var created CreatedConflict
	if local.Conflict {
		priorIDs, artErr := parseArtifactIDs(existing.Meta)
		if artErr != nil {
			return nil, artErr
		}
		ids, appendErr := e.conflicts.AppendToExistingConflict(ctx, id, incoming.Current, contenderMeta, incomingBody, priorIDs)
		if appendErr != nil {
			return nil, appendErr
		}
		created = CreatedConflict{ArtifactIDs: ids}
		if err := e.caps.AddWithoutConflict(ctx, id, nil, withArtifactList(existing.Meta, ids), existing.Body); err != nil {
			return nil, fmt.Errorf("replicate: update conflict parent %s: %w", id, err)
		}
		rec, rerr := e.caps.TryGetExisting(ctx, id)
		if rerr != nil {
			return nil, fmt.Errorf("replicate: reload conflict parent %s: %w", id, rerr)
		}
		if rec != nil {
			created.Etag = rec.Etag
		}
	} else {
		existingArtifactMeta := existing.Meta.Clone()
		existingArtifactMeta[KeyReplicationConflictDo] = true
		existingArtifactMeta[KeyReplicationConflict] = true
		existingArtifactID := ArtifactID(id, e.cfg.LocalReplicaTag)
		if _, err := e.caps.PutArtifact(ctx, existingArtifactID, existingArtifactMeta, existing.Body); err != nil {
			return nil, fmt.Errorf("replicate: save existing contender %s: %w", existingArtifactID, err)
		}
		artifactIDs := []string{existingArtifactID, newArtifactID}
		created, err = e.conflicts.CreateConflictParent(ctx, id, e.etagUnlessDeleted(existing), artifactIDs, e.zero)
		if err != nil {
			return nil, err
		}
	}

	return []notify.ConflictNotification{{
		ID:            id,
		Etag:          created.Etag,
		ItemType:      e.cfg.ItemType,
		OperationType: op,
		Conflicts:     created.ArtifactIDs,
	}}, nil
}

func (e *ReplicationBehavior[B]) etagUnlessDeleted(existing *Existing[B]) *string {
	if existing.Deleted {
		return nil
	}
	etag := existing.Etag
	return &etag
}

func parseArtifactIDs(meta Metadata) ([]string, error) {
	raw, ok := meta[KeyConflictArtifacts]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, errors.New("replicate: conflict artifact list entry is not a string")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: conflict artifact list has unexpected type %T", ErrMalformedMetadata, raw)
	}
}

func withArtifactList(meta Metadata, ids []string) Metadata {
	out := meta.Clone()
	out[KeyConflictArtifacts] = ids
	out[KeyReplicationConflict] = true
	return out
}
