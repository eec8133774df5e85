// Package notify implements the pub/sub bus the replication engine posts
// conflict notifications to. It is the concrete "in-process pub/sub bus"
// collaborator named, but not specified, by the engine.
package notify

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/beadslog/replicator/internal/replicate/rlog"
)

// ItemType distinguishes the two item kinds the engine is polymorphic over.
type ItemType int

const (
	Document ItemType = iota
	Attachment
)

func (t ItemType) String() string {
	if t == Attachment {
		return "attachment"
	}
	return "document"
}

// OperationType is the replication operation that produced the conflict.
type OperationType int

const (
	Put OperationType = iota
	Delete
)

func (t OperationType) String() string {
	if t == Delete {
		return "delete"
	}
	return "put"
}

// ConflictNotification is posted once per materialized conflict, after the
// write(s) that created it have committed.
type ConflictNotification struct {
	ID            string
	Etag          string
	ItemType      ItemType
	OperationType OperationType
	Conflicts     []string
}

// Subscriber receives a ConflictNotification. Subscribers run concurrently
// with each other; a slow or failing subscriber never blocks the others.
type Subscriber func(ctx context.Context, n ConflictNotification) error

// Bus is an append-only, thread-safe fan-out point. The zero value is not
// usable; construct with New.
type Bus struct {
	subscribers []Subscriber
	log         rlog.Logger
}

// New creates a Bus that logs subscriber failures through log.
func New(log rlog.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers a subscriber. Intended to be called at startup;
// subscribers are read-only after that, mirroring the resolver chain and
// trigger registry.
func (b *Bus) Subscribe(s Subscriber) {
	b.subscribers = append(b.subscribers, s)
}

// Publish fans n out to every subscriber concurrently and waits for all of
// them, returning the first error encountered (if any) after every
// subscriber has had a chance to run.
func (b *Bus) Publish(ctx context.Context, n ConflictNotification) error {
	if len(b.subscribers) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range b.subscribers {
		s := s
		g.Go(func() error {
			if err := s(gctx, n); err != nil {
				b.log.Error("replication conflict subscriber failed", "item_id", n.ID, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
