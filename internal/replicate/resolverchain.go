package replicate

import (
	"context"
	"fmt"

	"github.com/beadslog/replicator/internal/replicate/rlog"
)

// Resolver attempts to collapse one incoming version and the current local
// version of an item into a single merged result. A resolver must be
// side-effect free: it reads the two sides it is given and returns a
// verdict, never touching storage itself. Returning ok=false means "not my
// concern, try the next resolver," not "resolution failed."
type Resolver[B any] interface {
	Name() string
	TryResolve(ctx context.Context, id string, incoming, existing Contender[B]) (resolved Resolution[B], ok bool, err error)
}

// Contender is one side of a conflict as seen by a resolver: its metadata,
// body, and which replica produced it.
type Contender[B any] struct {
	Version Version
	Meta    Metadata
	Body    B
}

// Resolution is what a resolver hands back when it successfully collapses
// a conflict. A resolver requesting deletion sets KeyResolverDeleteMarker
// on Meta rather than using a separate field, matching the reserved-key
// contract.
type Resolution[B any] struct {
	Meta Metadata
	Body B
}

// WantsDelete reports whether r asked the engine to materialize its
// resolution as a delete rather than a put.
func (r Resolution[B]) WantsDelete() bool {
	v, _ := r.Meta[KeyResolverDeleteMarker].(bool)
	return v
}

// ResolverChain tries each registered resolver in order and commits to the
// first one that claims the conflict. A resolver that panics or returns an
// error is treated as having declined, and the failure is logged at error
// level rather than aborting the chain -- one misbehaving resolver should
// never block the ones after it, or leave the item stuck as an
// unresolved conflict forever.
type ResolverChain[B any] struct {
	resolvers []Resolver[B]
	log       rlog.Logger
}

// NewResolverChain builds a chain that tries resolvers in the given order.
func NewResolverChain[B any](log rlog.Logger, resolvers ...Resolver[B]) *ResolverChain[B] {
	return &ResolverChain[B]{resolvers: resolvers, log: log}
}

// TryResolve runs the chain against the incoming and existing contenders,
// returning the first resolver's successful verdict, or ok=false if every
// resolver declined.
func (c *ResolverChain[B]) TryResolve(ctx context.Context, id string, incoming, existing Contender[B]) (resolved Resolution[B], ok bool) {
	for _, r := range c.resolvers {
		verdict, claimed, err := c.invoke(ctx, id, r, incoming, existing)
		if err != nil {
			c.log.ErrorContext(ctx, "replication resolver failed, trying next", "resolver", r.Name(), "item_id", id, "error", err)
			continue
		}
		if claimed {
			return verdict, true
		}
	}
	return Resolution[B]{}, false
}

func (c *ResolverChain[B]) invoke(ctx context.Context, id string, r Resolver[B], incoming, existing Contender[B]) (verdict Resolution[B], ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("resolver %s panicked: %v", r.Name(), p)
		}
	}()
	return r.TryResolve(ctx, id, incoming, existing)
}
