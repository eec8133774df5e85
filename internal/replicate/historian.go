package replicate

// Relation describes the causal relationship between two versions of the
// same item, as computed by Historian. It is the only output of the
// comparison; the engine never inspects version vectors directly.
type Relation int

const (
	// Concurrent means neither version's history dominates the other's --
	// a genuine conflict.
	Concurrent Relation = iota
	// IdenticalReplay means both sides carry the same (source, version)
	// pair: this is a duplicate delivery of an already-applied edit.
	IdenticalReplay
	// IncomingDescendsLocal means incoming causally dominates local: a
	// fast-forward update/delete.
	IncomingDescendsLocal
	// LocalDescendsIncoming means local already dominates incoming: the
	// incoming edit is stale and has nothing new to contribute.
	LocalDescendsIncoming
)

func (r Relation) String() string {
	switch r {
	case IdenticalReplay:
		return "IdenticalReplay"
	case IncomingDescendsLocal:
		return "IncomingDescendsLocal"
	case LocalDescendsIncoming:
		return "LocalDescendsIncoming"
	default:
		return "Concurrent"
	}
}

// Historian is a pure, stateless predicate over metadata. It holds no state
// of its own; Relation is a function, not a method with receiver state, so
// a zero-value Historian is always ready to use.
type Historian struct{}

// Relation computes the causal relationship between incoming and local.
//
// A missing @replication-version on either side disqualifies any
// descendance claim -- the pair is reported Concurrent unless the two
// (source, version) pairs are otherwise identical (which can't happen when
// a version is missing, so in practice a missing version always yields
// Concurrent).
func (Historian) Relation(incoming, local VersionMeta) Relation {
	if !incoming.MissingVersion && !local.MissingVersion && incoming.Current == local.Current {
		return IdenticalReplay
	}
	if incoming.MissingVersion || local.MissingVersion {
		return Concurrent
	}

	incomingSet := append(append([]Version{}, incoming.History...), incoming.Current)
	localSet := append(append([]Version{}, local.History...), local.Current)

	incomingDominates := dominates(incomingSet, localSet)
	localDominates := dominates(localSet, incomingSet)

	switch {
	case incomingDominates && !localDominates:
		return IncomingDescendsLocal
	case localDominates && !incomingDominates:
		return LocalDescendsIncoming
	default:
		return Concurrent
	}
}

// dominates reports whether every (source, version) pair in other is
// present in set with an equal-or-greater version for that source.
func dominates(set, other []Version) bool {
	maxBySource := make(map[string]int64, len(set))
	for _, v := range set {
		if cur, ok := maxBySource[v.Source]; !ok || v.Version > cur {
			maxBySource[v.Source] = v.Version
		}
	}
	for _, v := range other {
		cur, ok := maxBySource[v.Source]
		if !ok || cur < v.Version {
			return false
		}
	}
	return true
}
