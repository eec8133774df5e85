package replicate

import (
	"context"
	"fmt"
)

// ConflictStore materializes concurrent, irreconcilable versions of an item
// as sibling artifacts hanging off a conflict-placeholder parent, using the
// naming scheme <id>/conflicts/<replicaTag>. It never decides whether a
// conflict exists -- that is the engine's job, informed by Historian -- it
// only knows how to record one once the engine has decided.
type ConflictStore[B any] struct {
	caps Capabilities[B]
}

// NewConflictStore builds a ConflictStore backed by caps.
func NewConflictStore[B any](caps Capabilities[B]) *ConflictStore[B] {
	return &ConflictStore[B]{caps: caps}
}

// SaveContender writes body/meta as a conflict artifact for id under the
// version's source tag, without touching id itself, and returns the
// artifact's etag. The engine uses it for the newly arriving concurrent
// version; the side that was already current is demoted by the engine
// itself, under the local replica tag.
func (s *ConflictStore[B]) SaveContender(ctx context.Context, id string, version Version, meta Metadata, body B) (etag string, err error) {
	artifactID := ArtifactID(id, version.Source)
	etag, err = s.caps.PutArtifact(ctx, artifactID, meta, body)
	if err != nil {
		return "", fmt.Errorf("replicate: save conflict contender %s: %w", artifactID, err)
	}
	return etag, nil
}

// CreateConflictParent writes the conflict-placeholder record at id itself:
// an empty-bodied marker carrying the reserved conflict flag and the list
// of artifact ids it now fronts for. zero is the caller-supplied zero
// value of B to use as the placeholder body (the engine passes its zero
// B, a nil byte slice for both documents and attachments).
func (s *ConflictStore[B]) CreateConflictParent(ctx context.Context, id string, existingEtag *string, artifactIDs []string, zero B) (CreatedConflict, error) {
	meta := Metadata{
		KeyReplicationConflict: true,
		KeyConflictArtifacts:   artifactIDs,
	}
	if err := s.caps.AddWithoutConflict(ctx, id, existingEtag, meta, zero); err != nil {
		return CreatedConflict{}, fmt.Errorf("replicate: create conflict parent %s: %w", id, err)
	}
	rec, err := s.caps.TryGetExisting(ctx, id)
	if err != nil {
		return CreatedConflict{}, fmt.Errorf("replicate: reload conflict parent %s: %w", id, err)
	}
	if rec == nil {
		return CreatedConflict{}, fmt.Errorf("replicate: conflict parent %s vanished after write", id)
	}
	return CreatedConflict{Etag: rec.Etag, ArtifactIDs: artifactIDs}, nil
}

// AppendToExistingConflict adds one more contender to an already-materialized
// conflict: it writes the new artifact and returns the parent's updated
// artifact list (priorArtifactIDs plus the new id, unless already present).
// It does not write the parent record itself; the engine rewrites the
// parent with the returned list, without an etag check.
func (s *ConflictStore[B]) AppendToExistingConflict(ctx context.Context, id string, version Version, meta Metadata, body B, priorArtifactIDs []string) ([]string, error) {
	artifactID := ArtifactID(id, version.Source)
	if _, err := s.caps.PutArtifact(ctx, artifactID, meta, body); err != nil {
		return nil, fmt.Errorf("replicate: append conflict contender %s: %w", artifactID, err)
	}
	for _, existing := range priorArtifactIDs {
		if existing == artifactID {
			return priorArtifactIDs, nil
		}
	}
	return append(append([]string{}, priorArtifactIDs...), artifactID), nil
}
