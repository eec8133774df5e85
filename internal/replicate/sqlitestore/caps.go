package sqlitestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/beadslog/replicator/internal/replicate"
)

// Caps is the shared Capabilities[[]byte] implementation backing both
// issuecaps and blobcaps: table picks which item kind's rows it reads and
// writes, and the body representation is always the raw bytes the caller
// handed in -- JSON for documents, opaque blobs for attachments.
type Caps struct {
	store *Store
	table string
}

// New returns a Capabilities[[]byte] addressing table within store.
func New(store *Store, table string) *Caps {
	return &Caps{store: store, table: table}
}

var _ replicate.Capabilities[[]byte] = (*Caps)(nil)

func (c *Caps) TryGetExisting(ctx context.Context, id string) (*replicate.Existing[[]byte], error) {
	row, err := c.store.Get(ctx, c.table, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", c.table, id, err)
	}
	meta, err := decodeMeta(row.MetaJSON)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", c.table, id, replicate.ErrMalformedMetadata)
	}
	return &replicate.Existing[[]byte]{
		Meta:    meta,
		Body:    row.Body,
		Etag:    row.Etag,
		Deleted: row.Deleted,
	}, nil
}

func (c *Caps) AddWithoutConflict(ctx context.Context, id string, etag *string, meta replicate.Metadata, body []byte) error {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", c.table, id, err)
	}
	_, err = c.store.Upsert(ctx, c.table, id, metaJSON, body, false, etag)
	return translateWriteErr(c.table, id, err)
}

func (c *Caps) DeleteItem(ctx context.Context, id string, etag *string) error {
	return translateWriteErr(c.table, id, c.store.Delete(ctx, c.table, id, etag))
}

func (c *Caps) MarkAsDeleted(ctx context.Context, id string, meta replicate.Metadata) error {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", c.table, id, err)
	}
	// Tombstones overwrite unconditionally: the caller has already
	// resolved this against the current record (it read it to build meta),
	// and re-deriving its etag here would just reintroduce the race the
	// per-id lock table already closes.
	_, err = c.store.Upsert(ctx, c.table, id, metaJSON, nil, true, nil)
	return translateWriteErr(c.table, id, err)
}

func (c *Caps) PutArtifact(ctx context.Context, artifactID string, meta replicate.Metadata, body []byte) (string, error) {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return "", fmt.Errorf("%s/%s: %w", c.table, artifactID, err)
	}
	etag, err := c.store.Upsert(ctx, c.table, artifactID, metaJSON, body, false, nil)
	if err != nil {
		return "", translateWriteErr(c.table, artifactID, err)
	}
	return etag, nil
}

func translateWriteErr(table, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEtagMismatch):
		return fmt.Errorf("%s/%s: %w", table, id, replicate.ErrStorageConflict)
	default:
		return fmt.Errorf("%s/%s: %w", table, id, err)
	}
}

func decodeMeta(raw string) (replicate.Metadata, error) {
	var meta replicate.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func encodeMeta(meta replicate.Metadata) (string, error) {
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
