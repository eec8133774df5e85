package replicate

import (
	"context"
	"fmt"
	"sync"
)

// memCaps is a minimal in-memory Capabilities[[]byte] used by the engine's
// own tests. It assigns a fresh monotonic etag on every write. MarkAsDeleted
// keeps the record as a tombstone, which TryGetExisting still reports as
// present; only DeleteItem removes a record.
type memCaps struct {
	mu      sync.Mutex
	records map[string]memRecord
	seq     int
}

type memRecord struct {
	meta    Metadata
	body    []byte
	etag    string
	deleted bool
}

func newMemCaps() *memCaps {
	return &memCaps{records: make(map[string]memRecord)}
}

func (c *memCaps) nextEtag() string {
	c.seq++
	return fmt.Sprintf("etag-%d", c.seq)
}

func (c *memCaps) TryGetExisting(_ context.Context, id string) (*Existing[[]byte], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, nil
	}
	return &Existing[[]byte]{Meta: rec.meta, Body: rec.body, Etag: rec.etag, Deleted: rec.deleted}, nil
}

func (c *memCaps) AddWithoutConflict(_ context.Context, id string, etag *string, meta Metadata, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, exists := c.records[id]
	if etag != nil {
		if !exists || rec.etag != *etag {
			return ErrStorageConflict
		}
	}
	c.records[id] = memRecord{meta: meta, body: body, etag: c.nextEtag()}
	return nil
}

func (c *memCaps) DeleteItem(_ context.Context, id string, etag *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, exists := c.records[id]
	if etag != nil {
		if !exists || rec.etag != *etag {
			return ErrStorageConflict
		}
	}
	delete(c.records, id)
	return nil
}

func (c *memCaps) MarkAsDeleted(_ context.Context, id string, meta Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = memRecord{meta: meta, etag: c.nextEtag(), deleted: true}
	return nil
}

func (c *memCaps) PutArtifact(_ context.Context, artifactID string, meta Metadata, body []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	etag := c.nextEtag()
	c.records[artifactID] = memRecord{meta: meta, body: body, etag: etag}
	return etag, nil
}
