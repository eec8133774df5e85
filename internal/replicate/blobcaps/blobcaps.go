// Package blobcaps wires the replication engine's Capabilities[[]byte]
// contract to the attachments table: bodies are raw, opaque blobs, so
// callers construct the engine with Config.Opaque set true, which keeps
// the engine from calling TriggerBridge.OnResolvedPut for this item kind.
package blobcaps

import (
	"github.com/beadslog/replicator/internal/replicate"
	"github.com/beadslog/replicator/internal/replicate/sqlitestore"
)

const table = "attachments"

// New returns the attachment-blob Capabilities implementation backed by
// store's attachments table.
func New(store *sqlitestore.Store) replicate.Capabilities[[]byte] {
	return sqlitestore.New(store, table)
}
