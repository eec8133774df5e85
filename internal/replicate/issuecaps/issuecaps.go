// Package issuecaps wires the replication engine's Capabilities[[]byte]
// contract to the documents table: bodies are the JSON encoding of
// merge.Issue, kept opaque to the capability layer itself and decoded only
// by the resolvers that need typed fields.
package issuecaps

import (
	"github.com/beadslog/replicator/internal/replicate"
	"github.com/beadslog/replicator/internal/replicate/sqlitestore"
)

const table = "documents"

// New returns the issue-document Capabilities implementation backed by
// store's documents table.
func New(store *sqlitestore.Store) replicate.Capabilities[[]byte] {
	return sqlitestore.New(store, table)
}
