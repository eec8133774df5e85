package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beadslog/replicator/internal/config"
	"github.com/beadslog/replicator/internal/replicate"
	"github.com/beadslog/replicator/internal/replicate/blobcaps"
	"github.com/beadslog/replicator/internal/replicate/issuecaps"
	"github.com/beadslog/replicator/internal/replicate/locks"
	"github.com/beadslog/replicator/internal/replicate/notify"
	"github.com/beadslog/replicator/internal/replicate/rlog"
	"github.com/beadslog/replicator/internal/replicate/sqlitestore"
)

var replicateApplyKind string

// removeConflictOnPutTrigger is the remove-conflict-on-put trigger this CLI
// registers for documents. TriggerBridge runs it before a resolver-produced
// put is written; it changes nothing and only reports the put on stdout.
type removeConflictOnPutTrigger struct{}

func (removeConflictOnPutTrigger) Name() string { return "remove-conflict-on-put" }

func (removeConflictOnPutTrigger) OnPut(_ context.Context, id string, meta replicate.Metadata, _ []byte) error {
	fmt.Fprintf(os.Stdout, "remove-conflict-on-put trigger ran for resolved put of %s\n", id)
	return nil
}

var replicateApplyCmd = &cobra.Command{
	Use:     "apply <id> <meta.json> <body.json>",
	GroupID: "replicate",
	Short:   "Replay one incoming (id, metadata, body) item through the replication engine",
	Long: `bd replicate apply feeds a single captured item through the same
decision logic a live replication transport would invoke: fast-forward,
identical-replay suppression, resolver offering, and conflict
materialization into <id>/conflicts/<tag> artifacts.

meta.json must be a JSON object; reserved keys such as
@replication-source and @replication-version drive the decision. body.json
is passed through verbatim as the new body, to the documents table (or,
with --kind attachment, to the attachments table).

Exit codes:
  0 - applied without error (a conflict may still have been recorded)
  1 - the item was rejected (malformed metadata, storage failure)`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, metaPath, bodyPath := args[0], args[1], args[2]

		metaBytes, err := os.ReadFile(metaPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", metaPath, err)
		}
		var meta replicate.Metadata
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return fmt.Errorf("parse %s: %w", metaPath, err)
		}

		body, err := os.ReadFile(bodyPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", bodyPath, err)
		}

		dbPath := config.GetString("db")
		if dbPath == "" {
			dbPath = ".replicator/replicator.db"
		}
		store, err := sqlitestore.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", dbPath, err)
		}
		defer store.Close()

		repCfg := config.LoadReplicationConfig()
		bus := notify.New(rlog.Discard())
		bus.Subscribe(func(_ context.Context, n notify.ConflictNotification) error {
			fmt.Fprintf(os.Stdout, "conflict recorded: id=%s etag=%s artifacts=%v\n", n.ID, n.Etag, n.Conflicts)
			return nil
		})

		resolvers := replicate.NewResolverChain[[]byte](rlog.Discard(), replicate.FieldResolver{}, replicate.TombstoneResolver{TTL: repCfg.TombstoneTTL})

		var caps replicate.Capabilities[[]byte]
		var itemType notify.ItemType
		var opaque bool
		var triggers *replicate.TriggerBridge[[]byte]
		switch replicateApplyKind {
		case "attachment":
			caps = blobcaps.New(store)
			itemType = notify.Attachment
			opaque = true
			triggers, err = replicate.NewTriggerBridge[[]byte](nil, true)
		default:
			caps = issuecaps.New(store)
			itemType = notify.Document
			opaque = false
			triggers, err = replicate.NewTriggerBridge[[]byte](removeConflictOnPutTrigger{}, false)
		}
		if err != nil {
			return fmt.Errorf("configure replicate apply: %w", err)
		}

		engine := replicate.New(
			replicate.Config{
				LocalReplicaTag: repCfg.LocalReplicaTag,
				HistoryMax:      repCfg.HistoryMax,
				MaxRetries:      repCfg.RetryMax,
				ItemType:        itemType,
				Opaque:          opaque,
			},
			caps,
			resolvers,
			triggers,
			bus,
			locks.New(),
			store,
			rlog.Discard(),
		)

		if err := engine.Replicate(cmd.Context(), id, meta, body); err != nil {
			return fmt.Errorf("replicate %s: %w", id, err)
		}
		fmt.Fprintf(os.Stdout, "applied %s\n", id)
		return nil
	},
}

var replicateCmd = &cobra.Command{
	Use:     "replicate",
	GroupID: "replicate",
	Short:   "Replication engine operations",
}

func init() {
	replicateApplyCmd.Flags().StringVar(&replicateApplyKind, "kind", "document", "item kind to replay: document or attachment")
	replicateCmd.AddCommand(replicateApplyCmd)
	rootCmd.AddCommand(replicateCmd)
}
