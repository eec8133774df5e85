package replicate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beadslog/replicator/internal/merge"
)

func issueBody(t *testing.T, issue merge.Issue) []byte {
	t.Helper()
	body, err := json.Marshal(issue)
	require.NoError(t, err)
	return body
}

func TestFieldResolver_MergesConcurrentEdits(t *testing.T) {
	incoming := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Title: "from Y", UpdatedAt: "2024-01-02T00:00:00Z"})}
	existing := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Title: "from X", UpdatedAt: "2024-01-01T00:00:00Z"})}

	resolved, ok, err := FieldResolver{}.TryResolve(context.Background(), "a", incoming, existing)
	require.NoError(t, err)
	require.True(t, ok)

	var merged merge.Issue
	require.NoError(t, json.Unmarshal(resolved.Body, &merged))
	assert.Equal(t, "from Y", merged.Title)
}

func TestFieldResolver_DeclinesNonJSONBodies(t *testing.T) {
	incoming := Contender[[]byte]{Body: []byte("not json")}
	existing := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a"})}

	_, ok, err := FieldResolver{}.TryResolve(context.Background(), "a", incoming, existing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFieldResolver_BothTombstonesPicksLaterDeletedAt(t *testing.T) {
	incoming := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Status: merge.StatusTombstone, DeletedAt: "2024-02-01T00:00:00Z"})}
	existing := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Status: merge.StatusTombstone, DeletedAt: "2024-01-01T00:00:00Z"})}

	resolved, ok, err := FieldResolver{}.TryResolve(context.Background(), "a", incoming, existing)
	require.NoError(t, err)
	require.True(t, ok)

	var merged merge.Issue
	require.NoError(t, json.Unmarshal(resolved.Body, &merged))
	assert.Equal(t, "2024-02-01T00:00:00Z", merged.DeletedAt)
}

func TestTombstoneResolver_ExpiredTombstoneLosesToLiveEdit(t *testing.T) {
	r := TombstoneResolver{TTL: time.Hour}
	longAgo := time.Now().Add(-48 * time.Hour).Format(time.RFC3339)

	incoming := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Title: "resurrected"})}
	existing := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Status: merge.StatusTombstone, DeletedAt: longAgo})}

	resolved, ok, err := r.TryResolve(context.Background(), "a", incoming, existing)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, incoming.Body, resolved.Body)
}

func TestTombstoneResolver_FreshTombstoneWinsOverLiveEdit(t *testing.T) {
	r := TombstoneResolver{TTL: 24 * time.Hour}
	recentlyDeleted := time.Now().Add(-time.Hour).Format(time.RFC3339)

	incoming := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Title: "edit"})}
	existing := Contender[[]byte]{
		Meta: Metadata{"@replication-source": "replica-b"},
		Body: issueBody(t, merge.Issue{ID: "a", Status: merge.StatusTombstone, DeletedAt: recentlyDeleted}),
	}

	resolved, ok, err := r.TryResolve(context.Background(), "a", incoming, existing)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resolved.WantsDelete())
	assert.Equal(t, "replica-b", resolved.Meta["@replication-source"])
}

func TestTombstoneResolver_BothLiveDeclines(t *testing.T) {
	r := TombstoneResolver{TTL: 24 * time.Hour}

	incoming := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Title: "from incoming"})}
	existing := Contender[[]byte]{Body: issueBody(t, merge.Issue{ID: "a", Title: "from existing"})}

	_, ok, err := r.TryResolve(context.Background(), "a", incoming, existing)
	require.NoError(t, err)
	assert.False(t, ok)
}
