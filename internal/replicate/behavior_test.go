package replicate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beadslog/replicator/internal/replicate/notify"
	"github.com/beadslog/replicator/internal/replicate/rlog"
)

type recordingTrigger struct {
	calls []string
}

func (t *recordingTrigger) Name() string { return "test-remove-conflict-on-put" }

func (t *recordingTrigger) OnPut(_ context.Context, id string, _ Metadata, _ []byte) error {
	t.calls = append(t.calls, id)
	return nil
}

type alwaysDeclineResolver struct{}

func (alwaysDeclineResolver) Name() string { return "decline" }
func (alwaysDeclineResolver) TryResolve(context.Context, string, Contender[[]byte], Contender[[]byte]) (Resolution[[]byte], bool, error) {
	return Resolution[[]byte]{}, false, nil
}

type acceptAndEchoIncomingResolver struct{}

func (acceptAndEchoIncomingResolver) Name() string { return "accept" }
func (acceptAndEchoIncomingResolver) TryResolve(_ context.Context, _ string, incoming, _ Contender[[]byte]) (Resolution[[]byte], bool, error) {
	return Resolution[[]byte]{Meta: incoming.Meta.Clone(), Body: incoming.Body}, true, nil
}

type deleteResolver struct{}

func (deleteResolver) Name() string { return "delete" }
func (deleteResolver) TryResolve(_ context.Context, _ string, incoming, _ Contender[[]byte]) (Resolution[[]byte], bool, error) {
	meta := incoming.Meta.Clone()
	meta[KeyResolverDeleteMarker] = true
	return Resolution[[]byte]{Meta: meta}, true, nil
}

type captureBus struct {
	received []notify.ConflictNotification
}

func newTestBehavior(t *testing.T, resolvers *ResolverChain[[]byte]) (*ReplicationBehavior[[]byte], *memCaps, *captureBus) {
	t.Helper()
	caps := newMemCaps()
	bus := notify.New(rlog.Discard())
	captured := &captureBus{}
	bus.Subscribe(func(_ context.Context, n notify.ConflictNotification) error {
		captured.received = append(captured.received, n)
		return nil
	})
	if resolvers == nil {
		resolvers = NewResolverChain[[]byte](rlog.Discard())
	}
	trigger, err := NewTriggerBridge[[]byte](&recordingTrigger{}, false)
	require.NoError(t, err)
	cfg := Config{LocalReplicaTag: "L", HistoryMax: DefaultHistoryMax, ItemType: notify.Document}
	behavior := New[[]byte](cfg, caps, resolvers, trigger, bus, nil, nil, rlog.Discard())
	return behavior, caps, captured
}

func versionMeta(source string, version int64, history []Version) Metadata {
	return Metadata{
		KeyReplicationSource:  source,
		KeyReplicationVersion: version,
		KeyReplicationHistory: history,
	}
}

func TestReplicate_FastForwardPut(t *testing.T) {
	b, caps, bus := newTestBehavior(t, nil)
	ctx := context.Background()

	require.NoError(t, caps.AddWithoutConflict(ctx, "a", nil, versionMeta("X", 1, nil), []byte(`{"n":1}`)))

	meta := versionMeta("X", 2, []Version{{"X", 1}})
	require.NoError(t, b.Replicate(ctx, "a", meta, []byte(`{"n":2}`)))

	rec, err := caps.TryGetExisting(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(rec.Body))
	assert.Empty(t, bus.received)
}

func TestReplicate_IdenticalReplaySuppressed(t *testing.T) {
	b, caps, bus := newTestBehavior(t, nil)
	ctx := context.Background()

	meta := versionMeta("X", 1, nil)
	require.NoError(t, caps.AddWithoutConflict(ctx, "a", nil, meta, []byte(`{"n":1}`)))

	require.NoError(t, b.Replicate(ctx, "a", meta, []byte(`{"n":1}`)))

	rec, err := caps.TryGetExisting(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(rec.Body))
	assert.Empty(t, bus.received)
}

func TestReplicate_ConcurrentConflictNoResolver(t *testing.T) {
	b, caps, bus := newTestBehavior(t, nil)
	ctx := context.Background()

	require.NoError(t, caps.AddWithoutConflict(ctx, "a", nil, versionMeta("X", 1, nil), []byte(`{"n":1}`)))

	incoming := versionMeta("Y", 1, nil)
	require.NoError(t, b.Replicate(ctx, "a", incoming, []byte(`{"n":2}`)))

	localArtifact, err := caps.TryGetExisting(ctx, ArtifactID("a", "L"))
	require.NoError(t, err)
	require.NotNil(t, localArtifact)
	assert.Equal(t, `{"n":1}`, string(localArtifact.Body))

	remoteArtifact, err := caps.TryGetExisting(ctx, ArtifactID("a", "Y"))
	require.NoError(t, err)
	require.NotNil(t, remoteArtifact)
	assert.Equal(t, `{"n":2}`, string(remoteArtifact.Body))

	parent, err := caps.TryGetExisting(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, parent)
	require.Len(t, bus.received, 1)
	assert.Equal(t, notify.Put, bus.received[0].OperationType)
	assert.ElementsMatch(t, []string{ArtifactID("a", "L"), ArtifactID("a", "Y")}, bus.received[0].Conflicts)
}

func TestReplicate_ResolverAcceptsWithDelete(t *testing.T) {
	resolvers := NewResolverChain[[]byte](rlog.Discard(), deleteResolver{})
	b, caps, bus := newTestBehavior(t, resolvers)
	ctx := context.Background()

	require.NoError(t, caps.AddWithoutConflict(ctx, "a", nil, versionMeta("X", 1, nil), []byte(`{"n":1}`)))

	incoming := versionMeta("Y", 1, nil)
	require.NoError(t, b.Replicate(ctx, "a", incoming, []byte(`{"n":2}`)))

	rec, err := caps.TryGetExisting(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Deleted)
	assert.Empty(t, bus.received)

	_, err = caps.TryGetExisting(ctx, ArtifactID("a", "L"))
	require.NoError(t, err)
}

func TestReplicate_DeleteOverLocalDeleteMergesHistory(t *testing.T) {
	b, caps, bus := newTestBehavior(t, nil)
	ctx := context.Background()

	localHistory := []Version{{"X", 1}, {"X", 2}}
	localMeta := Metadata{
		KeyReplicationSource:  "X",
		KeyReplicationVersion: int64(2),
		KeyReplicationHistory: localHistory,
		KeyDeleteMarker:       true,
	}
	require.NoError(t, caps.MarkAsDeleted(ctx, "a", localMeta))

	incomingHistory := []Version{{"Y", 1}, {"X", 2}}
	incomingMeta := Metadata{
		KeyReplicationSource:  "Y",
		KeyReplicationVersion: int64(1),
		KeyReplicationHistory: incomingHistory,
		KeyDeleteMarker:       true,
	}
	require.NoError(t, b.Replicate(ctx, "a", incomingMeta, nil))

	rec, err := caps.TryGetExisting(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Deleted)
	vm := ParseVersionMeta(rec.Meta)
	assert.ElementsMatch(t, []Version{{"X", 1}, {"X", 2}, {"Y", 1}}, vm.History)
	assert.Empty(t, bus.received)
}

func TestReplicate_AppendToExistingConflict(t *testing.T) {
	b, caps, bus := newTestBehavior(t, nil)
	ctx := context.Background()

	require.NoError(t, caps.AddWithoutConflict(ctx, "a", nil, versionMeta("X", 1, nil), []byte(`{"n":1}`)))
	require.NoError(t, b.Replicate(ctx, "a", versionMeta("Y", 1, nil), []byte(`{"n":2}`)))
	bus.received = nil

	require.NoError(t, b.Replicate(ctx, "a", versionMeta("Z", 1, nil), []byte(`{"n":3}`)))

	zArtifact, err := caps.TryGetExisting(ctx, ArtifactID("a", "Z"))
	require.NoError(t, err)
	require.NotNil(t, zArtifact)
	assert.Equal(t, `{"n":3}`, string(zArtifact.Body))

	require.Len(t, bus.received, 1)
	assert.ElementsMatch(t,
		[]string{ArtifactID("a", "L"), ArtifactID("a", "Y"), ArtifactID("a", "Z")},
		bus.received[0].Conflicts)
}

func TestReplicate_EmptyLocalStateDeleteIsNoop(t *testing.T) {
	b, caps, bus := newTestBehavior(t, nil)
	ctx := context.Background()

	meta := versionMeta("X", 1, nil)
	meta[KeyDeleteMarker] = true
	require.NoError(t, b.Replicate(ctx, "missing", meta, nil))

	rec, err := caps.TryGetExisting(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, bus.received)
}

func TestReplicate_ResolverAcceptPutRunsTrigger(t *testing.T) {
	resolvers := NewResolverChain[[]byte](rlog.Discard(), acceptAndEchoIncomingResolver{})
	caps := newMemCaps()
	bus := notify.New(rlog.Discard())
	trigger := &recordingTrigger{}
	bridge, err := NewTriggerBridge[[]byte](trigger, false)
	require.NoError(t, err)
	cfg := Config{LocalReplicaTag: "L", ItemType: notify.Document}
	behavior := New[[]byte](cfg, caps, resolvers, bridge, bus, nil, nil, rlog.Discard())
	ctx := context.Background()

	require.NoError(t, caps.AddWithoutConflict(ctx, "a", nil, versionMeta("X", 1, nil), []byte(`{"n":1}`)))
	require.NoError(t, behavior.Replicate(ctx, "a", versionMeta("Y", 1, nil), []byte(`{"n":2}`)))

	assert.Equal(t, []string{"a"}, trigger.calls)
}
