package store

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/logging"
	"github.com/rpattn/metarepo/internal/metrics"
	"github.com/rpattn/metarepo/internal/pubsub"
	"github.com/rpattn/metarepo/internal/repository"
	"github.com/rpattn/metarepo/internal/typeregistry"
)

const (
	localCollection  = "7d3a0f6e-4c1b-4f7a-9d55-0c2f1b8e6a10"
	remoteCollection = "c1b6e2a4-0f3d-4e55-9a1b-2b7d9e0c4f11"
	user             = "garygeeke"
)

var (
	topicType       = domain.TypeRef{Name: "Topic"}
	subscriberList  = domain.TypeRef{Name: "SubscriberList"}
	auditLogEntry   = domain.TypeRef{Name: "AuditLogEntry"}
	topicSubscriber = domain.TypeRef{Name: "TopicSubscribers"}
)

func loadCatalogue(t testing.TB) *typeregistry.Catalogue {
	t.Helper()
	cat, err := typeregistry.LoadFiles("../../configs/typedefs")
	require.NoError(t, err)
	return cat
}

// tickingClock advances one millisecond per reading so creation order is
// visible in timestamps.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func defaultConfig() Config {
	return Config{
		Collection:            domain.MetadataCollection{ID: localCollection, Name: "cocoPharma"},
		SoftDelete:            true,
		HistoryRetention:      1,
		StrictReferenceCopies: true,
	}
}

func newTestStore(t testing.TB, cfg Config, opts ...Option) (*Store, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	opts = append([]Option{WithClock(tickingClock())}, opts...)
	return New(repo, loadCatalogue(t), cfg, opts...), repo
}

func topicProps(qualifiedName string) domain.InstanceProperties {
	return domain.InstanceProperties{"qualifiedName": domain.StringValue(qualifiedName)}
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, domain.KindOf(err), "error: %v", err)
}

func TestTopicLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())

	created, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, domain.StatusActive, created.Status)
	guid := created.GUID

	updated, err := s.UpdateEntityStatus(ctx, user, guid, domain.StatusDeprecated)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, domain.StatusDeprecated, updated.Status)

	_, err = s.UpdateEntityStatus(ctx, user, guid, domain.StatusDeleted)
	requireKind(t, err, domain.KindStatusNotSupported)
	current, err := s.GetEntityDetail(ctx, guid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)

	cleared, err := s.UpdateEntityProperties(ctx, user, guid, domain.InstanceProperties{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared.Version)
	assert.Empty(t, cleared.Properties)

	undone, err := s.UndoEntityUpdate(ctx, user, guid)
	require.NoError(t, err)
	assert.Equal(t, int64(4), undone.Version)
	assert.True(t, undone.Properties.Equal(topicProps("t1")))

	deleted, err := s.DeleteEntity(ctx, user, guid, topicType)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted.Version)
	assert.Equal(t, domain.StatusDeleted, deleted.Status)
	_, err = s.GetEntityDetail(ctx, guid)
	requireKind(t, err, domain.KindNotKnown)

	restored, err := s.RestoreEntity(ctx, user, guid)
	require.NoError(t, err)
	assert.Equal(t, int64(6), restored.Version)
	assert.Equal(t, domain.StatusDeprecated, restored.Status)

	_, err = s.DeleteEntity(ctx, user, guid, topicType)
	require.NoError(t, err)
	require.NoError(t, s.PurgeEntity(ctx, user, guid, topicType))

	_, err = s.GetEntityDetail(ctx, guid)
	requireKind(t, err, domain.KindNotKnown)
	_, err = s.RestoreEntity(ctx, user, guid)
	requireKind(t, err, domain.KindNotKnown)
	_, known, err := s.IsEntityKnown(ctx, guid)
	require.NoError(t, err)
	assert.False(t, known)
	requireKind(t, s.PurgeEntity(ctx, user, guid, topicType), domain.KindNotKnown)
}

func TestAddEntityStampsNewInstance(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig(), WithGUIDGenerator(func() string { return "topic-1" }))

	entity, err := s.AddEntity(ctx, user, topicType, domain.InstanceProperties{
		"qualifiedName": domain.StringValue("orders"),
		"partitions":    domain.IntValue(12),
		"topicType":     domain.EnumOf(1, "PubSub"),
	})
	require.NoError(t, err)

	assert.Equal(t, "topic-1", entity.GUID)
	assert.Equal(t, domain.ProvenanceLocalCohort, entity.Provenance)
	assert.Equal(t, localCollection, entity.MetadataCollectionID)
	assert.Equal(t, "cocoPharma", entity.MetadataCollectionName)
	assert.Equal(t, "29100f49-338e-4361-b05d-7e4e8e818325", entity.Type.GUID)
	assert.Equal(t, user, entity.CreatedBy)
	assert.Equal(t, []string{user}, entity.MaintainedBy)
	assert.False(t, entity.CreateTime.IsZero())

	summary, err := s.GetEntitySummary(ctx, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceHeader, summary.InstanceHeader)
}

func TestAddEntityRejectsNonConformingRequests(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t, defaultConfig())

	_, err := s.AddEntity(ctx, user, topicType, domain.InstanceProperties{"colour": domain.StringValue("red")})
	requireKind(t, err, domain.KindTypeError)

	_, err = s.AddEntity(ctx, user, topicType, domain.InstanceProperties{
		"qualifiedName": domain.StringValue("t1"),
		"partitions":    domain.IntValue(1 << 20),
	})
	requireKind(t, err, domain.KindTypeError)

	_, err = s.AddEntity(ctx, user, domain.TypeRef{Name: "Nope"}, nil)
	requireKind(t, err, domain.KindTypeError)

	_, err = s.AddEntity(ctx, user, topicSubscriber, nil)
	requireKind(t, err, domain.KindTypeError)

	entities, _ := repo.Len()
	assert.Zero(t, entities)
}

func TestAddEntityWithClassifications(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())

	entity, err := s.AddEntity(ctx, user, topicType, topicProps("t1"), domain.Classification{
		Name:       "Confidentiality",
		Properties: domain.InstanceProperties{"level": domain.IntValue(3)},
	})
	require.NoError(t, err)
	require.Len(t, entity.Classifications, 1)
	assert.Equal(t, int64(1), entity.Classifications[0].Version)
	assert.Equal(t, int64(1), entity.Version)

	_, err = s.AddEntity(ctx, user, topicType, topicProps("t2"),
		domain.Classification{Name: "Confidentiality"},
		domain.Classification{Name: "Confidentiality"})
	requireKind(t, err, domain.KindInvalidParameter)
}

func TestUpdateStatusNeverAcceptsDeleted(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())
	entity, err := s.AddEntity(ctx, user, subscriberList, nil)
	require.NoError(t, err)

	_, err = s.UpdateEntityStatus(ctx, user, entity.GUID, domain.StatusDeleted)
	requireKind(t, err, domain.KindStatusNotSupported)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "updateEntityStatus", de.Operation)
	assert.Equal(t, domain.StatusActive, de.CurrentStatus)
	assert.Equal(t, domain.StatusDeleted, de.RequestedStatus)
	assert.Equal(t, int64(1), de.CurrentVersion)

	_, err = s.UpdateEntityStatus(ctx, user, entity.GUID, domain.StatusPrepared)
	requireKind(t, err, domain.KindStatusNotSupported)

	after, err := s.GetEntityDetail(ctx, entity.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.Version)
}

func TestSoftDeleteUnsupportedByType(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())

	caps, err := s.Capabilities(auditLogEntry)
	require.NoError(t, err)
	assert.False(t, caps.SoftDelete)
	assert.False(t, caps.Undo)

	entry, err := s.AddEntity(ctx, user, auditLogEntry, domain.InstanceProperties{
		"qualifiedName": domain.StringValue("log-1"),
		"tags":          domain.ArrayOf(domain.StringValue("boot")),
	})
	require.NoError(t, err)

	_, err = s.DeleteEntity(ctx, user, entry.GUID, auditLogEntry)
	require.Error(t, err)
	assert.True(t, domain.IsFunctionNotSupported(err))

	_, err = s.UndoEntityUpdate(ctx, user, entry.GUID)
	assert.True(t, domain.IsFunctionNotSupported(err))

	after, err := s.GetEntityDetail(ctx, entry.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.Version)

	require.NoError(t, s.PurgeEntity(ctx, user, entry.GUID, auditLogEntry))
	_, known, err := s.IsEntityKnown(ctx, entry.GUID)
	require.NoError(t, err)
	assert.False(t, known)
}

func TestSoftDeleteDisabledByConfiguration(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.SoftDelete = false
	s, _ := newTestStore(t, cfg)

	caps, err := s.Capabilities(topicType)
	require.NoError(t, err)
	assert.False(t, caps.SoftDelete)
	assert.True(t, caps.Undo)

	topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)
	_, err = s.DeleteEntity(ctx, user, topic.GUID, topicType)
	requireKind(t, err, domain.KindFunctionNotSupported)
	require.NoError(t, s.PurgeEntity(ctx, user, topic.GUID, topicType))
}

func TestSoftDeleteUnsupportedByBackend(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository(repository.WithCapabilities(repository.Capabilities{}))
	s := New(repo, loadCatalogue(t), defaultConfig())

	caps, err := s.Capabilities(topicType)
	require.NoError(t, err)
	assert.Equal(t, false, caps.SoftDelete)
	assert.Equal(t, false, caps.Undo)

	topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)
	_, err = s.UpdateEntityProperties(ctx, user, topic.GUID, topicProps("t2"))
	require.NoError(t, err)
	_, err = s.UndoEntityUpdate(ctx, user, topic.GUID)
	requireKind(t, err, domain.KindFunctionNotSupported)
	history, err := s.GetEntityHistory(ctx, topic.GUID)
	require.NoError(t, err)
	assert.Nil(t, history)
}

func TestCapabilitiesUnknownType(t *testing.T) {
	s, _ := newTestStore(t, defaultConfig())
	_, err := s.Capabilities(domain.TypeRef{Name: "Nope"})
	requireKind(t, err, domain.KindTypeError)
}

func TestUndo(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled by retention", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.HistoryRetention = 0
		s, _ := newTestStore(t, cfg)
		topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
		require.NoError(t, err)
		_, err = s.UpdateEntityProperties(ctx, user, topic.GUID, topicProps("t2"))
		require.NoError(t, err)
		_, err = s.UndoEntityUpdate(ctx, user, topic.GUID)
		requireKind(t, err, domain.KindFunctionNotSupported)
	})

	t.Run("nothing retained", func(t *testing.T) {
		s, _ := newTestStore(t, defaultConfig())
		topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
		require.NoError(t, err)
		_, err = s.UndoEntityUpdate(ctx, user, topic.GUID)
		requireKind(t, err, domain.KindInvalidTransition)
	})

	t.Run("steps back through retained snapshots", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.HistoryRetention = 2
		s, _ := newTestStore(t, cfg)
		topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
		require.NoError(t, err)
		_, err = s.UpdateEntityProperties(ctx, user, topic.GUID, topicProps("t2"))
		require.NoError(t, err)
		_, err = s.UpdateEntityProperties(ctx, user, topic.GUID, topicProps("t3"))
		require.NoError(t, err)

		history, err := s.GetEntityHistory(ctx, topic.GUID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(2), history[0].Version)
		assert.Equal(t, int64(1), history[1].Version)

		first, err := s.UndoEntityUpdate(ctx, user, topic.GUID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), first.Version)
		assert.True(t, first.Properties.Equal(topicProps("t2")))

		second, err := s.UndoEntityUpdate(ctx, user, topic.GUID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), second.Version)
		assert.True(t, second.Properties.Equal(topicProps("t1")))

		_, err = s.UndoEntityUpdate(ctx, user, topic.GUID)
		requireKind(t, err, domain.KindInvalidTransition)
	})
}

func TestPurgeRules(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())
	topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)

	requireKind(t, s.PurgeEntity(ctx, user, topic.GUID, topicType), domain.KindInvalidTransition)

	_, err = s.RestoreEntity(ctx, user, topic.GUID)
	requireKind(t, err, domain.KindInvalidTransition)

	_, err = s.DeleteEntity(ctx, user, topic.GUID, subscriberList)
	requireKind(t, err, domain.KindInvalidParameter)

	_, err = s.DeleteEntity(ctx, user, topic.GUID, domain.TypeRef{})
	require.NoError(t, err)

	_, err = s.DeleteEntity(ctx, user, topic.GUID, topicType)
	requireKind(t, err, domain.KindNotKnown)
	_, err = s.UpdateEntityProperties(ctx, user, topic.GUID, topicProps("t2"))
	requireKind(t, err, domain.KindNotKnown)

	requireKind(t, s.PurgeEntity(ctx, user, topic.GUID, subscriberList), domain.KindInvalidParameter)
	require.NoError(t, s.PurgeEntity(ctx, user, topic.GUID, topicType))
}

func TestTombstoneVisibility(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())
	topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)
	_, err = s.DeleteEntity(ctx, user, topic.GUID, topicType)
	require.NoError(t, err)

	stored, known, err := s.IsEntityKnown(ctx, topic.GUID)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, domain.StatusDeleted, stored.Status)
	assert.Equal(t, domain.StatusActive, stored.StatusOnDelete)

	summary, err := s.GetEntitySummary(ctx, topic.GUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, summary.Status)

	_, err = s.ProxyFor(ctx, topic.GUID)
	requireKind(t, err, domain.KindNotKnown)
}

func TestUnknownGUIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())

	_, known, err := s.IsEntityKnown(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, known)

	_, err = s.GetEntitySummary(ctx, "missing")
	requireKind(t, err, domain.KindNotKnown)
	_, err = s.UpdateEntityStatus(ctx, user, "missing", domain.StatusActive)
	requireKind(t, err, domain.KindNotKnown)
	_, err = s.GetRelationshipsForEntity(ctx, "missing", domain.RelationshipFilter{})
	requireKind(t, err, domain.KindNotKnown)
	_, err = s.GetRelationship(ctx, "missing")
	requireKind(t, err, domain.KindNotKnown)
	_, err = s.GetEntityHistory(ctx, "missing")
	requireKind(t, err, domain.KindNotKnown)
}

func TestMaintainedByTracksDistinctUsers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())
	topic, err := s.AddEntity(ctx, "alice", topicType, topicProps("t1"))
	require.NoError(t, err)

	_, err = s.UpdateEntityStatus(ctx, "bob", topic.GUID, domain.StatusDraft)
	require.NoError(t, err)
	updated, err := s.UpdateEntityStatus(ctx, "alice", topic.GUID, domain.StatusActive)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, updated.MaintainedBy)
	assert.Equal(t, "alice", updated.UpdatedBy)
	assert.Equal(t, "alice", updated.CreatedBy)
	assert.True(t, updated.UpdateTime.After(updated.CreateTime))
}

func TestClassifications(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())
	topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)

	classified, err := s.ClassifyEntity(ctx, user, topic.GUID, "Confidentiality", domain.InstanceProperties{"level": domain.IntValue(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), classified.Version)
	c, ok := classified.Classification("Confidentiality")
	require.True(t, ok)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, domain.StatusActive, classified.Status)

	_, err = s.ClassifyEntity(ctx, user, topic.GUID, "Confidentiality", nil)
	requireKind(t, err, domain.KindInvalidParameter)
	_, err = s.ClassifyEntity(ctx, user, topic.GUID, "Topic", nil)
	requireKind(t, err, domain.KindTypeError)
	_, err = s.ReclassifyEntity(ctx, user, topic.GUID, "Confidentiality", domain.InstanceProperties{"level": domain.StringValue("high")})
	requireKind(t, err, domain.KindTypeError)

	reclassified, err := s.ReclassifyEntity(ctx, user, topic.GUID, "Confidentiality", domain.InstanceProperties{"level": domain.IntValue(4)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), reclassified.Version)
	c, _ = reclassified.Classification("Confidentiality")
	assert.Equal(t, int64(2), c.Version)
	assert.True(t, c.Properties["level"].Equal(domain.IntValue(4)))

	declassified, err := s.DeclassifyEntity(ctx, user, topic.GUID, "Confidentiality")
	require.NoError(t, err)
	assert.Equal(t, int64(4), declassified.Version)
	assert.Empty(t, declassified.Classifications)

	_, err = s.DeclassifyEntity(ctx, user, topic.GUID, "Confidentiality")
	requireKind(t, err, domain.KindInvalidParameter)
}

func TestStoreMetricsAndEvents(t *testing.T) {
	ctx := context.Background()
	broker := pubsub.NewBroker[domain.InstanceEvent]()
	defer broker.Close()
	reg := prometheus.NewRegistry()
	m := metrics.NewStoreMetrics(reg, broker.Dropped)

	s, _ := newTestStore(t, defaultConfig(), WithEvents(broker), WithMetrics(m))
	sub := broker.Subscribe(ctx)

	topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)
	_, err = s.UpdateEntityStatus(ctx, user, topic.GUID, domain.StatusDeleted)
	require.Error(t, err)
	_, err = s.DeleteEntity(ctx, user, topic.GUID, topicType)
	require.NoError(t, err)
	_, err = s.RestoreEntity(ctx, user, topic.GUID)
	require.NoError(t, err)

	want := []struct {
		kind      domain.InstanceEventKind
		eventType pubsub.EventType
		version   int64
		status    domain.InstanceStatus
	}{
		{domain.EventNewEntity, pubsub.CreatedEvent, 1, domain.StatusActive},
		{domain.EventDeletedEntity, pubsub.DeletedEvent, 2, domain.StatusDeleted},
		{domain.EventRestoredEntity, pubsub.RestoredEvent, 3, domain.StatusActive},
	}
	for _, w := range want {
		select {
		case ev := <-sub:
			assert.Equal(t, w.eventType, ev.Type)
			assert.Equal(t, w.kind, ev.Payload.Kind)
			assert.Equal(t, w.version, ev.Payload.Version)
			assert.Equal(t, w.status, ev.Payload.Status)
			assert.Equal(t, topic.GUID, ev.Payload.GUID)
			assert.Equal(t, user, ev.Payload.User)
		case <-time.After(time.Second):
			require.Fail(t, "missing event", string(w.kind))
		}
	}

	assert.Equal(t, 1.0, counterValue(t, m, "addEntity", metrics.OutcomeOK))
	assert.Equal(t, 1.0, counterValue(t, m, "updateEntityStatus", metrics.OutcomeRejected))
	assert.Equal(t, 1.0, counterValue(t, m, "deleteEntity", metrics.OutcomeOK))
}

func TestEventTimeMatchesCommitStamp(t *testing.T) {
	ctx := context.Background()
	broker := pubsub.NewBroker[domain.InstanceEvent]()
	defer broker.Close()
	s, _ := newTestStore(t, defaultConfig(), WithEvents(broker))
	sub := broker.Subscribe(ctx)

	created, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)
	updated, err := s.UpdateEntityProperties(ctx, user, created.GUID, topicProps("t2"))
	require.NoError(t, err)
	require.NotEqual(t, created.UpdateTime, updated.UpdateTime)

	for _, stamp := range []time.Time{created.UpdateTime, updated.UpdateTime} {
		select {
		case ev := <-sub:
			assert.Equal(t, stamp, ev.Payload.Time)
		case <-time.After(time.Second):
			require.Fail(t, "missing event")
		}
	}
}

func TestWithLoggerRecordsCommitsAndRejections(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(logging.Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	s, _ := newTestStore(t, defaultConfig(), WithLogger(logger))

	topic, err := s.AddEntity(ctx, user, topicType, topicProps("t1"))
	require.NoError(t, err)
	_, err = s.UpdateEntityStatus(ctx, user, topic.GUID, domain.StatusDeleted)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"store mutation committed"`)
	assert.Contains(t, out, `"msg":"store operation rejected"`)
	assert.Contains(t, out, `"guid":"`+topic.GUID+`"`)
	assert.Contains(t, out, `"error_kind":"`+string(domain.KindOf(err))+`"`)
}
