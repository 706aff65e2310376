package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/metarepo/internal/domain"
)

func remoteTopic(guid string, version int64) domain.EntityDetail {
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	return domain.EntityDetail{
		InstanceHeader: domain.InstanceHeader{
			GUID:                 guid,
			Type:                 domain.TypeRef{GUID: "29100f49-338e-4361-b05d-7e4e8e818325", Name: "Topic"},
			Status:               domain.StatusActive,
			Version:              version,
			MetadataCollectionID: remoteCollection,
			Provenance:           domain.ProvenanceLocalCohort,
			CreatedBy:            "remote-user",
			CreateTime:           at,
			UpdateTime:           at,
		},
		Properties: topicProps("remote-orders"),
	}
}

func TestEntityReferenceCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())

	require.NoError(t, s.SaveEntityReferenceCopy(ctx, user, remoteTopic("rc-1", 4)))

	stored, err := s.GetEntityDetail(ctx, "rc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)
	assert.Equal(t, remoteCollection, stored.MetadataCollectionID)
	assert.Equal(t, "remote-user", stored.CreatedBy)

	_, err = s.UpdateEntityStatus(ctx, user, "rc-1", domain.StatusDeprecated)
	requireKind(t, err, domain.KindNotHome)
	_, err = s.DeleteEntity(ctx, user, "rc-1", topicType)
	requireKind(t, err, domain.KindNotHome)
	requireKind(t, s.PurgeEntity(ctx, user, "rc-1", topicType), domain.KindNotHome)

	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, remoteTopic("rc-1", 4)), domain.KindInvalidParameter)
	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, remoteTopic("rc-1", 3)), domain.KindInvalidParameter)
	require.NoError(t, s.SaveEntityReferenceCopy(ctx, user, remoteTopic("rc-1", 7)))

	other := remoteTopic("rc-1", 9)
	other.MetadataCollectionID = "someone-else"
	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, other), domain.KindNotHome)

	require.NoError(t, s.PurgeEntityReferenceCopy(ctx, user, "rc-1"))
	_, known, err := s.IsEntityKnown(ctx, "rc-1")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestEntityReferenceCopyRejections(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())

	local := remoteTopic("rc-2", 1)
	local.MetadataCollectionID = localCollection
	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, local), domain.KindInvalidParameter)

	unversioned := remoteTopic("rc-2", 0)
	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, unversioned), domain.KindInvalidParameter)

	badProps := remoteTopic("rc-2", 1)
	badProps.Properties = domain.InstanceProperties{"colour": domain.StringValue("red")}
	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, badProps), domain.KindTypeError)

	topic, err := s.AddEntity(ctx, user, topicType, topicProps("mine"))
	require.NoError(t, err)
	clash := remoteTopic(topic.GUID, 10)
	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, clash), domain.KindNotHome)
	requireKind(t, s.PurgeEntityReferenceCopy(ctx, user, topic.GUID), domain.KindInvalidParameter)
}

func TestLenientReferenceCopiesAcceptSameVersion(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.StrictReferenceCopies = false
	s, _ := newTestStore(t, cfg)

	require.NoError(t, s.SaveEntityReferenceCopy(ctx, user, remoteTopic("rc-3", 2)))
	require.NoError(t, s.SaveEntityReferenceCopy(ctx, user, remoteTopic("rc-3", 2)))
	requireKind(t, s.SaveEntityReferenceCopy(ctx, user, remoteTopic("rc-3", 1)), domain.KindInvalidParameter)
}

func TestRelationshipReferenceCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultConfig())
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	rel := domain.Relationship{
		InstanceHeader: domain.InstanceHeader{
			GUID:                 "rrc-1",
			Type:                 topicSubscriber,
			Status:               domain.StatusActive,
			Version:              2,
			MetadataCollectionID: remoteCollection,
			CreateTime:           at,
			UpdateTime:           at,
		},
		EndOne: domain.RelationshipEnd{Proxy: domain.EntityProxy{GUID: "remote-list", Type: subscriberList}, ProxyName: "subscribers", Ordinal: domain.EndOne},
		EndTwo: domain.RelationshipEnd{Proxy: domain.EntityProxy{GUID: "remote-topic", Type: topicType}, ProxyName: "topics", Ordinal: domain.EndTwo},
	}
	require.NoError(t, s.SaveRelationshipReferenceCopy(ctx, user, rel))

	got, err := s.GetRelationship(ctx, "rrc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.UpdateRelationshipStatus(ctx, user, "rrc-1", domain.StatusDeprecated)
	requireKind(t, err, domain.KindNotHome)

	swapped := rel
	swapped.Version = 3
	swapped.EndOne, swapped.EndTwo = rel.EndTwo, rel.EndOne
	requireKind(t, s.SaveRelationshipReferenceCopy(ctx, user, swapped), domain.KindTypeError)

	require.NoError(t, s.PurgeRelationshipReferenceCopy(ctx, user, "rrc-1"))
	requireKind(t, s.PurgeRelationshipReferenceCopy(ctx, user, "rrc-1"), domain.KindNotKnown)
}
