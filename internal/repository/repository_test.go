package repository

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/metarepo/internal/domain"
)

type backend struct {
	name string
	open func(t *testing.T) InstanceRepository
}

func backends(t *testing.T) []backend {
	t.Helper()
	out := []backend{
		{name: "memory", open: func(t *testing.T) InstanceRepository { return NewMemoryRepository() }},
		{name: "badger", open: func(t *testing.T) InstanceRepository {
			repo, err := OpenBadgerRepository(InMemoryBadgerConfig())
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		}},
	}
	if url := os.Getenv("METAREPO_TEST_DATABASE_URL"); url != "" {
		out = append(out, backend{name: "postgres", open: func(t *testing.T) InstanceRepository {
			pool, err := pgxpool.New(context.Background(), url)
			require.NoError(t, err)
			t.Cleanup(pool.Close)
			_, err = pool.Exec(context.Background(), `TRUNCATE entities, relationships`)
			require.NoError(t, err)
			return NewPostgresRepository(pool)
		}})
	}
	return out
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entityRecord(guid string, version int64) domain.EntityRecord {
	return domain.EntityRecord{
		Entity: domain.EntityDetail{
			InstanceHeader: domain.InstanceHeader{
				GUID:                 guid,
				Type:                 domain.TypeRef{GUID: "type-topic", Name: "Topic"},
				Status:               domain.StatusActive,
				Version:              version,
				MetadataCollectionID: "local",
				CreatedBy:            "alice",
				CreateTime:           created,
				UpdateTime:           created,
			},
			Properties: domain.InstanceProperties{"name": domain.StringValue("orders")},
		},
	}
}

func relationshipRecord(guid, endOne, endTwo string, createdAt time.Time) domain.RelationshipRecord {
	return domain.RelationshipRecord{
		Relationship: domain.Relationship{
			InstanceHeader: domain.InstanceHeader{
				GUID:                 guid,
				Type:                 domain.TypeRef{GUID: "type-subs", Name: "TopicSubscribers"},
				Status:               domain.StatusActive,
				Version:              1,
				MetadataCollectionID: "local",
				CreateTime:           createdAt,
				UpdateTime:           createdAt,
			},
			EndOne: domain.RelationshipEnd{Proxy: domain.EntityProxy{GUID: endOne}, ProxyName: "subscribers", Ordinal: domain.EndOne},
			EndTwo: domain.RelationshipEnd{Proxy: domain.EntityProxy{GUID: endTwo}, ProxyName: "topics", Ordinal: domain.EndTwo},
		},
	}
}

func TestRepository_EntityVersionedReplace(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t)

			require.NoError(t, repo.InsertEntity(ctx, entityRecord("e1", 1)))
			assert.ErrorIs(t, repo.InsertEntity(ctx, entityRecord("e1", 1)), ErrAlreadyExists)

			next := entityRecord("e1", 2)
			next.Entity.Properties["name"] = domain.StringValue("payments")
			assert.ErrorIs(t, repo.ReplaceEntity(ctx, next, 5), ErrVersionConflict)
			require.NoError(t, repo.ReplaceEntity(ctx, next, 1))

			got, err := repo.GetEntity(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Entity.Version)
			assert.True(t, got.Entity.Properties["name"].Equal(domain.StringValue("payments")))

			assert.ErrorIs(t, repo.RemoveEntity(ctx, "e1", 1), ErrVersionConflict)
			require.NoError(t, repo.RemoveEntity(ctx, "e1", 2))
			_, err = repo.GetEntity(ctx, "e1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, repo.ReplaceEntity(ctx, next, 2), ErrNotFound)
			assert.ErrorIs(t, repo.RemoveEntity(ctx, "e1", 2), ErrNotFound)
		})
	}
}

func TestRepository_GetEntitiesOmitsMissing(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t)
			require.NoError(t, repo.InsertEntity(ctx, entityRecord("e1", 1)))
			require.NoError(t, repo.InsertEntity(ctx, entityRecord("e2", 1)))

			got, err := repo.GetEntities(ctx, []string{"e1", "missing", "e2"})
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.Contains(t, got, "e1")
			assert.Contains(t, got, "e2")
		})
	}
}

func TestRepository_RelationshipEndIndex(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t)

			require.NoError(t, repo.InsertRelationship(ctx, relationshipRecord("r2", "list", "topic", created.Add(time.Minute))))
			require.NoError(t, repo.InsertRelationship(ctx, relationshipRecord("r1", "list", "other", created)))

			rels, err := repo.ListRelationshipsForEntity(ctx, "list")
			require.NoError(t, err)
			require.Len(t, rels, 2)

			rels, err = repo.ListRelationshipsForEntity(ctx, "topic")
			require.NoError(t, err)
			require.Len(t, rels, 1)
			assert.Equal(t, "r2", rels[0].GUID())

			tomb := relationshipRecord("r2", "list", "topic", created.Add(time.Minute))
			tomb.Relationship.Status = domain.StatusDeleted
			tomb.Relationship.Version = 2
			require.NoError(t, repo.ReplaceRelationship(ctx, tomb, 1))

			rels, err = repo.ListRelationshipsForEntity(ctx, "topic")
			require.NoError(t, err)
			require.Len(t, rels, 1, "tombstones stay indexed")
			assert.Equal(t, domain.StatusDeleted, rels[0].Relationship.Status)

			require.NoError(t, repo.RemoveRelationship(ctx, "r2", 2))
			rels, err = repo.ListRelationshipsForEntity(ctx, "topic")
			require.NoError(t, err)
			assert.Empty(t, rels)

			_, err = repo.GetRelationship(ctx, "r2")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepository_ConcurrentReplaceHasOneWinner(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t)
			require.NoError(t, repo.InsertEntity(ctx, entityRecord("e1", 1)))

			var wins, conflicts atomic.Int32
			var g errgroup.Group
			for i := 0; i < 16; i++ {
				g.Go(func() error {
					err := repo.ReplaceEntity(ctx, entityRecord("e1", 2), 1)
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, ErrVersionConflict):
						conflicts.Add(1)
					default:
						return err
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(15), conflicts.Load())
		})
	}
}

func TestRepository_WriterReadsItsOwnCommits(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			repo := b.open(t)
			require.NoError(t, repo.InsertEntity(ctx, entityRecord("e1", 1)))

			stop := make(chan struct{})
			var readers errgroup.Group
			for i := 0; i < 4; i++ {
				readers.Go(func() error {
					for {
						select {
						case <-stop:
							return nil
						default:
						}
						if _, err := repo.GetEntity(ctx, "e1"); err != nil {
							return err
						}
					}
				})
			}

			for v := int64(2); v <= 20; v++ {
				require.NoError(t, repo.ReplaceEntity(ctx, entityRecord("e1", v), v-1))
				got, err := repo.GetEntity(ctx, "e1")
				require.NoError(t, err)
				require.GreaterOrEqual(t, got.Entity.Version, v)
			}
			close(stop)
			require.NoError(t, readers.Wait())
		})
	}
}

func TestMemoryRepository_ClonesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	rec := entityRecord("e1", 1)
	require.NoError(t, repo.InsertEntity(ctx, rec))

	rec.Entity.Properties["name"] = domain.StringValue("mutated")
	got, err := repo.GetEntity(ctx, "e1")
	require.NoError(t, err)
	got.Entity.Properties["extra"] = domain.BoolValue(true)

	again, err := repo.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, again.Entity.Properties.Names())
	assert.True(t, again.Entity.Properties["name"].Equal(domain.StringValue("orders")))

	entities, relationships := repo.Len()
	assert.Equal(t, 1, entities)
	assert.Equal(t, 0, relationships)
}

func TestMemoryRepository_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewMemoryRepository(WithCapabilities(Capabilities{}))
	assert.Equal(t, Capabilities{}, repo.Capabilities())
	assert.ErrorIs(t, repo.InsertEntity(ctx, entityRecord("e1", 1)), context.Canceled)
}
