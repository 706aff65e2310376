package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/rpattn/metarepo/internal/domain"
)

// readTimeout bounds a shared point read, which runs detached from the
// contexts of the callers waiting on it.
const readTimeout = 30 * time.Second

// PostgresRepository stores records as JSONB with the version in its own
// column, so every replace is a conditional update on (guid, version).
type PostgresRepository struct {
	pool  *pgxpool.Pool
	reads singleflight.Group
}

// NewPostgresRepository creates a repository over an open pool. The schema is
// managed by the db package migrations.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Capabilities() Capabilities {
	return Capabilities{SoftDelete: true, History: true}
}

// Close is a no-op; the pool belongs to the caller.
func (r *PostgresRepository) Close() error { return nil }

// GetEntity retrieves an entity record. Concurrent reads of the same GUID
// share one query; writes forget the shared read so later reads see them.
func (r *PostgresRepository) GetEntity(ctx context.Context, guid string) (domain.EntityRecord, error) {
	rec, err := coalesce(ctx, &r.reads, entityReadKey(guid), func(ctx context.Context) (domain.EntityRecord, error) {
		var raw []byte
		err := r.pool.QueryRow(ctx, `SELECT record FROM entities WHERE guid = $1`, guid).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.EntityRecord{}, ErrNotFound
			}
			return domain.EntityRecord{}, fmt.Errorf("failed to get entity: %w", err)
		}
		var rec domain.EntityRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return domain.EntityRecord{}, fmt.Errorf("failed to decode entity %s: %w", guid, err)
		}
		return rec, nil
	})
	if err != nil {
		return domain.EntityRecord{}, err
	}
	return rec.Clone(), nil
}

// GetEntities retrieves multiple entity records by GUID
func (r *PostgresRepository) GetEntities(ctx context.Context, guids []string) (map[string]domain.EntityRecord, error) {
	out := make(map[string]domain.EntityRecord, len(guids))
	if len(guids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT record FROM entities WHERE guid = ANY($1)`, guids)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities by GUID: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EntityRecord, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return domain.EntityRecord{}, err
		}
		var rec domain.EntityRecord
		err := json.Unmarshal(raw, &rec)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}
	for _, rec := range records {
		out[rec.GUID()] = rec
	}
	return out, nil
}

func (r *PostgresRepository) InsertEntity(ctx context.Context, rec domain.EntityRecord) error {
	defer r.reads.Forget(entityReadKey(rec.GUID()))
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}
	e := rec.Entity
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO entities (guid, type_guid, status, version, metadata_collection_id, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (guid) DO NOTHING`,
		e.GUID, e.Type.GUID, string(e.Status), e.Version, e.MetadataCollectionID, raw, e.CreateTime, e.UpdateTime)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) ReplaceEntity(ctx context.Context, rec domain.EntityRecord, expectedVersion int64) error {
	defer r.reads.Forget(entityReadKey(rec.GUID()))
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}
	e := rec.Entity
	tag, err := r.pool.Exec(ctx, `
		UPDATE entities
		SET status = $3, version = $4, record = $5, updated_at = $6
		WHERE guid = $1 AND version = $2`,
		e.GUID, expectedVersion, string(e.Status), e.Version, raw, e.UpdateTime)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, "entities", e.GUID)
	}
	return nil
}

func (r *PostgresRepository) RemoveEntity(ctx context.Context, guid string, expectedVersion int64) error {
	defer r.reads.Forget(entityReadKey(guid))
	tag, err := r.pool.Exec(ctx, `DELETE FROM entities WHERE guid = $1 AND version = $2`, guid, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, "entities", guid)
	}
	return nil
}

// GetRelationship retrieves a relationship record. Reads are shared the same
// way as GetEntity.
func (r *PostgresRepository) GetRelationship(ctx context.Context, guid string) (domain.RelationshipRecord, error) {
	rec, err := coalesce(ctx, &r.reads, relationshipReadKey(guid), func(ctx context.Context) (domain.RelationshipRecord, error) {
		var raw []byte
		err := r.pool.QueryRow(ctx, `SELECT record FROM relationships WHERE guid = $1`, guid).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.RelationshipRecord{}, ErrNotFound
			}
			return domain.RelationshipRecord{}, fmt.Errorf("failed to get relationship: %w", err)
		}
		var rec domain.RelationshipRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return domain.RelationshipRecord{}, fmt.Errorf("failed to decode relationship %s: %w", guid, err)
		}
		return rec, nil
	})
	if err != nil {
		return domain.RelationshipRecord{}, err
	}
	return rec.Clone(), nil
}

func (r *PostgresRepository) InsertRelationship(ctx context.Context, rec domain.RelationshipRecord) error {
	defer r.reads.Forget(relationshipReadKey(rec.GUID()))
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal relationship: %w", err)
	}
	rel := rec.Relationship
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO relationships (guid, type_guid, status, version, metadata_collection_id, end_one_guid, end_two_guid, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (guid) DO NOTHING`,
		rel.GUID, rel.Type.GUID, string(rel.Status), rel.Version, rel.MetadataCollectionID,
		rel.EndOne.Proxy.GUID, rel.EndTwo.Proxy.GUID, raw, rel.CreateTime, rel.UpdateTime)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) ReplaceRelationship(ctx context.Context, rec domain.RelationshipRecord, expectedVersion int64) error {
	defer r.reads.Forget(relationshipReadKey(rec.GUID()))
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal relationship: %w", err)
	}
	rel := rec.Relationship
	tag, err := r.pool.Exec(ctx, `
		UPDATE relationships
		SET status = $3, version = $4, record = $5, updated_at = $6
		WHERE guid = $1 AND version = $2`,
		rel.GUID, expectedVersion, string(rel.Status), rel.Version, raw, rel.UpdateTime)
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, "relationships", rel.GUID)
	}
	return nil
}

func (r *PostgresRepository) RemoveRelationship(ctx context.Context, guid string, expectedVersion int64) error {
	defer r.reads.Forget(relationshipReadKey(guid))
	tag, err := r.pool.Exec(ctx, `DELETE FROM relationships WHERE guid = $1 AND version = $2`, guid, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, "relationships", guid)
	}
	return nil
}

// ListRelationshipsForEntity returns every relationship with the entity at either end
func (r *PostgresRepository) ListRelationshipsForEntity(ctx context.Context, entityGUID string) ([]domain.RelationshipRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT record FROM relationships
		WHERE end_one_guid = $1 OR end_two_guid = $1
		ORDER BY created_at, guid`, entityGUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RelationshipRecord, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return domain.RelationshipRecord{}, err
		}
		var rec domain.RelationshipRecord
		err := json.Unmarshal(raw, &rec)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

// missOrConflict tells apart a missing row from a version mismatch after a
// conditional statement affected nothing.
func (r *PostgresRepository) missOrConflict(ctx context.Context, table, guid string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE guid = $1)`, pgx.Identifier{table}.Sanitize())
	if err := r.pool.QueryRow(ctx, query, guid).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check %s: %w", table, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func entityReadKey(guid string) string       { return "e/" + guid }
func relationshipReadKey(guid string) string { return "r/" + guid }

// coalesce runs fetch once for all concurrent callers of key. The query is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func coalesce[T any](ctx context.Context, g *singleflight.Group, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	ch := g.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readTimeout)
		defer cancel()
		return fetch(qctx)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
