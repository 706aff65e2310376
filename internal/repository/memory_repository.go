package repository

import (
	"context"
	"sync"

	"github.com/rpattn/metarepo/internal/domain"
)

// MemoryRepository keeps instance records in per-GUID arenas. Records are
// cloned on the way in and out so callers never share state with the store.
type MemoryRepository struct {
	entities      *arena[domain.EntityRecord]
	relationships *arena[domain.RelationshipRecord]

	endsMu sync.RWMutex
	ends   map[string]map[string]struct{}

	caps Capabilities
}

// MemoryOption configures a MemoryRepository.
type MemoryOption func(*MemoryRepository)

// WithCapabilities overrides the advertised capabilities, which is how a
// deployment models a backend without soft delete or history.
func WithCapabilities(caps Capabilities) MemoryOption {
	return func(r *MemoryRepository) {
		r.caps = caps
	}
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		entities:      newArena(func(rec *domain.EntityRecord) int64 { return rec.Entity.Version }),
		relationships: newArena(func(rec *domain.RelationshipRecord) int64 { return rec.Relationship.Version }),
		ends:          make(map[string]map[string]struct{}),
		caps:          Capabilities{SoftDelete: true, History: true},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryRepository) Capabilities() Capabilities { return r.caps }

func (r *MemoryRepository) Close() error { return nil }

// GetEntity returns a copy of the stored entity record
func (r *MemoryRepository) GetEntity(ctx context.Context, guid string) (domain.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.EntityRecord{}, err
	}
	rec, ok := r.entities.load(guid)
	if !ok {
		return domain.EntityRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// GetEntities returns copies of the stored records that exist
func (r *MemoryRepository) GetEntities(ctx context.Context, guids []string) (map[string]domain.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.EntityRecord, len(guids))
	for _, guid := range guids {
		if rec, ok := r.entities.load(guid); ok {
			out[guid] = rec.Clone()
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEntity(ctx context.Context, rec domain.EntityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := rec.Clone()
	return r.entities.insert(rec.GUID(), &cp)
}

func (r *MemoryRepository) ReplaceEntity(ctx context.Context, rec domain.EntityRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := rec.Clone()
	return r.entities.swap(rec.GUID(), expectedVersion, &cp)
}

func (r *MemoryRepository) RemoveEntity(ctx context.Context, guid string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.entities.swap(guid, expectedVersion, nil)
}

// GetRelationship returns a copy of the stored relationship record
func (r *MemoryRepository) GetRelationship(ctx context.Context, guid string) (domain.RelationshipRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.RelationshipRecord{}, err
	}
	rec, ok := r.relationships.load(guid)
	if !ok {
		return domain.RelationshipRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryRepository) InsertRelationship(ctx context.Context, rec domain.RelationshipRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := rec.Clone()
	if err := r.relationships.insert(rec.GUID(), &cp); err != nil {
		return err
	}
	r.index(cp.Relationship)
	return nil
}

func (r *MemoryRepository) ReplaceRelationship(ctx context.Context, rec domain.RelationshipRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := rec.Clone()
	return r.relationships.swap(rec.GUID(), expectedVersion, &cp)
}

func (r *MemoryRepository) RemoveRelationship(ctx context.Context, guid string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, ok := r.relationships.load(guid)
	if !ok {
		return ErrNotFound
	}
	if err := r.relationships.swap(guid, expectedVersion, nil); err != nil {
		return err
	}
	r.unindex(rec.Relationship)
	return nil
}

// ListRelationshipsForEntity returns copies of every relationship indexed
// under the entity GUID
func (r *MemoryRepository) ListRelationshipsForEntity(ctx context.Context, entityGUID string) ([]domain.RelationshipRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.endsMu.RLock()
	guids := make([]string, 0, len(r.ends[entityGUID]))
	for guid := range r.ends[entityGUID] {
		guids = append(guids, guid)
	}
	r.endsMu.RUnlock()

	var out []domain.RelationshipRecord
	for _, guid := range guids {
		if rec, ok := r.relationships.load(guid); ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored entities and relationships.
func (r *MemoryRepository) Len() (entities, relationships int) {
	return r.entities.len(), r.relationships.len()
}

// Relationship ends are immutable, so the index only changes on insert and remove.
func (r *MemoryRepository) index(rel domain.Relationship) {
	r.endsMu.Lock()
	defer r.endsMu.Unlock()
	for _, end := range []string{rel.EndOne.Proxy.GUID, rel.EndTwo.Proxy.GUID} {
		set, ok := r.ends[end]
		if !ok {
			set = make(map[string]struct{})
			r.ends[end] = set
		}
		set[rel.GUID] = struct{}{}
	}
}

func (r *MemoryRepository) unindex(rel domain.Relationship) {
	r.endsMu.Lock()
	defer r.endsMu.Unlock()
	for _, end := range []string{rel.EndOne.Proxy.GUID, rel.EndTwo.Proxy.GUID} {
		set := r.ends[end]
		delete(set, rel.GUID)
		if len(set) == 0 {
			delete(r.ends, end)
		}
	}
}
