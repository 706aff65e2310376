package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/rpattn/metarepo/internal/domain"
)

// BadgerConfig configures the embedded badger backend.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable on-disk configuration rooted at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerRepository keeps instance records in an embedded badger database.
// Keys are laid out as:
//
//	e/<guid>            entity record
//	r/<guid>            relationship record
//	x/<entity>/<rel>    relationship end index
type BadgerRepository struct {
	db *badger.DB
}

// OpenBadgerRepository opens (or creates) the database described by cfg.
func OpenBadgerRepository(cfg BadgerConfig) (*BadgerRepository, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

func (r *BadgerRepository) Capabilities() Capabilities {
	return Capabilities{SoftDelete: true, History: true}
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func entityKey(guid string) []byte       { return []byte("e/" + guid) }
func relationshipKey(guid string) []byte { return []byte("r/" + guid) }
func endPrefix(entity string) []byte     { return []byte("x/" + entity + "/") }
func endKey(entity, rel string) []byte   { return []byte("x/" + entity + "/" + rel) }

func getRecord[T any](txn *badger.Txn, key []byte, out *T) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func putRecord(txn *badger.Txn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return txn.Set(key, raw)
}

// update runs fn in a read-write transaction. A commit conflict means another
// writer touched the same key first.
func (r *BadgerRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return ErrVersionConflict
	}
	return err
}

func (r *BadgerRepository) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(fn)
}

func (r *BadgerRepository) GetEntity(ctx context.Context, guid string) (domain.EntityRecord, error) {
	var rec domain.EntityRecord
	err := r.view(ctx, func(txn *badger.Txn) error {
		return getRecord(txn, entityKey(guid), &rec)
	})
	return rec, err
}

func (r *BadgerRepository) GetEntities(ctx context.Context, guids []string) (map[string]domain.EntityRecord, error) {
	out := make(map[string]domain.EntityRecord, len(guids))
	err := r.view(ctx, func(txn *badger.Txn) error {
		for _, guid := range guids {
			var rec domain.EntityRecord
			err := getRecord(txn, entityKey(guid), &rec)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[guid] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BadgerRepository) InsertEntity(ctx context.Context, rec domain.EntityRecord) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		var existing domain.EntityRecord
		err := getRecord(txn, entityKey(rec.GUID()), &existing)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return putRecord(txn, entityKey(rec.GUID()), rec)
	})
}

func (r *BadgerRepository) ReplaceEntity(ctx context.Context, rec domain.EntityRecord, expectedVersion int64) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		var current domain.EntityRecord
		if err := getRecord(txn, entityKey(rec.GUID()), &current); err != nil {
			return err
		}
		if current.Entity.Version != expectedVersion {
			return ErrVersionConflict
		}
		return putRecord(txn, entityKey(rec.GUID()), rec)
	})
}

func (r *BadgerRepository) RemoveEntity(ctx context.Context, guid string, expectedVersion int64) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		var current domain.EntityRecord
		if err := getRecord(txn, entityKey(guid), &current); err != nil {
			return err
		}
		if current.Entity.Version != expectedVersion {
			return ErrVersionConflict
		}
		return txn.Delete(entityKey(guid))
	})
}

func (r *BadgerRepository) GetRelationship(ctx context.Context, guid string) (domain.RelationshipRecord, error) {
	var rec domain.RelationshipRecord
	err := r.view(ctx, func(txn *badger.Txn) error {
		return getRecord(txn, relationshipKey(guid), &rec)
	})
	return rec, err
}

func (r *BadgerRepository) InsertRelationship(ctx context.Context, rec domain.RelationshipRecord) error {
	rel := rec.Relationship
	return r.update(ctx, func(txn *badger.Txn) error {
		var existing domain.RelationshipRecord
		err := getRecord(txn, relationshipKey(rel.GUID), &existing)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := putRecord(txn, relationshipKey(rel.GUID), rec); err != nil {
			return err
		}
		if err := txn.Set(endKey(rel.EndOne.Proxy.GUID, rel.GUID), nil); err != nil {
			return err
		}
		return txn.Set(endKey(rel.EndTwo.Proxy.GUID, rel.GUID), nil)
	})
}

func (r *BadgerRepository) ReplaceRelationship(ctx context.Context, rec domain.RelationshipRecord, expectedVersion int64) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		var current domain.RelationshipRecord
		if err := getRecord(txn, relationshipKey(rec.GUID()), &current); err != nil {
			return err
		}
		if current.Relationship.Version != expectedVersion {
			return ErrVersionConflict
		}
		return putRecord(txn, relationshipKey(rec.GUID()), rec)
	})
}

func (r *BadgerRepository) RemoveRelationship(ctx context.Context, guid string, expectedVersion int64) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		var current domain.RelationshipRecord
		if err := getRecord(txn, relationshipKey(guid), &current); err != nil {
			return err
		}
		if current.Relationship.Version != expectedVersion {
			return ErrVersionConflict
		}
		rel := current.Relationship
		if err := txn.Delete(endKey(rel.EndOne.Proxy.GUID, guid)); err != nil {
			return err
		}
		if err := txn.Delete(endKey(rel.EndTwo.Proxy.GUID, guid)); err != nil {
			return err
		}
		return txn.Delete(relationshipKey(guid))
	})
}

// ListRelationshipsForEntity scans the end index for the entity. Results are
// ordered by creation time, then GUID.
func (r *BadgerRepository) ListRelationshipsForEntity(ctx context.Context, entityGUID string) ([]domain.RelationshipRecord, error) {
	var out []domain.RelationshipRecord
	err := r.view(ctx, func(txn *badger.Txn) error {
		prefix := endPrefix(entityGUID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			relGUID := string(it.Item().Key()[len(prefix):])
			var rec domain.RelationshipRecord
			if err := getRecord(txn, relationshipKey(relGUID), &rec); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Relationship, out[j].Relationship
		if !a.CreateTime.Equal(b.CreateTime) {
			return a.CreateTime.Before(b.CreateTime)
		}
		return a.GUID < b.GUID
	})
	return out, nil
}
