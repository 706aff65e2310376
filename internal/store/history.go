package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/rpattn/metarepo/internal/domain"
)

func newestFirst(history []domain.PropertySnapshot) []domain.PropertySnapshot {
	if len(history) == 0 {
		return nil
	}
	out := make([]domain.PropertySnapshot, len(history))
	for i, snap := range history {
		out[i] = snap.Clone()
	}
	slices.Reverse(out)
	return out
}

// GetEntityHistory returns the retained property snapshots, newest first.
func (s *Store) GetEntityHistory(ctx context.Context, guid string) ([]domain.PropertySnapshot, error) {
	const op = "getEntityHistory"
	var out []domain.PropertySnapshot
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		out = newestFirst(rec.History)
		return nil
	})
	return out, err
}

// GetRelationshipHistory returns the retained property snapshots, newest first.
func (s *Store) GetRelationshipHistory(ctx context.Context, guid string) ([]domain.PropertySnapshot, error) {
	const op = "getRelationshipHistory"
	var out []domain.PropertySnapshot
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetRelationship(ctx, guid)
		if err != nil {
			return s.relationshipReadError(op, guid, err)
		}
		out = newestFirst(rec.History)
		return nil
	})
	return out, err
}

// DiffEntityHistory renders a unified diff from the newest retained snapshot
// to the current properties. With nothing retained the diff starts from an
// empty document.
func (s *Store) DiffEntityHistory(ctx context.Context, guid string) (string, error) {
	const op = "diffEntityHistory"
	var out string
	err := s.observe(ctx, op, guid, func(ctx context.Context) error {
		rec, err := s.repo.GetEntity(ctx, guid)
		if err != nil {
			return s.entityReadError(op, guid, err)
		}
		current := s.ledger.Snapshot(rec.Entity.InstanceHeader, rec.Entity.Properties)

		var base *domain.PropertySnapshot
		baseLabel := "empty"
		if n := len(rec.History); n > 0 {
			base = &rec.History[n-1]
			baseLabel = fmt.Sprintf("%s@v%d", guid, base.Version)
		}
		targetLabel := fmt.Sprintf("%s@v%d", guid, current.Version)

		out, err = domain.DiffPropertySnapshots(rec.Entity.Type.Name, baseLabel, base, targetLabel, &current)
		if err != nil {
			return fmt.Errorf("%s: failed to render diff: %w", op, err)
		}
		return nil
	})
	return out, err
}
