// Package navigation walks from an entity across its relationships to the
// entities at the far ends.
package navigation

import (
	"context"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/entityloader"
	"github.com/rpattn/metarepo/internal/repository"
)

// RelationshipSource lists the relationships that reference an entity.
type RelationshipSource interface {
	GetRelationshipsForEntity(ctx context.Context, guid string, filter domain.RelationshipFilter) ([]domain.Relationship, error)
}

// Link is one hop from the starting entity.
type Link struct {
	Relationship domain.Relationship
	// FarEnd is the end opposite the starting entity.
	FarEnd domain.RelationshipEnd
	// Entity is set when the far end is a live entity held locally.
	Entity *domain.EntitySummary
}

// Navigator resolves linked entities.
type Navigator struct {
	relationships RelationshipSource
	entities      repository.EntityRepository
	opts          []entityloader.Option
}

func NewNavigator(relationships RelationshipSource, entities repository.EntityRepository, opts ...entityloader.Option) *Navigator {
	return &Navigator{relationships: relationships, entities: entities, opts: opts}
}

// LinkedEntities returns one link per relationship matching filter, in the
// order the relationships are listed. Far-end entities are fetched in a
// single batch.
func (n *Navigator) LinkedEntities(ctx context.Context, guid string, filter domain.RelationshipFilter) ([]Link, error) {
	rels, err := n.relationships.GetRelationshipsForEntity(ctx, guid, filter)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, nil
	}

	links := make([]Link, 0, len(rels))
	farGUIDs := make([]string, 0, len(rels))
	seen := make(map[string]struct{}, len(rels))
	for _, rel := range rels {
		end, ok := rel.FarEnd(guid)
		if !ok {
			continue
		}
		links = append(links, Link{Relationship: rel, FarEnd: end})
		if _, dup := seen[end.Proxy.GUID]; !dup {
			seen[end.Proxy.GUID] = struct{}{}
			farGUIDs = append(farGUIDs, end.Proxy.GUID)
		}
	}

	loader := entityloader.NewEntityLoader(n.entities, n.opts...)
	summaries, err := loader.LoadMany(ctx, farGUIDs)
	if err != nil {
		return nil, err
	}
	for i := range links {
		if summary, ok := summaries[links[i].FarEnd.Proxy.GUID]; ok {
			links[i].Entity = &summary
		}
	}
	return links, nil
}
