package entityloader

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/repository"
)

// EntityLoader batches entity summary lookups made close together, such as
// resolving the far ends of every relationship of an entity. Results are
// cached for the loader's lifetime, so create one per request.
type EntityLoader struct {
	Loader *dataloader.Loader
}

// Option configures an EntityLoader.
type Option func(*options)

type options struct {
	wait     time.Duration
	capacity int
}

// WithWait sets how long the loader collects keys before fetching.
func WithWait(d time.Duration) Option {
	return func(o *options) { o.wait = d }
}

// WithBatchCapacity caps the number of GUIDs fetched in one call.
func WithBatchCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

func NewEntityLoader(repo repository.EntityRepository, opts ...Option) *EntityLoader {
	o := options{wait: 5 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		guids := keys.Keys()

		records, err := repo.GetEntities(ctx, guids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Build results in the same order as keys. Soft-deleted entities
		// are treated as not held.
		results := make([]*dataloader.Result, len(keys))
		for i, guid := range guids {
			rec, ok := records[guid]
			if !ok || rec.Entity.IsDeleted() {
				results[i] = &dataloader.Result{Data: nil}
				continue
			}
			summary := rec.Entity.Summary()
			results[i] = &dataloader.Result{Data: &summary}
		}
		return results
	}

	loaderOpts := []dataloader.Option{dataloader.WithWait(o.wait)}
	if o.capacity > 0 {
		loaderOpts = append(loaderOpts, dataloader.WithBatchCapacity(o.capacity))
	}
	return &EntityLoader{Loader: dataloader.NewBatchedLoader(batchFn, loaderOpts...)}
}

// Load returns the summary of a live local entity. The boolean is false when
// the entity is not held or is soft-deleted.
func (l *EntityLoader) Load(ctx context.Context, guid string) (domain.EntitySummary, bool, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(guid))()
	if err != nil {
		return domain.EntitySummary{}, false, err
	}
	summary, ok := data.(*domain.EntitySummary)
	if !ok || summary == nil {
		return domain.EntitySummary{}, false, nil
	}
	return *summary, true, nil
}

// LoadMany returns the summaries of the live local entities among guids,
// keyed by GUID.
func (l *EntityLoader) LoadMany(ctx context.Context, guids []string) (map[string]domain.EntitySummary, error) {
	data, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(guids))()
	out := make(map[string]domain.EntitySummary, len(guids))
	for i, d := range data {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		if summary, ok := d.(*domain.EntitySummary); ok && summary != nil {
			out[guids[i]] = *summary
		}
	}
	return out, nil
}

// Clear drops a cached result so the next Load fetches again.
func (l *EntityLoader) Clear(ctx context.Context, guid string) {
	l.Loader.Clear(ctx, dataloader.StringKey(guid))
}
