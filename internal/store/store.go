// Package store is the instance store: it validates requests, drives the
// lifecycle machine, stamps versions through the ledger and commits records
// with a version-checked swap in the repository.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/ledger"
	"github.com/rpattn/metarepo/internal/lifecycle"
	"github.com/rpattn/metarepo/internal/logging"
	"github.com/rpattn/metarepo/internal/metrics"
	"github.com/rpattn/metarepo/internal/pubsub"
	"github.com/rpattn/metarepo/internal/repository"
	"github.com/rpattn/metarepo/pkg/validator"
)

const tracerName = "github.com/rpattn/metarepo/internal/store"

// TypeRegistry is the read-only view of type definitions the store consults.
type TypeRegistry interface {
	Lookup(ref domain.TypeRef) (domain.TypeDef, bool)
}

// Config is the repository policy the store enforces.
type Config struct {
	Collection domain.MetadataCollection
	SoftDelete bool
	// HistoryRetention is the number of property snapshots kept per
	// instance. Zero disables undo.
	HistoryRetention int
	// StrictReferenceCopies requires a strictly higher version when a
	// reference copy is saved again.
	StrictReferenceCopies bool
}

// Store is safe for concurrent use.
type Store struct {
	repo      repository.InstanceRepository
	types     TypeRegistry
	validator *validator.ConformanceValidator
	machine   *lifecycle.Machine
	ledger    *ledger.Ledger
	cfg       Config

	events  pubsub.Publisher[domain.InstanceEvent]
	metrics *metrics.StoreMetrics
	tracer  trace.Tracer
	logger  *slog.Logger
	newGUID func() string
	clock   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithEvents publishes an InstanceEvent after every commit.
func WithEvents(events pubsub.Publisher[domain.InstanceEvent]) Option {
	return func(s *Store) { s.events = events }
}

// WithMetrics records operation counts and latencies.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTracer replaces the global otel tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) { s.tracer = tracer }
}

// WithLogger sets the logger for commits and rejected operations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock replaces the time source used for audit stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// WithGUIDGenerator replaces uuid.NewString for new instances.
func WithGUIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newGUID = gen }
}

// New creates a store over repo. Soft delete and undo are only offered where
// the configuration, the backend and the instance's type all allow them.
func New(repo repository.InstanceRepository, types TypeRegistry, cfg Config, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		types:     types,
		validator: validator.NewConformanceValidator(),
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
		newGUID:   uuid.NewString,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)

	backend := repo.Capabilities()
	retention := cfg.HistoryRetention
	if !backend.History {
		retention = 0
	}
	s.ledger = ledger.New(retention, ledger.WithClock(s.clock))
	s.machine = lifecycle.New(lifecycle.Capabilities{
		SoftDelete: cfg.SoftDelete && backend.SoftDelete,
		Undo:       retention > 0,
	})
	return s
}

// MetadataCollection returns the identity of the local repository.
func (s *Store) MetadataCollection() domain.MetadataCollection {
	return s.cfg.Collection
}

// Capabilities reports whether soft delete and undo are available for
// instances of the type, so callers can discover support up front.
func (s *Store) Capabilities(ref domain.TypeRef) (lifecycle.Capabilities, error) {
	def, ok := s.types.Lookup(ref)
	if !ok {
		return lifecycle.Capabilities{}, domain.TypeError("capabilities", "", ref, errors.New("type is not known"))
	}
	return s.machine.Capabilities(def), nil
}

// observe wraps an operation in a span, a metric observation and, for
// rejections, a debug log line.
func (s *Store) observe(ctx context.Context, op, guid string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("metarepo.operation", op),
			attribute.String("metarepo.guid", guid),
		),
	)
	defer span.End()

	err := fn(ctx)
	s.metrics.Observe(op, outcomeOf(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("store operation rejected",
			"guid", guid,
			"operation", op,
			"error_kind", string(domain.KindOf(err)),
			"error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, domain.ErrFunctionNotSupported):
		return metrics.OutcomeUnsupported
	case errors.Is(err, domain.ErrConcurrentModification):
		return metrics.OutcomeConflict
	case domain.KindOf(err) != "":
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// committed publishes the event for a successful mutation and logs it.
func (s *Store) committed(kind domain.InstanceEventKind, h domain.InstanceHeader, previous domain.InstanceStatus, classification, user string) {
	s.logger.Debug("store mutation committed",
		"guid", h.GUID,
		"event", string(kind),
		"version", h.Version,
		"status", string(h.Status))
	if s.events == nil {
		return
	}
	s.events.Publish(eventTypeOf(kind), domain.InstanceEvent{
		Kind:                 kind,
		GUID:                 h.GUID,
		Type:                 h.Type,
		Version:              h.Version,
		Status:               h.Status,
		PreviousStatus:       previous,
		MetadataCollectionID: h.MetadataCollectionID,
		Classification:       classification,
		User:                 user,
		Time:                 s.eventTime(kind, h),
	})
}

// eventTime is the commit's own stamp. Purges and reference-copy saves do not
// stamp the local header, so they use the current time.
func (s *Store) eventTime(kind domain.InstanceEventKind, h domain.InstanceHeader) time.Time {
	switch kind {
	case domain.EventPurgedEntity, domain.EventPurgedRelationship,
		domain.EventEntityReferenceCopyPurged, domain.EventRelationshipReferenceCopyPurged,
		domain.EventEntityReferenceCopySaved, domain.EventRelationshipReferenceCopySaved:
		return s.ledger.Now()
	}
	return h.UpdateTime
}

func eventTypeOf(kind domain.InstanceEventKind) pubsub.EventType {
	switch kind {
	case domain.EventNewEntity, domain.EventNewRelationship:
		return pubsub.CreatedEvent
	case domain.EventDeletedEntity, domain.EventDeletedRelationship:
		return pubsub.DeletedEvent
	case domain.EventRestoredEntity, domain.EventRestoredRelationship:
		return pubsub.RestoredEvent
	case domain.EventPurgedEntity, domain.EventPurgedRelationship,
		domain.EventEntityReferenceCopyPurged, domain.EventRelationshipReferenceCopyPurged:
		return pubsub.PurgedEvent
	case domain.EventEntityReferenceCopySaved, domain.EventRelationshipReferenceCopySaved:
		return pubsub.ReplicatedEvent
	default:
		return pubsub.UpdatedEvent
	}
}

// relabel names the store operation on errors raised by collaborators.
func relabel(err error, op string) error {
	var e *domain.Error
	if errors.As(err, &e) {
		e.Operation = op
	}
	return err
}

// typeFor resolves the type of a stored instance.
func (s *Store) typeFor(op string, h domain.InstanceHeader) (domain.TypeDef, error) {
	def, ok := s.types.Lookup(h.Type)
	if !ok {
		return domain.TypeDef{}, domain.TypeError(op, h.GUID, h.Type, errors.New("type is not known"))
	}
	return def, nil
}

// checkExpectedType rejects a delete or purge addressed with the wrong type.
func checkExpectedType(op string, def domain.TypeDef, expected domain.TypeRef) error {
	if expected.IsZero() || def.Matches(expected) {
		return nil
	}
	return domain.InvalidParameter(op, "typeRef", "does not match the type of the stored instance")
}

func (s *Store) checkHome(op string, h domain.InstanceHeader) error {
	if h.IsHomedIn(s.cfg.Collection.ID) {
		return nil
	}
	return domain.NotHome(op, h, s.cfg.Collection.ID)
}
