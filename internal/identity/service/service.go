// Package service is the registry's single entry point. Every mutation runs
// as one kv.Store.Update: the capability check, the identity and name
// changes and the event log append commit together or not at all. Reads run
// in kv.Store.View against the last committed state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"soulid/internal/identity/guard"
	identitymetrics "soulid/internal/identity/metrics"
	"soulid/internal/identity/models"
	"soulid/internal/identity/store/events"
	identitystore "soulid/internal/identity/store/identity"
	soulnames "soulid/internal/identity/store/names"
	"soulid/internal/identity/uri"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/sentinel"
	"soulid/pkg/requestcontext"
)

const (
	bindingKey = "binding/names"

	// MaxMetadataURILen bounds the opaque metadata pointer.
	MaxMetadataURILen = 2048

	defaultCollectionName = "Masa Identity"
	defaultSymbol         = "MID"
)

// Service composes the guard, the stores and the URI resolver.
type Service struct {
	store      kv.Store
	identities *identitystore.Store
	guard      *guard.Guard
	events     *events.Log
	resolver   *uri.Resolver
	registries map[string]*soulnames.Registry
	// fallback is consulted until an operator binding is stored.
	fallback string

	collectionName string
	symbol         string

	logger  *slog.Logger
	metrics *identitymetrics.Metrics
	tracer  trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithCollection overrides the collection name and symbol reported by Info.
func WithCollection(name, symbol string) Option {
	return func(s *Service) {
		if name != "" {
			s.collectionName = name
		}
		if symbol != "" {
			s.symbol = symbol
		}
	}
}

// WithDefaultNameRegistry selects the registry used until the operator
// rebinds. Defaults to the first registry passed to New.
func WithDefaultNameRegistry(namespace string) Option {
	return func(s *Service) {
		s.fallback = namespace
	}
}

// New constructs a Service over store. At least one name registry is required.
func New(store kv.Store, resolver *uri.Resolver, registries []*soulnames.Registry, opts ...Option) (*Service, error) {
	if store == nil || resolver == nil {
		return nil, errors.New("service: store and resolver are required")
	}
	if len(registries) == 0 {
		return nil, errors.New("service: at least one name registry is required")
	}
	identities := identitystore.New()
	s := &Service{
		store:          store,
		identities:     identities,
		guard:          guard.New(identities),
		events:         events.New(),
		resolver:       resolver,
		registries:     make(map[string]*soulnames.Registry, len(registries)),
		fallback:       registries[0].Namespace(),
		collectionName: defaultCollectionName,
		symbol:         defaultSymbol,
		logger:         slog.New(slog.DiscardHandler),
		tracer:         otel.Tracer("soulid/identity"),
	}
	for _, r := range registries {
		if _, dup := s.registries[r.Namespace()]; dup {
			return nil, fmt.Errorf("service: duplicate name registry %q", r.Namespace())
		}
		s.registries[r.Namespace()] = r
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.registries[s.fallback]; !ok {
		return nil, fmt.Errorf("service: default name registry %q is not configured", s.fallback)
	}
	return s, nil
}

// Bootstrap seeds the operator on an empty store. A stored operator is left
// alone; it only changes through TransferOperator.
func (s *Service) Bootstrap(ctx context.Context, operator id.Address) error {
	var seeded bool
	err := s.store.Update(ctx, func(txn kv.Txn) error {
		var err error
		seeded, err = s.guard.Bootstrap(txn, operator)
		return err
	})
	if err != nil {
		return translate(err)
	}
	if seeded {
		s.logAudit(ctx, "operator_seeded", "operator", operator)
	}
	return nil
}

// activeRegistry returns the name registry currently bound.
func (s *Service) activeRegistry(r kv.Reader) (*soulnames.Registry, error) {
	namespace, err := kv.GetString(r, bindingKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		namespace = s.fallback
	} else if err != nil {
		return nil, err
	}
	reg, ok := s.registries[namespace]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("bound name registry %q is not configured", namespace))
	}
	return reg, nil
}

// mutate runs fn as one transaction and records tracing, metrics and the
// outcome. Errors come back translated.
func (s *Service) mutate(ctx context.Context, operation string, caller id.Address, fn func(txn kv.Txn, now time.Time) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "identity."+operation, trace.WithAttributes(
		attribute.String("soulid.operation", operation),
		attribute.String("soulid.caller", caller.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var count uint64
	err := s.store.Update(ctx, func(txn kv.Txn) error {
		if err := fn(txn, now); err != nil {
			return err
		}
		var err error
		count, err = s.identities.Count(txn)
		return err
	})
	err = translate(err)

	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.WarnContext(ctx, "registry mutation rejected",
			"operation", operation,
			"caller", caller,
			"request_id", requestcontext.RequestID(ctx),
			"client_ip", requestcontext.ClientIP(ctx),
			"error", err,
		)
	} else if s.metrics != nil {
		s.metrics.SetLiveIdentities(count)
	}
	if s.metrics != nil {
		s.metrics.ObserveMutation(operation, outcome, start)
	}
	return err
}

// view runs fn against the committed state and translates its error.
func (s *Service) view(ctx context.Context, operation string, fn func(r kv.Reader, now time.Time) error) error {
	ctx, span := s.tracer.Start(ctx, "identity."+operation)
	defer span.End()

	now := requestcontext.Now(ctx)
	err := translate(s.store.View(ctx, func(txn kv.Txn) error {
		return fn(txn, now)
	}))
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	return err
}

func (s *Service) appendEvent(txn kv.Txn, e *models.Event) error {
	if err := s.events.Append(txn, e); err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	if clientIP := requestcontext.ClientIP(ctx); clientIP != "" {
		attributes = append(attributes, "client_ip", clientIP)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// translate maps store and registry failures onto domain error codes. The
// original sentinel stays reachable with errors.Is.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, models.ErrAlreadyHasIdentity):
		return dErrors.Wrap(err, dErrors.CodeConflict, "holder already has an identity")
	case errors.Is(err, models.ErrNameAlreadyExists):
		return dErrors.Wrap(err, dErrors.CodeConflict, "name already exists")
	case errors.Is(err, models.ErrIdentityAlreadyNamed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "identity already has a name")
	case errors.Is(err, models.ErrNameNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "name not found")
	case errors.Is(err, models.ErrIndexOutOfRange):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "index out of range")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "identity not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "registry operation timed out")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "registry storage unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "registry operation failed")
}

func validateMetadataURI(metadataURI string) error {
	if len(metadataURI) > MaxMetadataURILen {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("metadata URI must be %d bytes or less", MaxMetadataURILen))
	}
	return nil
}

func identityRef(identityID id.IdentityID) *id.IdentityID {
	return &identityID
}

func timeRef(t time.Time) *time.Time {
	return &t
}
