package membership

import (
	"context"
	"errors"
	"log/slog"
	"time"

	otelx "github.com/localbiz/membership/libs/otel"
	"github.com/localbiz/membership/services/membership-service/internal/gateway"
	"github.com/localbiz/membership/services/membership-service/internal/metrics"
	"github.com/localbiz/membership/services/membership-service/internal/plans"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStoreTimeout applies when Config.StoreTimeout is unset.
const DefaultStoreTimeout = 5 * time.Second

// Store is the persistence the service needs for requests and businesses.
type Store interface {
	FindRequest(ctx context.Context, id string) (storage.MembershipRequest, error)
	UpdateRequest(ctx context.Context, id string, upd storage.RequestUpdate) error
	UpdateBusinessLevel(ctx context.Context, businessID, membershipID string, level int) (storage.LevelChange, error)
}

// LevelResolver maps a plan id to its level.
type LevelResolver interface {
	ResolveLevel(ctx context.Context, planID string) (int, error)
}

// Config tunes the transition policy and store deadlines.
type Config struct {
	Policy Policy
	// StoreTimeout bounds every individual store call.
	StoreTimeout time.Duration
}

// Service applies gateway payment events to membership requests and
// activates the purchased plan on the business.
type Service struct {
	store   Store
	plans   LevelResolver
	logger  *slog.Logger
	metrics metrics.Recorder
	policy  Policy
	timeout time.Duration
	tracer  trace.Tracer
}

// NewService defaults a nil Recorder to metrics.Noop and a zero StoreTimeout to
// DefaultStoreTimeout.
func NewService(store Store, resolver LevelResolver, logger *slog.Logger, m metrics.Recorder, cfg Config) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{
		store:   store,
		plans:   resolver,
		logger:  logger,
		metrics: m,
		policy:  cfg.Policy,
		timeout: cfg.StoreTimeout,
		tracer:  otel.Tracer("membership-service/membership"),
	}
}

// Activation describes a business update that was written.
type Activation struct {
	BusinessID   string
	MembershipID string
	Level        int
	Changed      bool
}

type Result struct {
	RequestID  string
	Transition Transition
	// Activation is set when the business write succeeded.
	Activation *Activation
	// ActivationErr holds a plan lookup or business write failure. The
	// request status was already stored when it is set.
	ActivationErr error
}

// Apply processes one payment event. The returned error is non-nil only when
// the request could not be read or its status could not be written; it wraps
// storage.ErrNotFound when the reference matches no request.
func (s *Service) Apply(ctx context.Context, evt gateway.PaymentEvent) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.apply", trace.WithAttributes(
		attribute.String("membership.request_id", evt.RequestID),
		attribute.String("gateway.status", string(evt.Status)),
	))
	defer func() { otelx.EndSpan(span, err) }()

	res.RequestID = evt.RequestID

	req, err := s.findRequest(ctx, evt.RequestID)
	if err != nil {
		return res, err
	}

	t := s.policy.Next(req, evt)
	res.Transition = t
	span.SetAttributes(
		attribute.String("membership.from", string(t.From)),
		attribute.String("membership.to", string(t.To)),
	)
	if t.Superseded {
		s.logger.InfoContext(ctx, "gateway event superseded by terminal status",
			"request_id", req.ID, "status", t.From, "gateway_status", evt.RawStatus)
		return res, nil
	}

	if err := s.updateRequest(ctx, req.ID, storage.RequestUpdate{
		Status:        t.To,
		TransactionID: evt.TransactionID,
		PaymentMethod: evt.PaymentMethod,
	}); err != nil {
		return res, err
	}
	s.metrics.RecordTransition(string(t.From), string(t.To))
	s.logger.InfoContext(ctx, "membership request updated",
		"request_id", req.ID, "from", t.From, "to", t.To, "transaction_id", evt.TransactionID)

	if !t.Activate {
		return res, nil
	}
	act, actErr := s.activate(ctx, req.BusinessID, req.PlanID)
	if actErr != nil {
		res.ActivationErr = actErr
		span.RecordError(actErr)
		s.logger.WarnContext(ctx, "business activation skipped",
			"request_id", req.ID, "business_id", req.BusinessID, "plan_id", req.PlanID, "err", actErr)
		return res, nil
	}
	res.Activation = &act
	return res, nil
}

// Activate re-applies the plan of a completed request to its business.
func (s *Service) Activate(ctx context.Context, a storage.PendingActivation) (act Activation, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.activate", trace.WithAttributes(
		attribute.String("membership.request_id", a.RequestID),
		attribute.String("membership.business_id", a.BusinessID),
	))
	defer func() { otelx.EndSpan(span, err) }()

	return s.activate(ctx, a.BusinessID, a.PlanID)
}

func (s *Service) activate(ctx context.Context, businessID, planID string) (Activation, error) {
	level, err := s.resolveLevel(ctx, planID)
	if err != nil {
		if errors.Is(err, plans.ErrPlanNotFound) {
			s.metrics.RecordActivation(metrics.ActivationPlanNotFound)
		} else {
			s.metrics.RecordActivation(metrics.ActivationFailed)
		}
		return Activation{}, err
	}

	change, err := s.updateBusinessLevel(ctx, businessID, planID, level)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.RecordActivation(metrics.ActivationBusinessNotFound)
		} else {
			s.metrics.RecordActivation(metrics.ActivationFailed)
		}
		return Activation{}, err
	}

	if change.Changed {
		s.metrics.RecordActivation(metrics.ActivationApplied)
		s.logger.InfoContext(ctx, "business plan activated",
			"business_id", businessID, "membership_id", planID, "level", level,
			"previous_membership_id", change.PreviousMembershipID, "previous_level", change.PreviousLevel)
	} else {
		s.metrics.RecordActivation(metrics.ActivationUnchanged)
	}
	return Activation{BusinessID: businessID, MembershipID: planID, Level: level, Changed: change.Changed}, nil
}

func (s *Service) findRequest(ctx context.Context, id string) (storage.MembershipRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.FindRequest(ctx, id)
}

func (s *Service) updateRequest(ctx context.Context, id string, upd storage.RequestUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.UpdateRequest(ctx, id, upd)
}

func (s *Service) resolveLevel(ctx context.Context, planID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.plans.ResolveLevel(ctx, planID)
}

func (s *Service) updateBusinessLevel(ctx context.Context, businessID, planID string, level int) (storage.LevelChange, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.UpdateBusinessLevel(ctx, businessID, planID, level)
}
