package payout

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/commission"
	"github.com/xenking/influencer-settlement/internal/domain/txn"
)

// CreateInput selects the commissions grouped into a new payment request.
type CreateInput struct {
	InfluencerID  string   `validate:"required"`
	CommissionIDs []string `validate:"required,min=1,dive,required"`
}

type contentLinks struct {
	Links []string `validate:"required,min=1,dive,required,url"`
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sends influencer notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithURLResolver resolves invoice keys when payments are read.
func WithURLResolver(r URLResolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithMeterProvider sets the meter provider for transition counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// Service runs the payout workflow.
type Service struct {
	repo        Repository
	commissions CommissionStore
	profiles    ProfileStore
	tx          txn.Manager
	currency    string
	validate    *validator.Validate

	notifier Notifier
	resolver URLResolver

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	transitions    metric.Int64Counter

	now func() time.Time
}

// NewService creates a payout Service.
func NewService(
	repo Repository,
	commissions CommissionStore,
	profiles ProfileStore,
	tx txn.Manager,
	currency string,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		repo:           repo,
		commissions:    commissions,
		profiles:       profiles,
		tx:             tx,
		currency:       currency,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	const scope = "github.com/xenking/influencer-settlement/internal/domain/payout"
	s.tracer = s.tracerProvider.Tracer(scope)
	counter, err := s.meterProvider.Meter(scope).Int64Counter("payout.status.transitions",
		metric.WithDescription("Payment request status transitions committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}
	s.transitions = counter
	return s, nil
}

// Create groups pending, unlinked commissions of one influencer into a new
// payment request. Either every selected commission is linked or none is.
func (s *Service) Create(ctx context.Context, a Actor, in CreateInput) (*Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payout.Create")
	defer span.End()

	if a.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.Validation("debe indicar el influencer y al menos una comisión")
	}
	ids := slices.Clone(in.CommissionIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var (
		p       *Payment
		profile *Profile
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		selected, err := s.commissions.GetByIDs(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "get commissions")
		}
		if missing := missingIDs(ids, selected); len(missing) > 0 {
			return apperr.NotFound("comisiones no encontradas: %s", strings.Join(missing, ", "))
		}

		total := decimal.Zero
		for _, c := range selected {
			if c.InfluencerID != in.InfluencerID {
				return ErrCommissionOwner
			}
			if c.Status != commission.StatusPending || c.PaymentID != nil {
				return ErrCommissionUnavailable
			}
			total = total.Add(c.Amount)
		}

		profile, err = s.profiles.GetProfile(ctx, in.InfluencerID)
		if err != nil {
			return errors.Wrap(err, "get influencer profile")
		}
		if profile.Method == "" {
			return ErrNoPaymentMethod
		}

		now := s.now()
		p = &Payment{
			ID:               uuid.NewString(),
			InfluencerID:     in.InfluencerID,
			TotalAmount:      total.Round(2),
			Currency:         s.currency,
			Method:           profile.Method,
			AccountHolder:    profile.AccountHolder,
			CVU:              profile.CVU,
			Alias:            profile.Alias,
			BankName:         profile.BankName,
			MercadoPagoEmail: profile.MercadoPagoEmail,
			Status:           StatusPending,
			RequestedAt:      now,
			UpdatedAt:        now,
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return errors.Wrap(err, "create payment")
		}
		linked, err := s.commissions.Link(ctx, p.ID, ids)
		if err != nil {
			return errors.Wrap(err, "link commissions")
		}
		if linked != int64(len(ids)) {
			return ErrCommissionUnavailable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Payment requested",
		zap.String("payment_id", p.ID),
		zap.String("influencer_id", p.InfluencerID),
		zap.Int("commissions", len(ids)),
		zap.String("total", p.TotalAmount.StringFixed(2)),
	)
	if s.notifier != nil && profile.Email != "" {
		s.notifier.PaymentRequest(ctx, profile.Email, profile.Name, p.TotalAmount)
	}
	return p, nil
}

// UploadInvoice stores a new invoice revision and moves the payment to
// invoice_uploaded. Earlier revisions are disabled and a previous rejection
// is cleared.
func (s *Service) UploadInvoice(ctx context.Context, a Actor, paymentID, key string) (*Payment, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperr.Validation("debe adjuntar la factura")
	}
	p, _, err := s.transition(ctx, a, paymentID, StatusInvoiceUploaded, true,
		func(ctx context.Context, p *Payment, now time.Time) error {
			if err := s.repo.DisableInvoices(ctx, p.ID); err != nil {
				return errors.Wrap(err, "disable invoices")
			}
			inv := &Invoice{
				ID:         uuid.NewString(),
				PaymentID:  p.ID,
				Status:     InvoiceUploaded,
				URL:        key,
				Enabled:    true,
				UploadedBy: a.ID,
				CreatedAt:  now,
			}
			if err := s.repo.CreateInvoice(ctx, inv); err != nil {
				return errors.Wrap(err, "create invoice")
			}
			p.InvoiceURL = &key
			p.InvoiceUploadedAt = &now
			p.RejectionReason = nil
			p.InvoiceRejectedAt = nil
			return nil
		},
	)
	return p, err
}

// Approve accepts the current invoice.
func (s *Service) Approve(ctx context.Context, a Actor, paymentID string) (*Payment, error) {
	if a.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	p, changed, err := s.transition(ctx, a, paymentID, StatusApproved, false,
		func(ctx context.Context, p *Payment, now time.Time) error {
			if p.ApprovedAt == nil {
				p.ApprovedAt = &now
			}
			return s.reviewInvoice(ctx, a, p.ID, InvoiceApproved, nil, now)
		},
	)
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyInfluencer(ctx, p.InfluencerID, func(to, name string) {
			s.notifier.InvoiceApproved(ctx, to, name, p.TotalAmount)
		})
	}
	return p, nil
}

// Reject turns the current invoice down with reason and clears the invoice
// from the payment so that a new one has to be uploaded.
func (s *Service) Reject(ctx context.Context, a Actor, paymentID, reason string) (*Payment, error) {
	if a.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("debe indicar el motivo del rechazo")
	}
	p, changed, err := s.transition(ctx, a, paymentID, StatusInvoiceRejected, false,
		func(ctx context.Context, p *Payment, now time.Time) error {
			if err := s.reviewInvoice(ctx, a, p.ID, InvoiceRejected, &reason, now); err != nil {
				return err
			}
			p.InvoiceURL = nil
			p.InvoiceUploadedAt = nil
			p.RejectionReason = &reason
			p.InvoiceRejectedAt = &now
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyInfluencer(ctx, p.InfluencerID, func(to, name string) {
			s.notifier.InvoiceRejected(ctx, to, name, reason)
		})
	}
	return p, nil
}

// MarkPaid records the payout and marks every linked pending commission
// paid at the same instant. Marking a paid payment again changes nothing.
func (s *Service) MarkPaid(ctx context.Context, a Actor, paymentID string) (*Payment, error) {
	if a.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	p, changed, err := s.transition(ctx, a, paymentID, StatusPaid, false,
		func(ctx context.Context, p *Payment, now time.Time) error {
			if p.PaidAt == nil {
				p.PaidAt = &now
			}
			if _, err := s.commissions.MarkPaid(ctx, p.ID, *p.PaidAt); err != nil {
				return errors.Wrap(err, "mark commissions paid")
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyInfluencer(ctx, p.InfluencerID, func(to, name string) {
			s.notifier.PaymentCompleted(ctx, to, name, p.TotalAmount)
		})
	}
	return p, nil
}

// Cancel closes a non-terminal payment and releases its pending
// commissions so they can be grouped again.
func (s *Service) Cancel(ctx context.Context, a Actor, paymentID string) (*Payment, error) {
	if a.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	p, _, err := s.transition(ctx, a, paymentID, StatusCancelled, false,
		func(ctx context.Context, p *Payment, now time.Time) error {
			if p.CancelledAt == nil {
				p.CancelledAt = &now
			}
			if _, err := s.commissions.Unlink(ctx, p.ID); err != nil {
				return errors.Wrap(err, "unlink commissions")
			}
			return nil
		},
	)
	return p, err
}

// AddContentLinks attaches proof-of-publication URLs to an open payment.
func (s *Service) AddContentLinks(ctx context.Context, a Actor, paymentID string, links []string) (*Payment, error) {
	if err := s.validate.Struct(contentLinks{Links: links}); err != nil {
		return nil, apperr.Validation("los enlaces de contenido deben ser URLs válidas")
	}

	var p *Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := authorize(a, p, true); err != nil {
			return err
		}
		if p.Status.Terminal() {
			return apperr.State("no se pueden agregar enlaces a un pago en estado %s", string(p.Status))
		}
		for _, l := range links {
			if !slices.Contains(p.ContentLinks, l) {
				p.ContentLinks = append(p.ContentLinks, l)
			}
		}
		p.UpdatedAt = s.now()
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// Get returns the payment with its commissions and a retrievable link to
// the current invoice. A failing link resolution falls back to the stored
// key.
func (s *Service) Get(ctx context.Context, a Actor, paymentID string) (*View, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, notFound(err)
	}
	if err := authorize(a, p, true); err != nil {
		return nil, err
	}
	comms, err := s.commissions.ListByPayment(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list payment commissions")
	}

	v := &View{Payment: *p, Commissions: comms}
	if p.InvoiceURL != nil {
		v.InvoiceLink = *p.InvoiceURL
		if s.resolver != nil {
			link, err := s.resolver.Resolve(ctx, *p.InvoiceURL)
			if err != nil {
				zctx.From(ctx).Warn("Resolve invoice link failed, returning stored key",
					zap.String("payment_id", p.ID),
					zap.Error(err),
				)
			} else {
				v.InvoiceLink = link
			}
		}
	}
	return v, nil
}

// Invoices returns the payment's invoice ledger, newest first.
func (s *Service) Invoices(ctx context.Context, a Actor, paymentID string) ([]Invoice, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, notFound(err)
	}
	if err := authorize(a, p, true); err != nil {
		return nil, err
	}
	out, err := s.repo.ListInvoices(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	return out, nil
}

// transition locks the payment, checks the actor and the transition table,
// runs apply and stores the result in one transaction. It reports whether
// anything changed.
func (s *Service) transition(
	ctx context.Context,
	a Actor,
	paymentID string,
	to Status,
	influencerAllowed bool,
	apply func(ctx context.Context, p *Payment, now time.Time) error,
) (*Payment, bool, error) {
	ctx, span := s.tracer.Start(ctx, "payout.Transition",
		trace.WithAttributes(attribute.String("payment.status", string(to))),
	)
	defer span.End()

	var (
		p       *Payment
		from    Status
		changed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := authorize(a, p, influencerAllowed); err != nil {
			return err
		}
		from = p.Status
		if from == StatusPaid && to == StatusPaid {
			return nil
		}
		if !CanTransition(from, to) {
			return transitionError(from, to)
		}

		now := s.now()
		if err := apply(ctx, p, now); err != nil {
			return err
		}
		p.Status = to
		p.UpdatedAt = now
		if err := s.repo.Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, notFound(err)
	}

	if changed {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		))
		zctx.From(ctx).Info("Payment status changed",
			zap.String("payment_id", p.ID),
			zap.String("actor_id", a.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return p, changed, nil
}

func (s *Service) reviewInvoice(ctx context.Context, a Actor, paymentID string, status InvoiceStatus, observation *string, now time.Time) error {
	inv, err := s.repo.CurrentInvoice(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrNoInvoice) {
			return ErrNoInvoice
		}
		return errors.Wrap(err, "get current invoice")
	}
	inv.Status = status
	inv.Observation = observation
	inv.StatusChangedBy = &a.ID
	inv.StatusChangedAt = &now
	if err := s.repo.UpdateInvoice(ctx, inv); err != nil {
		return errors.Wrap(err, "update invoice")
	}
	return nil
}

// notifyInfluencer looks the influencer's contact up and hands it to send.
// Lookup failures are logged.
func (s *Service) notifyInfluencer(ctx context.Context, influencerID string, send func(to, name string)) {
	if s.notifier == nil {
		return
	}
	profile, err := s.profiles.GetProfile(ctx, influencerID)
	if err != nil {
		zctx.From(ctx).Warn("Skip influencer notification",
			zap.String("influencer_id", influencerID),
			zap.Error(err),
		)
		return
	}
	if profile.Email == "" {
		return
	}
	send(profile.Email, profile.Name)
}

// authorize lets admins act on any payment and influencers act on their own
// payments where influencerAllowed.
func authorize(a Actor, p *Payment, influencerAllowed bool) error {
	switch a.Role {
	case RoleAdmin:
		return nil
	case RoleInfluencer:
		if influencerAllowed && a.InfluencerID != "" && a.InfluencerID == p.InfluencerID {
			return nil
		}
	}
	return ErrForbidden
}

func missingIDs(ids []string, found []commission.Commission) []string {
	seen := make(map[string]struct{}, len(found))
	for _, c := range found {
		seen[c.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func notFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return err
}
