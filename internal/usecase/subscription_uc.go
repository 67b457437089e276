package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"lms-payments/internal/config"
	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
	"lms-payments/internal/domain/ports/repository"
	"lms-payments/internal/infra/logging"
	"lms-payments/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// CreateSubscriptionInput is a subscription request. AutoRenew nil means
// renew unless the plan is lifetime.
type CreateSubscriptionInput struct {
	StudentID     string
	Type          string
	PaymentMethod string
	AutoRenew     *bool
	TrialDays     int
	Currency      string
	PaymentID     string
	// Saved gateway references for off-session renewal charges.
	PaymentMethodRef string
	CustomerRef      string
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Pending   int // renewal charges still awaiting the gateway
}

func (r SweepReport) add(o SweepReport) SweepReport {
	return SweepReport{
		Processed: r.Processed + o.Processed,
		Succeeded: r.Succeeded + o.Succeeded,
		Failed:    r.Failed + o.Failed,
		Skipped:   r.Skipped + o.Skipped,
		Pending:   r.Pending + o.Pending,
	}
}

type SubscriptionUseCase interface {
	Create(ctx context.Context, in CreateSubscriptionInput) (*model.Subscription, error)
	Cancel(ctx context.Context, id string) (*model.Subscription, error)
	Get(ctx context.Context, id string) (*model.Subscription, error)
	ListByStudent(ctx context.Context, studentID string) ([]*model.Subscription, error)
	// ProcessRenewals settles renewal charges still in flight, then charges every
	// subscription billed within the renewal window.
	ProcessRenewals(ctx context.Context) (SweepReport, error)
	// DeactivateExpired turns off non-renewing subscriptions past their end date.
	DeactivateExpired(ctx context.Context) (SweepReport, error)
}

type subscriptionUC struct {
	subs     repository.SubscriptionRepository
	payments PaymentUseCase
	tm       repository.TransactionManager
	events   adapter.EventPublisher
	currency string
	sched    config.SchedulerConfig
	log      *zerolog.Logger
	now      func() time.Time
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	payments PaymentUseCase,
	tm repository.TransactionManager,
	events adapter.EventPublisher,
	defaultCurrency string,
	sched config.SchedulerConfig,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	if sched.BatchSize <= 0 {
		sched.BatchSize = 200
	}
	if sched.RenewalWindow <= 0 {
		sched.RenewalWindow = 24 * time.Hour
	}
	return &subscriptionUC{
		subs:     subs,
		payments: payments,
		tm:       tm,
		events:   events,
		currency: defaultCurrency,
		sched:    sched,
		log:      &l,
		now:      time.Now,
	}
}

func (u *subscriptionUC) Create(ctx context.Context, in CreateSubscriptionInput) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Create")()

	if in.StudentID == "" {
		return nil, domain.ValidationError("studentId is required")
	}
	plan, err := model.ParsePlanType(in.Type)
	if err != nil {
		return nil, domain.SubscriptionError(domain.ErrInvalidArgument, "invalid plan %q", in.Type)
	}
	method, err := model.ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, domain.ValidationError("unknown payment method %q", in.PaymentMethod)
	}
	currency := in.Currency
	if currency == "" {
		currency = u.currency
	}
	if currency, err = model.NormalizeCurrency(currency); err != nil {
		return nil, domain.ValidationError("currency must be a 3-letter code")
	}
	autoRenew := !plan.IsLifetime()
	if in.AutoRenew != nil {
		autoRenew = *in.AutoRenew
	}

	var out *model.Subscription
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.subs.LockStudent(ctx, tx, in.StudentID); err != nil {
			return err
		}
		existing, err := u.subs.FindActiveByStudent(ctx, tx, in.StudentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			return domain.SubscriptionError(domain.ErrAlreadyExists, "student %s already has an active subscription", in.StudentID)
		}
		s, err := model.NewSubscription(uuid.NewString(), in.StudentID, plan, method, autoRenew, in.TrialDays, currency, u.now())
		if err != nil {
			return err
		}
		if in.PaymentID != "" {
			pid := in.PaymentID
			s.LastPaymentID = &pid
		}
		if in.PaymentMethodRef != "" {
			ref := in.PaymentMethodRef
			s.PaymentMethodRef = &ref
		}
		if in.CustomerRef != "" {
			ref := in.CustomerRef
			s.CustomerRef = &ref
		}
		if err := u.subs.Save(ctx, tx, s); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.SubscriptionError(domain.ErrAlreadyExists, "student %s already has an active subscription", in.StudentID)
			}
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.log.Info().Str("subscription_id", out.ID).Str("student_id", out.StudentID).Str("plan", string(out.Type)).
		Bool("auto_renew", out.AutoRenew).Time("end_date", out.EndDate).Msg("subscription created")
	metrics.IncSubscription("created", string(out.Type))
	publish(ctx, u.events, u.log, adapter.EventSubscriptionCreated, subscriptionEvent(out, out.CreatedAt))
	return out, nil
}

func (u *subscriptionUC) Cancel(ctx context.Context, id string) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Cancel")()

	var (
		out     *model.Subscription
		changed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.find(ctx, tx, id)
		if err != nil {
			return err
		}
		out = s
		if changed = s.Cancel(u.now()); !changed {
			return nil
		}
		return u.subs.Save(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		u.log.Info().Str("subscription_id", out.ID).Time("usable_until", out.EndDate).Msg("subscription cancelled")
		metrics.IncSubscription("cancelled", string(out.Type))
		publish(ctx, u.events, u.log, adapter.EventSubscriptionCancelled, subscriptionEvent(out, *out.CancelledAt))
	}
	return out, nil
}

func (u *subscriptionUC) Get(ctx context.Context, id string) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Get")()
	return u.find(ctx, repository.NoTX, id)
}

func (u *subscriptionUC) ListByStudent(ctx context.Context, studentID string) ([]*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ListByStudent")()
	if studentID == "" {
		return nil, domain.ValidationError("studentId is required")
	}
	return u.subs.ListByStudent(ctx, repository.NoTX, studentID)
}

func (u *subscriptionUC) find(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	s, err := u.subs.FindByID(ctx, tx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.SubscriptionError(domain.ErrNotFound, "subscription %s not found", id)
	}
	return s, err
}

type itemResult int

const (
	itemDone itemResult = iota
	itemSkipped
	itemPending
	itemDeclined
)

func (u *subscriptionUC) ProcessRenewals(ctx context.Context) (SweepReport, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ProcessRenewals")()
	settled, err := u.sweep(ctx, "renewal-settlement",
		func(ctx context.Context) ([]*model.Subscription, error) {
			return u.subs.ListAwaitingPayment(ctx, repository.NoTX, u.sched.BatchSize)
		},
		u.settleOne,
		metrics.IncRenewal,
	)
	if err != nil {
		return settled, err
	}
	horizon := u.now().Add(u.sched.RenewalWindow)
	charged, err := u.sweep(ctx, "renewal",
		func(ctx context.Context) ([]*model.Subscription, error) {
			return u.subs.ListDueForRenewal(ctx, repository.NoTX, horizon, u.sched.BatchSize)
		},
		func(ctx context.Context, id string) (itemResult, error) {
			return u.renewOne(ctx, id, horizon)
		},
		metrics.IncRenewal,
	)
	return settled.add(charged), err
}

func (u *subscriptionUC) DeactivateExpired(ctx context.Context) (SweepReport, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.DeactivateExpired")()
	now := u.now()
	return u.sweep(ctx, "expiry",
		func(ctx context.Context) ([]*model.Subscription, error) {
			return u.subs.ListExpired(ctx, repository.NoTX, now, u.sched.BatchSize)
		},
		func(ctx context.Context, id string) (itemResult, error) {
			return u.expireOne(ctx, id, now)
		},
		func(string) {},
	)
}

// sweep pages through candidates, each item in its own transaction. Items that
// fail stay eligible and are not retried within the same run.
func (u *subscriptionUC) sweep(
	ctx context.Context,
	job string,
	list func(context.Context) ([]*model.Subscription, error),
	process func(context.Context, string) (itemResult, error),
	observe func(result string),
) (SweepReport, error) {
	var rep SweepReport
	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		batch, err := list(ctx)
		if err != nil {
			return rep, fmt.Errorf("list %s candidates: %w", job, err)
		}
		progressed := false
		for _, s := range batch {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			progressed = true
			rep.Processed++

			res, err := process(ctx, s.ID)
			switch {
			case err != nil:
				rep.Failed++
				observe("failed")
				u.log.Error().Err(err).Str("job", job).Str("subscription_id", s.ID).Str("student_id", s.StudentID).Msg("sweep item failed")
			case res == itemSkipped:
				rep.Skipped++
				observe("skipped")
			case res == itemPending:
				rep.Pending++
				observe("pending")
			case res == itemDeclined:
				rep.Failed++
				observe("declined")
			default:
				rep.Succeeded++
				observe("succeeded")
			}
		}
		if !progressed || len(batch) < u.sched.BatchSize {
			break
		}
	}
	u.log.Info().Str("job", job).Int("processed", rep.Processed).Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).Int("skipped", rep.Skipped).Int("pending", rep.Pending).Msg("sweep finished")
	return rep, nil
}

func (u *subscriptionUC) renewOne(ctx context.Context, id string, horizon time.Time) (itemResult, error) {
	var (
		renewed *model.Subscription
		payment *model.Payment
		result  = itemSkipped
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		// re-checked under the row lock; a concurrent cancel wins
		if !s.DueForRenewal(horizon) {
			return nil
		}
		req := model.PaymentRequest{
			StudentID:      s.StudentID,
			Amount:         s.Price,
			Currency:       s.Currency,
			Method:         s.PaymentMethod,
			SubscriptionID: s.ID,
			Description:    fmt.Sprintf("%s subscription renewal", s.Type),
			Metadata:       map[string]interface{}{"subscription_id": s.ID, "renewal": true},
			OffSession:     true,
		}
		if s.PaymentMethodRef != nil {
			req.CardToken = *s.PaymentMethodRef
		}
		if s.CustomerRef != nil {
			req.CustomerRef = *s.CustomerRef
		}
		res, err := u.payments.CreatePayment(ctx, req)
		if err != nil {
			return domain.SubscriptionError(err, "renewal charge for subscription %s failed", s.ID)
		}
		if result, err = applyRenewalPayment(s, res.Payment, u.now()); err != nil {
			return err
		}
		if err := u.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		renewed, payment = s, res.Payment
		return nil
	})
	if err != nil {
		return itemDone, err
	}
	if renewed != nil {
		u.announceRenewal(ctx, renewed, payment, result)
	}
	return result, nil
}

// settleOne finishes a renewal whose charge was still in flight when it was made.
func (u *subscriptionUC) settleOne(ctx context.Context, id string) (itemResult, error) {
	var (
		settled *model.Subscription
		payment *model.Payment
		result  = itemSkipped
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !s.IsActive || s.PendingPaymentID == nil {
			return nil
		}
		p, err := u.payments.GetPayment(ctx, *s.PendingPaymentID)
		if err != nil {
			return err
		}
		if result, err = applyRenewalPayment(s, p, u.now()); err != nil {
			return err
		}
		// saved even while pending so the listing moves on to older entries
		if err := u.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		settled, payment = s, p
		return nil
	})
	if err != nil {
		return itemDone, err
	}
	if settled != nil && result != itemPending {
		u.announceRenewal(ctx, settled, payment, result)
	}
	return result, nil
}

// applyRenewalPayment moves s according to the status of its renewal charge.
// Only a completed charge extends the period.
func applyRenewalPayment(s *model.Subscription, p *model.Payment, now time.Time) (itemResult, error) {
	switch p.Status {
	case model.PaymentStatusCompleted:
		if err := s.Renew(p.ID, now); err != nil {
			return itemDone, err
		}
		return itemDone, nil
	case model.PaymentStatusPending, model.PaymentStatusProcessing:
		s.AwaitRenewal(p.ID, now)
		return itemPending, nil
	default:
		s.RenewalFailed(now)
		return itemDeclined, nil
	}
}

func (u *subscriptionUC) announceRenewal(ctx context.Context, s *model.Subscription, p *model.Payment, result itemResult) {
	switch result {
	case itemDone:
		u.log.Info().Str("subscription_id", s.ID).Str("payment_id", p.ID).Time("end_date", s.EndDate).Msg("subscription renewed")
		metrics.IncSubscription("renewed", string(s.Type))
		publish(ctx, u.events, u.log, adapter.EventSubscriptionRenewed, subscriptionEvent(s, s.UpdatedAt))
	case itemPending:
		u.log.Info().Str("subscription_id", s.ID).Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("renewal charge awaiting settlement")
	case itemDeclined:
		u.log.Warn().Str("subscription_id", s.ID).Str("payment_id", p.ID).Str("status", string(p.Status)).
			Time("usable_until", s.EndDate).Msg("renewal charge declined; auto-renew stopped")
		metrics.IncSubscription("renewal_failed", string(s.Type))
		publish(ctx, u.events, u.log, adapter.EventSubscriptionRenewalFailed, subscriptionEvent(s, s.UpdatedAt))
	}
}

func (u *subscriptionUC) expireOne(ctx context.Context, id string, now time.Time) (itemResult, error) {
	var expired *model.Subscription
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !s.Expired(now) {
			return nil
		}
		s.Deactivate(now)
		if err := u.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		expired = s
		return nil
	})
	if err != nil {
		return itemDone, err
	}
	if expired == nil {
		return itemSkipped, nil
	}
	u.log.Info().Str("subscription_id", expired.ID).Str("student_id", expired.StudentID).Msg("subscription expired")
	metrics.IncExpired()
	publish(ctx, u.events, u.log, adapter.EventSubscriptionExpired, subscriptionEvent(expired, now))
	return itemDone, nil
}
