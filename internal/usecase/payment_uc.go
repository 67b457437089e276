package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lms-payments/internal/config"
	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
	"lms-payments/internal/domain/ports/repository"
	"lms-payments/internal/infra/logging"
	"lms-payments/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PaymentResult is a created payment plus what the client needs to finish it.
type PaymentResult struct {
	Payment      *model.Payment
	ClientSecret string
	RedirectURL  string
}

// WebhookOutcome says what a webhook delivery did.
type WebhookOutcome string

const (
	WebhookApplied    WebhookOutcome = "applied"
	WebhookDuplicate  WebhookOutcome = "duplicate"
	WebhookIgnored    WebhookOutcome = "ignored"
	WebhookNotApplied WebhookOutcome = "not_applied" // recorded; can never apply from the observed status
)

type PaymentUseCase interface {
	CreatePayment(ctx context.Context, req model.PaymentRequest) (*PaymentResult, error)
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	ListByStudent(ctx context.Context, studentID string) ([]*model.Payment, error)
	// RefundPayment refunds amount, or the full amount when nil.
	RefundPayment(ctx context.Context, id string, amount *decimal.Decimal) (*model.Payment, error)
	HandleWebhook(ctx context.Context, gateway string, payload []byte, header http.Header) (WebhookOutcome, error)
	// Statistics summarizes payments created in [from, to).
	Statistics(ctx context.Context, from, to time.Time) (*model.PaymentStatistics, error)
}

type paymentUC struct {
	payments  repository.PaymentRepository
	webhooks  repository.WebhookEventRepository
	discounts DiscountUseCase
	invoices  InvoiceSyncer
	gateways  adapter.GatewayRegistry
	tm        repository.TransactionManager
	events    adapter.EventPublisher
	cfg       config.PaymentConfig
	feeRate   decimal.Decimal
	log       *zerolog.Logger
	now       func() time.Time
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	webhooks repository.WebhookEventRepository,
	discounts DiscountUseCase,
	invoices InvoiceSyncer,
	gateways adapter.GatewayRegistry,
	tm repository.TransactionManager,
	events adapter.EventPublisher,
	cfg config.PaymentConfig,
	logger *zerolog.Logger,
) *paymentUC {
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		payments:  payments,
		webhooks:  webhooks,
		discounts: discounts,
		invoices:  invoices,
		gateways:  gateways,
		tm:        tm,
		events:    events,
		cfg:       cfg,
		feeRate:   cfg.FeeRate(),
		log:       &l,
		now:       time.Now,
	}
}

func (u *paymentUC) CreatePayment(ctx context.Context, req model.PaymentRequest) (*PaymentResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CreatePayment")()
	log := logging.With(ctx, u.log)

	if req.Currency == "" {
		req.Currency = u.cfg.DefaultCurrency
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// resolved up front so an unsupported method leaves no record and burns no discount use
	gw, err := u.gateways.ForMethod(req.Method)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := u.now()
	var p *model.Payment
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		final := req.Amount
		if req.DiscountCode != "" {
			app, err := u.discounts.ApplyTx(ctx, tx, req.DiscountCode, req.Amount, req.Currency, req.StudentID, id)
			if err != nil {
				return err
			}
			final = app.FinalAmount
			req.DiscountCode = app.Discount.Code
		}
		np, err := model.NewPayment(id, req, final, u.feeRate, now)
		if err != nil {
			return err
		}
		np.Gateway = gw.Name()
		if final.IsZero() {
			if _, err := np.Transition(model.PaymentStatusCompleted, now); err != nil {
				return err
			}
		}
		if err := u.payments.Save(ctx, tx, np); err != nil {
			return err
		}
		if err := u.syncInvoice(ctx, tx, np); err != nil {
			return err
		}
		p = np
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("payment_id", p.ID).Str("transaction_id", p.TransactionID).Str("gateway", p.Gateway).
		Str("amount", p.Amount.String()).Str("currency", p.Currency).Msg("payment created")
	metrics.IncPayment(string(model.PaymentStatusPending))
	publish(ctx, u.events, u.log, adapter.EventPaymentCreated, paymentEvent(p, now))

	if p.Status == model.PaymentStatusCompleted {
		// fully discounted; nothing to charge
		metrics.IncPayment(string(p.Status))
		publish(ctx, u.events, u.log, adapter.EventPaymentCompleted, paymentEvent(p, now))
		return &PaymentResult{Payment: p}, nil
	}

	res, err := u.charge(ctx, gw, p, &req)
	if err != nil {
		log.Warn().Err(err).Str("payment_id", p.ID).Msg("gateway charge failed; payment left pending")
		return nil, err
	}

	updated, changed, err := u.recordCharge(ctx, p.ID, res)
	if err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Str("external_ref", res.ExternalRef).Msg("failed to record gateway result")
		return nil, domain.PaymentError(err, "payment %s was submitted but its result could not be recorded", p.ID)
	}
	if changed {
		log.Info().Str("payment_id", updated.ID).Str("status", string(updated.Status)).Msg("payment status changed")
		metrics.IncPayment(string(updated.Status))
		if updated.Status == model.PaymentStatusCompleted {
			metrics.AddPaymentRevenue(updated.Currency, updated.Amount)
		}
		publish(ctx, u.events, u.log, paymentStatusEvent(updated.Status), paymentEvent(updated, u.now()))
	}
	return &PaymentResult{Payment: updated, ClientSecret: res.ClientSecret, RedirectURL: res.RedirectURL}, nil
}

// charge calls the gateway under the configured timeout.
func (u *paymentUC) charge(ctx context.Context, gw adapter.PaymentGateway, p *model.Payment, req *model.PaymentRequest) (*adapter.ChargeResult, error) {
	cctx, cancel := u.gatewayContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := gw.ProcessPayment(cctx, p, req)
	metrics.ObserveGateway(gw.Name(), "charge", start, err)
	if err != nil {
		return nil, u.gatewayError(cctx, err, gw.Name(), "charge", p.ID)
	}
	return res, nil
}

// recordCharge applies the gateway's answer to the locked row. A webhook may
// have advanced the payment already; in that case only the reference is kept.
func (u *paymentUC) recordCharge(ctx context.Context, id string, res *adapter.ChargeResult) (*model.Payment, bool, error) {
	var (
		out     *model.Payment
		changed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		now := u.now()
		if p.ExternalRef == nil && res.ExternalRef != "" {
			ref := res.ExternalRef
			p.ExternalRef = &ref
		}
		if res.ProcessingFee.IsPositive() {
			p.SetProcessingFee(res.ProcessingFee)
		}
		changed, err = p.Transition(res.Status, now)
		if err != nil {
			u.log.Debug().Str("payment_id", p.ID).Str("status", string(p.Status)).Str("gateway_status", string(res.Status)).Msg("gateway status behind stored status")
		}
		if changed && p.Status == model.PaymentStatusFailed {
			reason := "declined by gateway"
			p.FailureReason = &reason
		}
		p.UpdatedAt = now
		if err := u.payments.Save(ctx, tx, p); err != nil {
			return err
		}
		if changed {
			if err := u.syncInvoice(ctx, tx, p); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, changed, err
}

func (u *paymentUC) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.GetPayment")()
	p, err := u.payments.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.PaymentError(domain.ErrNotFound, "payment %s not found", id)
	}
	return p, err
}

func (u *paymentUC) ListByStudent(ctx context.Context, studentID string) ([]*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ListByStudent")()
	if studentID == "" {
		return nil, domain.ValidationError("studentId is required")
	}
	return u.payments.ListByStudent(ctx, repository.NoTX, studentID)
}

func (u *paymentUC) RefundPayment(ctx context.Context, id string, amount *decimal.Decimal) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.RefundPayment")()
	log := logging.With(ctx, u.log)

	var out *model.Payment
	// the row stays locked across the gateway call so concurrent refunds serialize
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.PaymentError(domain.ErrNotFound, "payment %s not found", id)
			}
			return err
		}
		refund := p.Amount
		if amount != nil {
			refund = *amount
		}
		if err := p.ValidateRefund(refund); err != nil {
			return err
		}
		gw, err := u.gateways.ForName(p.Gateway)
		if err != nil {
			return err
		}

		cctx, cancel := u.gatewayContext(ctx)
		defer cancel()
		start := time.Now()
		res, err := gw.RefundPayment(cctx, adapter.RefundRequest{
			PaymentID:      p.ID,
			ExternalRef:    *p.ExternalRef,
			Amount:         refund,
			Currency:       p.Currency,
			IdempotencyKey: "refund-" + p.ID,
			Reason:         "requested_by_customer",
		})
		metrics.ObserveGateway(gw.Name(), "refund", start, err)
		metrics.IncRefund(gw.Name(), err)
		if err != nil {
			return u.gatewayError(cctx, err, gw.Name(), "refund", p.ID)
		}

		if err := p.MarkRefunded(refund, u.now()); err != nil {
			return err
		}
		if err := u.payments.Save(ctx, tx, p); err != nil {
			return err
		}
		if err := u.syncInvoice(ctx, tx, p); err != nil {
			return err
		}
		log.Info().Str("payment_id", p.ID).Str("refund_id", res.ID).Str("amount", refund.String()).Msg("payment refunded")
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPayment(string(out.Status))
	publish(ctx, u.events, u.log, adapter.EventPaymentRefunded, paymentEvent(out, u.now()))
	return out, nil
}

func (u *paymentUC) HandleWebhook(ctx context.Context, gateway string, payload []byte, header http.Header) (WebhookOutcome, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.HandleWebhook")()
	log := logging.With(ctx, u.log)

	gw, err := u.gateways.ForName(gateway)
	if err != nil {
		return "", err
	}
	evt, err := gw.VerifyAndDecode(ctx, payload, header)
	if err != nil {
		metrics.IncWebhook(gw.Name(), "", "invalid")
		log.Warn().Err(err).Str("gateway", gw.Name()).Msg("webhook rejected")
		return "", err
	}
	if evt.Kind == model.WebhookUnknown {
		metrics.IncWebhook(gw.Name(), evt.EventType, string(WebhookIgnored))
		log.Info().Str("gateway", gw.Name()).Str("event_type", evt.EventType).Msg("ignoring unhandled webhook event")
		return WebhookIgnored, nil
	}
	target, _ := evt.Kind.TargetStatus()

	var (
		outcome WebhookOutcome
		applied *model.Payment
	)
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.findForEvent(ctx, tx, gw.Name(), evt)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				outcome = WebhookIgnored
				return nil
			}
			return err
		}

		now := u.now()
		apply := p.Status.CanTransitionTo(target)
		if apply && evt.Kind == model.WebhookPaymentSucceeded && !evt.Amount.IsZero() &&
			(!evt.Amount.Equal(p.Amount) || (evt.Currency != "" && evt.Currency != p.Currency)) {
			log.Error().Str("payment_id", p.ID).Str("expected", p.Amount.String()+" "+p.Currency).
				Str("reported", evt.Amount.String()+" "+evt.Currency).Msg("webhook amount does not match payment")
			apply = false
		} else if !apply && p.Status.CanReach(target) {
			// left unrecorded so the provider's redelivery can apply it later
			return domain.PaymentError(domain.ErrEventOutOfOrder, "payment %s is %s; %s must wait", p.ID, p.Status, evt.Kind)
		}

		ref := evt.ExternalRef
		if ref == "" && p.ExternalRef != nil {
			ref = *p.ExternalRef
		}
		if ref == "" {
			ref = p.ID
		}
		fresh, err := u.webhooks.Record(ctx, tx, &model.ProcessedWebhook{
			Gateway:     gw.Name(),
			ExternalRef: ref,
			EventType:   string(evt.Kind),
			EventID:     evt.EventID,
			PaymentID:   p.ID,
			Applied:     apply,
			ReceivedAt:  now,
		})
		if err != nil {
			return err
		}
		if !fresh {
			outcome = WebhookDuplicate
			return nil
		}
		if !apply {
			outcome = WebhookNotApplied
			return nil
		}

		if p.ExternalRef == nil && evt.ExternalRef != "" {
			er := evt.ExternalRef
			p.ExternalRef = &er
		}
		switch evt.Kind {
		case model.WebhookChargeRefunded:
			amt := evt.Amount
			if !amt.IsPositive() {
				amt = p.Amount
			}
			err = p.MarkRefunded(amt, now)
		default:
			_, err = p.Transition(target, now)
		}
		if err != nil {
			return err
		}
		if evt.FailureReason != "" && p.Status == model.PaymentStatusFailed {
			reason := evt.FailureReason
			p.FailureReason = &reason
		}
		if err := u.payments.Save(ctx, tx, p); err != nil {
			return err
		}
		if err := u.syncInvoice(ctx, tx, p); err != nil {
			return err
		}
		outcome = WebhookApplied
		applied = p
		return nil
	})
	if errors.Is(err, domain.ErrEventOutOfOrder) {
		metrics.IncWebhook(gw.Name(), string(evt.Kind), "deferred")
		log.Info().Err(err).Str("gateway", gw.Name()).Str("external_ref", evt.ExternalRef).Msg("webhook deferred for redelivery")
		return "", err
	}
	if err != nil {
		metrics.IncWebhook(gw.Name(), string(evt.Kind), "error")
		log.Error().Err(err).Str("gateway", gw.Name()).Str("external_ref", evt.ExternalRef).Msg("webhook processing failed")
		return "", err
	}

	metrics.IncWebhook(gw.Name(), string(evt.Kind), string(outcome))
	ev := log.Info().Str("gateway", gw.Name()).Str("event_type", evt.EventType).Str("external_ref", evt.ExternalRef).Str("outcome", string(outcome))
	if applied != nil {
		ev = ev.Str("payment_id", applied.ID).Str("status", string(applied.Status))
	}
	ev.Msg("webhook processed")

	if applied != nil {
		metrics.IncPayment(string(applied.Status))
		if applied.Status == model.PaymentStatusCompleted {
			metrics.AddPaymentRevenue(applied.Currency, applied.Amount)
		}
		publish(ctx, u.events, u.log, paymentStatusEvent(applied.Status), paymentEvent(applied, u.now()))
	}
	return outcome, nil
}

func (u *paymentUC) Statistics(ctx context.Context, from, to time.Time) (*model.PaymentStatistics, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Statistics")()
	if !to.After(from) {
		return nil, domain.ValidationError("statistics window must end after it starts")
	}
	rows, err := u.payments.Aggregate(ctx, repository.NoTX, from, to)
	if err != nil {
		return nil, err
	}
	return model.BuildPaymentStatistics(from, to, rows), nil
}

// syncInvoice keeps the invoice in the same transaction as the payment change.
func (u *paymentUC) syncInvoice(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if u.invoices == nil {
		return nil
	}
	_, err := u.invoices.SyncTx(ctx, tx, p)
	return err
}

// findForEvent locks the payment an event refers to, by external reference
// first and then by the internal id echoed in provider metadata.
func (u *paymentUC) findForEvent(ctx context.Context, tx repository.Tx, gateway string, evt *model.WebhookEvent) (*model.Payment, error) {
	if evt.ExternalRef != "" {
		p, err := u.payments.FindByExternalRef(ctx, tx, gateway, evt.ExternalRef)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if evt.PaymentID == "" {
		return nil, domain.ErrNotFound
	}
	if _, err := uuid.Parse(evt.PaymentID); err != nil {
		return nil, domain.ErrNotFound
	}
	p, err := u.payments.FindByID(ctx, tx, evt.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.Gateway != gateway {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (u *paymentUC) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.cfg.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.cfg.GatewayTimeout)
}

// gatewayError classifies a gateway failure. A deadline is retryable and never success.
func (u *paymentUC) gatewayError(cctx context.Context, err error, gateway, op, paymentID string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return domain.PaymentError(domain.ErrGatewayTimeout, "%s gateway timed out during %s of payment %s", gateway, op, paymentID)
	}
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.PaymentError(err, "%s gateway failed during %s of payment %s", gateway, op, paymentID)
}
