package usecase

import (
	"context"
	"errors"
	"strings"
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
var _ DiscountUseCase = (*discountUC)(nil)

// CreateDiscountInput is the administrative request for a new code.
type CreateDiscountInput struct {
	Code           string
	Type           model.DiscountType
	Value          decimal.Decimal
	StartDate      time.Time
	EndDate        time.Time
	MaxUses        *int
	MaxUsesPerUser int
}

// DiscountApplication is the outcome of a successful application.
type DiscountApplication struct {
	Discount    *model.Discount
	FinalAmount decimal.Decimal
	Currency    string
}

type DiscountUseCase interface {
	Create(ctx context.Context, in CreateDiscountInput) (*model.Discount, error)
	Get(ctx context.Context, code string) (*model.Discount, error)
	// Preview validates code for ownerID and prices amount without consuming a use.
	Preview(ctx context.Context, code string, amount decimal.Decimal, currency, ownerID string) (*DiscountApplication, error)
	// Apply validates code for ownerID and consumes one use in its own transaction.
	Apply(ctx context.Context, code string, amount decimal.Decimal, currency, ownerID string) (*DiscountApplication, error)
	// ApplyTx is Apply inside the caller's transaction; paymentID links the redemption.
	ApplyTx(ctx context.Context, tx repository.Tx, code string, amount decimal.Decimal, currency, ownerID, paymentID string) (*DiscountApplication, error)
}

type discountUC struct {
	discounts repository.DiscountRepository
	tm        repository.TransactionManager
	limiter   adapter.RateLimiter
	cfg       config.DiscountConfig
	log       *zerolog.Logger
	now       func() time.Time
}

// NewDiscountUseCase builds the discount engine. limiter may be nil.
func NewDiscountUseCase(discounts repository.DiscountRepository, tm repository.TransactionManager, limiter adapter.RateLimiter, cfg config.DiscountConfig, logger *zerolog.Logger) *discountUC {
	l := logger.With().Str("component", "DiscountUC").Logger()
	return &discountUC{
		discounts: discounts,
		tm:        tm,
		limiter:   limiter,
		cfg:       cfg,
		log:       &l,
		now:       time.Now,
	}
}

func (u *discountUC) Create(ctx context.Context, in CreateDiscountInput) (*model.Discount, error) {
	defer logging.TraceDuration(u.log, "DiscountUC.Create")()

	d, err := model.NewDiscount(uuid.NewString(), strings.ToUpper(in.Code), in.Type, in.Value, in.StartDate, in.EndDate, in.MaxUses, in.MaxUsesPerUser, u.now())
	if err != nil {
		return nil, err
	}
	if err := u.discounts.Create(ctx, repository.NoTX, d); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.DiscountError(domain.ErrAlreadyExists, "discount code %s already exists", d.Code)
		}
		return nil, err
	}
	u.log.Info().Str("code", d.Code).Str("type", string(d.Type)).Str("value", d.Value.String()).Msg("discount created")
	return d, nil
}

func (u *discountUC) Get(ctx context.Context, code string) (*model.Discount, error) {
	defer logging.TraceDuration(u.log, "DiscountUC.Get")()
	code = normalizeCode(code)
	d, err := u.discounts.FindByCode(ctx, repository.NoTX, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.DiscountError(domain.ErrNotFound, "discount code %s not found", code)
	}
	return d, err
}

func (u *discountUC) Preview(ctx context.Context, code string, amount decimal.Decimal, currency, ownerID string) (*DiscountApplication, error) {
	defer logging.TraceDuration(u.log, "DiscountUC.Preview")()

	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ValidationError("discount code is empty")
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.ValidationError("studentId is required")
	}
	if !amount.IsPositive() {
		return nil, domain.ValidationError("amount must be greater than zero")
	}
	if currency == "" {
		currency = model.DefaultCurrency
	}
	currency, err := model.NormalizeCurrency(currency)
	if err != nil {
		return nil, domain.ValidationError("currency must be a 3-letter code")
	}
	if err := u.checkAttempts(ctx, ownerID); err != nil {
		metrics.IncDiscount("rate_limited")
		return nil, err
	}
	d, err := u.discounts.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncDiscount("not_found")
			return nil, domain.DiscountError(nil, "discount code %s not found", code)
		}
		return nil, err
	}
	if err := u.checkEligible(ctx, repository.NoTX, d, ownerID); err != nil {
		return nil, err
	}
	final := d.Apply(amount, currency)
	metrics.IncDiscount("previewed")
	return &DiscountApplication{Discount: d, FinalAmount: final, Currency: currency}, nil
}

func (u *discountUC) Apply(ctx context.Context, code string, amount decimal.Decimal, currency, ownerID string) (*DiscountApplication, error) {
	defer logging.TraceDuration(u.log, "DiscountUC.Apply")()

	var out *DiscountApplication
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = u.ApplyTx(ctx, tx, code, amount, currency, ownerID, "")
		return err
	})
	return out, err
}

func (u *discountUC) ApplyTx(ctx context.Context, tx repository.Tx, code string, amount decimal.Decimal, currency, ownerID, paymentID string) (*DiscountApplication, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ValidationError("discount code is empty")
	}
	if err := u.checkAttempts(ctx, ownerID); err != nil {
		metrics.IncDiscount("rate_limited")
		return nil, err
	}

	// FindByCode locks the row inside tx, so the checks below and the
	// increment are one unit against concurrent applications.
	d, err := u.discounts.FindByCode(ctx, tx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncDiscount("not_found")
			return nil, domain.DiscountError(nil, "discount code %s not found", code)
		}
		return nil, err
	}
	if err := u.checkEligible(ctx, tx, d, ownerID); err != nil {
		return nil, err
	}
	now := u.now()
	ok, err := u.discounts.IncrementUsage(ctx, tx, d.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.IncDiscount("exhausted")
		return nil, domain.DiscountError(domain.ErrInvalidState, "discount code %s usage limit reached", code)
	}
	d.UsesCount++

	r := &model.DiscountRedemption{ID: uuid.NewString(), DiscountID: d.ID, OwnerID: ownerID, RedeemedAt: now}
	if paymentID != "" {
		r.PaymentID = &paymentID
	}
	if err := u.discounts.SaveRedemption(ctx, tx, r); err != nil {
		return nil, err
	}

	final := d.Apply(amount, currency)
	metrics.IncDiscount("applied")
	u.log.Debug().Str("code", code).Str("owner_id", ownerID).Str("amount", amount.String()).Str("final", final.String()).Msg("discount applied")
	return &DiscountApplication{Discount: d, FinalAmount: final, Currency: currency}, nil
}

// checkEligible applies the validity window, the global cap and the per-owner cap.
func (u *discountUC) checkEligible(ctx context.Context, tx repository.Tx, d *model.Discount, ownerID string) error {
	if err := d.CheckValid(u.now()); err != nil {
		metrics.IncDiscount("invalid")
		return err
	}
	used, err := u.discounts.CountRedemptions(ctx, tx, d.ID, ownerID)
	if err != nil {
		return err
	}
	if used >= d.MaxUsesPerUser {
		metrics.IncDiscount("per_user_cap")
		return domain.DiscountError(domain.ErrInvalidState, "discount code %s already used the maximum number of times", d.Code)
	}
	return nil
}

// checkAttempts throttles code guessing per owner. A limiter outage does not block payments.
func (u *discountUC) checkAttempts(ctx context.Context, ownerID string) error {
	if u.limiter == nil || u.cfg.AttemptLimit <= 0 {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, "discount-attempts:"+ownerID, u.cfg.AttemptLimit, u.cfg.AttemptWindow)
	if err != nil {
		u.log.Warn().Err(err).Msg("discount rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.DiscountError(domain.ErrRateLimited, "too many discount attempts, try again later")
	}
	return nil
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
